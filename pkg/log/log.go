// Copyright 2021 Open Network Lab
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides leveled logging with key-value context on top of
// zap. The package-level functions log via the root logger, which must be
// initialized with Setup before use.
package log

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger describes the logger interface.
type Logger interface {
	New(ctx ...any) Logger
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Enabled(lvl Level) bool
}

// Level is the log level, mirroring zapcore.Level.
type Level = zapcore.Level

// Config configures the logging package.
type Config struct {
	// Console is the configuration for the console logging.
	Console ConsoleConfig
}

// ConsoleConfig configures the console logger.
type ConsoleConfig struct {
	// Level of console logging (defaults to info).
	Level string
	// StacktraceLevel sets the level at which stacktraces are attached,
	// "none" disables them.
	StacktraceLevel string
	// DisableCaller stops annotating logs with the calling function's file
	// name and line number.
	DisableCaller bool
}

type logger struct {
	logger *zap.Logger
}

// New creates a logger with the given context attached.
func New(ctx ...any) Logger {
	return Root().New(ctx...)
}

func (l *logger) New(ctx ...any) Logger {
	return &logger{logger: l.logger.With(convertCtx(ctx)...)}
}

func (l *logger) Debug(msg string, ctx ...any) {
	l.logger.Debug(msg, convertCtx(ctx)...)
}

func (l *logger) Info(msg string, ctx ...any) {
	l.logger.Info(msg, convertCtx(ctx)...)
}

func (l *logger) Error(msg string, ctx ...any) {
	l.logger.Error(msg, convertCtx(ctx)...)
}

func (l *logger) Enabled(lvl Level) bool {
	return l.logger.Core().Enabled(lvl)
}

func convertCtx(ctx []any) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(ctx[i]), ctx[i+1]))
	}
	return fields
}

var root = zap.NewNop()

// Setup configures the logging package based on the given config. It must
// be called before the root logger is used.
func Setup(cfg Config) error {
	level := zap.InfoLevel
	if cfg.Console.Level != "" {
		var err error
		level, err = zapcore.ParseLevel(cfg.Console.Level)
		if err != nil {
			return err
		}
	}
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		DisableCaller:     cfg.Console.DisableCaller,
		DisableStacktrace: true,
		Encoding:          "console",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	if cfg.Console.StacktraceLevel != "none" && cfg.Console.StacktraceLevel != "" {
		stacktrace, err := zapcore.ParseLevel(cfg.Console.StacktraceLevel)
		if err != nil {
			return err
		}
		zapCfg.DisableStacktrace = false
		l, err := zapCfg.Build(zap.AddStacktrace(stacktrace))
		if err != nil {
			return err
		}
		root = l
		return nil
	}
	l, err := zapCfg.Build()
	if err != nil {
		return err
	}
	root = l
	return nil
}

// Root returns the root logger. It is guaranteed to never return nil.
func Root() Logger {
	return &logger{logger: root}
}

// Debug logs at debug level via the root logger.
func Debug(msg string, ctx ...any) {
	Root().(*logger).logger.WithOptions(zap.AddCallerSkip(1)).Debug(msg, convertCtx(ctx)...)
}

// Info logs at info level via the root logger.
func Info(msg string, ctx ...any) {
	Root().(*logger).logger.WithOptions(zap.AddCallerSkip(1)).Info(msg, convertCtx(ctx)...)
}

// Error logs at error level via the root logger.
func Error(msg string, ctx ...any) {
	Root().(*logger).logger.WithOptions(zap.AddCallerSkip(1)).Error(msg, convertCtx(ctx)...)
}

// Flush writes the logs to the underlying buffer.
func Flush() {
	_ = root.Sync()
}

// HandlePanic catches panics and logs them. The panic is re-raised so that
// deferred cleanup in outer frames still observes it.
func HandlePanic() {
	if msg := recover(); msg != nil {
		root.Error("Panic", zap.Any("msg", msg), zap.Stack("stack"))
		_ = root.Sync()
		fmt.Fprintln(os.Stderr, "Panic:", msg)
		panic(msg)
	}
}
