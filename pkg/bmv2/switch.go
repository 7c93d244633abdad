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

// Package bmv2 manages the lifecycle of a local BMv2 software switch used
// as a stand-in for packet-processing hardware.
package bmv2

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/opennetworklab/p4ptf/pkg/log"
	"github.com/opennetworklab/p4ptf/pkg/portmap"
	"github.com/opennetworklab/p4ptf/pkg/private/serrors"
)

const (
	// TargetExe is the BMv2 target executable.
	TargetExe = "simple_switch_grpc"
	// runtimeFilePrefix is where the switch log and debug socket live.
	runtimeFilePrefix = "/tmp/bmv2-ptf"
	// startTimeout bounds the wait for the switch to open its gRPC port.
	startTimeout = 5 * time.Second
)

// CheckTarget reports whether the BMv2 target executable is available.
func CheckTarget() bool {
	_, err := exec.LookPath(TargetExe)
	return err == nil
}

// Switch supervises a simple_switch_grpc process. Start launches the
// process and blocks until its gRPC server accepts connections, Kill
// terminates it. Kill must be called on every exit path once Start
// succeeded.
type Switch struct {
	// DeviceID is the P4Runtime device id the switch announces.
	DeviceID uint64
	// PortMapPath is the JSON port map defining the dataplane interfaces.
	PortMapPath string
	// GRPCPort is the port the P4Runtime server listens on.
	GRPCPort int
	// CPUPort is the dataplane port connected to the CPU.
	CPUPort int
	// LogLevel is the BMv2 console log verbosity.
	LogLevel string

	mu    sync.Mutex
	cmd   *exec.Cmd
	logFd *os.File
}

// Start launches the switch and waits until its gRPC port is open. On
// failure the process is cleaned up before returning.
func (s *Switch) Start() error {
	if !CheckTarget() {
		return serrors.New("executable not found", "target", TargetExe)
	}
	pm, err := portmap.Load(s.PortMapPath)
	if err != nil {
		return err
	}
	args := s.args(pm)

	logFile := runtimeFilePrefix + ".log"
	fd, err := os.Create(logFile)
	if err != nil {
		return serrors.Wrap("creating switch log file", err, "file", logFile)
	}

	cmd := exec.Command(TargetExe, args...)
	cmd.Stdout = fd
	cmd.Stderr = fd
	log.Info("Starting BMv2", "cmd", cmd.String(), "log", logFile)
	if err := cmd.Start(); err != nil {
		fd.Close()
		return serrors.Wrap("starting switch", err)
	}
	s.mu.Lock()
	s.cmd = cmd
	s.logFd = fd
	s.mu.Unlock()

	if err := s.waitStart(); err != nil {
		s.Kill()
		return err
	}
	// We want to be notified if the process crashes.
	go func() {
		defer log.HandlePanic()
		s.watchdog()
	}()
	return nil
}

// args builds the switch command line from the port map. Dataplane
// interfaces are attached with their literal P4 port numbers.
func (s *Switch) args(pm portmap.Map) []string {
	args := []string{"--device-id", strconv.FormatUint(s.DeviceID, 10)}
	for _, entry := range pm {
		args = append(args, "-i", fmt.Sprintf("%d@%s", entry.P4Port, entry.IfaceName))
	}
	return append(args,
		"--debugger-addr", fmt.Sprintf("ipc://%s-debug.ipc", runtimeFilePrefix),
		"--log-console",
		"-L"+s.LogLevel,
		"--no-p4",
		// Target-specific options.
		"--",
		"--cpu-port", strconv.Itoa(s.CPUPort),
		"--grpc-server-addr", fmt.Sprintf("0.0.0.0:%d", s.GRPCPort),
	)
}

// waitStart waits for the switch to open its gRPC port, with a time-out
// just in case something hangs.
func (s *Switch) waitStart() error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.GRPCPort))
	deadline := time.Now().Add(startTimeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return serrors.New("switch did not start before timeout",
				"addr", addr, "timeout", startTimeout)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func (s *Switch) watchdog() {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.GRPCPort))
	for {
		if !s.running() {
			return
		}
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			if s.running() {
				log.Error("Switch process terminated unexpectedly", "target", TargetExe)
			}
			return
		}
		conn.Close()
		time.Sleep(time.Second)
	}
}

func (s *Switch) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// Kill terminates the switch process and closes the log file. It is safe
// to call multiple times and on a switch that never started.
func (s *Switch) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		log.Info("Killing BMv2")
		_ = s.cmd.Process.Kill()
		_, _ = s.cmd.Process.Wait()
		s.cmd = nil
	}
	if s.logFd != nil {
		s.logFd.Close()
		s.logFd = nil
	}
}
