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

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/opennetworklab/p4ptf/pkg/private/xtest"
)

// setFlags installs the given flag values for the duration of the test.
func setFlags(t *testing.T, values map[string]*string) {
	t.Helper()
	vars := map[string]*string{
		"device":          &device,
		"p4info":          &p4infoPath,
		"bmv2-json":       &bmv2JSON,
		"tofino-bin":      &tofinoBin,
		"tofino-ctx-json": &tofinoCtxJSON,
		"grpc-addr":       &grpcAddr,
		"ptf-dir":         &ptfDir,
		"port-map":        &portMapPath,
	}
	for name, v := range vars {
		old := *v
		t.Cleanup(func() { *v = old })
		*v = ""
		if val, ok := values[name]; ok {
			*v = *val
		}
	}
}

func str(s string) *string { return &s }

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	xtest.MustWriteExecutable(t, dir, "ptf", []byte("#!/bin/sh\nexit 0\n"))
	t.Setenv("PATH", dir)

	p4info := xtest.MustWriteFile(t, dir, "p4info.txt", nil)
	bmv2JSONFile := xtest.MustWriteFile(t, dir, "prog.json", nil)
	tofinoBinFile := xtest.MustWriteFile(t, dir, "prog.bin", nil)
	tofinoCtxFile := xtest.MustWriteFile(t, dir, "context.json", nil)
	portMap := xtest.MustWriteFile(t, dir, "port_map.json", []byte("[]"))

	testCases := map[string]struct {
		flags     map[string]*string
		assertErr assert.ErrorAssertionFunc
	}{
		"bmv2 complete": {
			flags: map[string]*string{
				"device":    str("bmv2"),
				"p4info":    &p4info,
				"bmv2-json": &bmv2JSONFile,
				"ptf-dir":   &dir,
				"port-map":  &portMap,
			},
			assertErr: assert.NoError,
		},
		"tofino complete": {
			flags: map[string]*string{
				"device":          str("tofino"),
				"p4info":          &p4info,
				"tofino-bin":      &tofinoBinFile,
				"tofino-ctx-json": &tofinoCtxFile,
				"ptf-dir":         &dir,
				"port-map":        &portMap,
			},
			assertErr: assert.NoError,
		},
		"unsupported device": {
			flags: map[string]*string{
				"device":   str("mellanox"),
				"p4info":   &p4info,
				"ptf-dir":  &dir,
				"port-map": &portMap,
			},
			assertErr: assert.Error,
		},
		"missing p4info": {
			flags: map[string]*string{
				"device":    str("bmv2"),
				"p4info":    str("/nonexistent/p4info.txt"),
				"bmv2-json": &bmv2JSONFile,
				"ptf-dir":   &dir,
				"port-map":  &portMap,
			},
			assertErr: assert.Error,
		},
		"tofino without context json": {
			flags: map[string]*string{
				"device":     str("tofino"),
				"p4info":     &p4info,
				"tofino-bin": &tofinoBinFile,
				"ptf-dir":    &dir,
				"port-map":   &portMap,
			},
			assertErr: assert.Error,
		},
		"missing port map": {
			flags: map[string]*string{
				"device":    str("bmv2"),
				"p4info":    &p4info,
				"bmv2-json": &bmv2JSONFile,
				"ptf-dir":   &dir,
			},
			assertErr: assert.Error,
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			setFlags(t, tc.flags)
			tc.assertErr(t, validate())
		})
	}
}

func TestValidateMissingPTF(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	setFlags(t, nil)
	assert.Error(t, validate())
}

func setBoolFlag(t *testing.T, v *bool, val bool) {
	t.Helper()
	old := *v
	t.Cleanup(func() { *v = old })
	*v = val
}

type fakeSwitch struct {
	startErr error
	started  bool
	killed   bool
}

func (s *fakeSwitch) Start() error {
	s.started = true
	return s.startErr
}

func (s *fakeSwitch) Kill() {
	s.killed = true
}

func setFakeSwitch(t *testing.T, sw deviceProcess) {
	t.Helper()
	old := newSwitch
	t.Cleanup(func() { newSwitch = old })
	newSwitch = func(int) deviceProcess { return sw }
}

type fakeP4RuntimeServer struct {
	p4v1.UnimplementedP4RuntimeServer
	setErr error

	mu    sync.Mutex
	calls int
}

func (s *fakeP4RuntimeServer) SetForwardingPipelineConfig(
	ctx context.Context,
	req *p4v1.SetForwardingPipelineConfigRequest,
) (*p4v1.SetForwardingPipelineConfigResponse, error) {

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.setErr != nil {
		return nil, s.setErr
	}
	return &p4v1.SetForwardingPipelineConfigResponse{}, nil
}

func (s *fakeP4RuntimeServer) configCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func startServer(t *testing.T, srv *fakeP4RuntimeServer) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := grpc.NewServer()
	p4v1.RegisterP4RuntimeServer(s, srv)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)
	return lis.Addr().String()
}

// tofinoFixture installs a complete tofino flag set, a fake ptf executable
// on PATH that records its invocation in a marker file, and returns the
// marker path. exitCode is the exit status of the fake ptf.
func tofinoFixture(t *testing.T, srvAddr string, exitCode int) string {
	t.Helper()
	dir := t.TempDir()
	marker := filepath.Join(dir, "ptf-ran")
	script := fmt.Sprintf("#!/bin/sh\n: > %s\nexit %d\n", marker, exitCode)
	xtest.MustWriteExecutable(t, dir, "ptf", []byte(script))
	t.Setenv("PATH", dir)

	p4info := xtest.MustWriteFile(t, dir, "p4info.txt",
		[]byte("pkg_info: { arch: \"tna\" }\n"))
	bin := xtest.MustWriteFile(t, dir, "prog.bin", []byte("AB"))
	ctxJSON := xtest.MustWriteFile(t, dir, "context.json", []byte("{}"))
	portMap := xtest.MustWriteFile(t, dir, "port_map.json", []byte("[]"))

	setFlags(t, map[string]*string{
		"device":          str("tofino"),
		"p4info":          &p4info,
		"tofino-bin":      &bin,
		"tofino-ctx-json": &ctxJSON,
		"grpc-addr":       &srvAddr,
		"ptf-dir":         &dir,
		"port-map":        &portMap,
	})
	return marker
}

func TestRealMainSkipAll(t *testing.T) {
	srv := &fakeP4RuntimeServer{}
	marker := tofinoFixture(t, startServer(t, srv), 0)
	setBoolFlag(t, &skipConfig, true)
	setBoolFlag(t, &skipTest, true)

	assert.Equal(t, exitSuccess, realMain())
	// Neither a remote call nor a subprocess spawn may have happened.
	assert.Equal(t, 0, srv.configCalls())
	assert.NoFileExists(t, marker)
}

func TestRealMainConfigFailed(t *testing.T) {
	srv := &fakeP4RuntimeServer{
		setErr: status.Error(codes.InvalidArgument, "pipeline rejected"),
	}
	marker := tofinoFixture(t, startServer(t, srv), 0)
	setBoolFlag(t, &skipConfig, false)
	setBoolFlag(t, &skipTest, true)

	assert.Equal(t, exitConfigFailed, realMain())
	assert.Equal(t, 1, srv.configCalls())
	assert.NoFileExists(t, marker)
}

func TestRealMainConfigFailedKillsSwitch(t *testing.T) {
	srv := &fakeP4RuntimeServer{
		setErr: status.Error(codes.Internal, "device unavailable"),
	}
	addr := startServer(t, srv)
	dir := t.TempDir()
	xtest.MustWriteExecutable(t, dir, "ptf", []byte("#!/bin/sh\nexit 0\n"))
	t.Setenv("PATH", dir)

	p4info := xtest.MustWriteFile(t, dir, "p4info.txt",
		[]byte("pkg_info: { arch: \"v1model\" }\n"))
	bmv2JSONFile := xtest.MustWriteFile(t, dir, "prog.json", []byte("{}"))
	portMap := xtest.MustWriteFile(t, dir, "port_map.json", []byte("[]"))
	setFlags(t, map[string]*string{
		"device":    str("bmv2"),
		"p4info":    &p4info,
		"bmv2-json": &bmv2JSONFile,
		"grpc-addr": &addr,
		"ptf-dir":   &dir,
		"port-map":  &portMap,
	})
	setBoolFlag(t, &skipConfig, false)
	setBoolFlag(t, &skipTest, true)
	sw := &fakeSwitch{}
	setFakeSwitch(t, sw)

	assert.Equal(t, exitConfigFailed, realMain())
	// The emulator must be released on the failure path.
	assert.True(t, sw.started)
	assert.True(t, sw.killed)
}

func TestRealMainSwitchStartFailure(t *testing.T) {
	srv := &fakeP4RuntimeServer{}
	addr := startServer(t, srv)
	dir := t.TempDir()
	xtest.MustWriteExecutable(t, dir, "ptf", []byte("#!/bin/sh\nexit 0\n"))
	t.Setenv("PATH", dir)

	p4info := xtest.MustWriteFile(t, dir, "p4info.txt", nil)
	bmv2JSONFile := xtest.MustWriteFile(t, dir, "prog.json", []byte("{}"))
	portMap := xtest.MustWriteFile(t, dir, "port_map.json", []byte("[]"))
	setFlags(t, map[string]*string{
		"device":    str("bmv2"),
		"p4info":    &p4info,
		"bmv2-json": &bmv2JSONFile,
		"grpc-addr": &addr,
		"ptf-dir":   &dir,
		"port-map":  &portMap,
	})
	sw := &fakeSwitch{startErr: os.ErrNotExist}
	setFakeSwitch(t, sw)

	assert.Equal(t, exitMissingPrereq, realMain())
	assert.Equal(t, 0, srv.configCalls())
}

func TestRealMainTestsFailed(t *testing.T) {
	srv := &fakeP4RuntimeServer{}
	marker := tofinoFixture(t, startServer(t, srv), 1)
	setBoolFlag(t, &skipConfig, true)
	setBoolFlag(t, &skipTest, false)

	assert.Equal(t, exitTestsFailed, realMain())
	assert.FileExists(t, marker)
}

func TestRealMainSuccess(t *testing.T) {
	srv := &fakeP4RuntimeServer{}
	marker := tofinoFixture(t, startServer(t, srv), 0)
	setBoolFlag(t, &skipConfig, false)
	setBoolFlag(t, &skipTest, false)

	assert.Equal(t, exitSuccess, realMain())
	assert.Equal(t, 1, srv.configCalls())
	assert.FileExists(t, marker)
}

func TestParsePort(t *testing.T) {
	port, err := parsePort("localhost:50051")
	require.NoError(t, err)
	assert.Equal(t, 50051, port)

	_, err = parsePort("localhost")
	assert.Error(t, err)
}
