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

// Package ptf launches the PTF packet-test framework against a set of
// mapped network interfaces.
package ptf

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/opennetworklab/p4ptf/pkg/ifaces"
	"github.com/opennetworklab/p4ptf/pkg/log"
	"github.com/opennetworklab/p4ptf/pkg/portmap"
	"github.com/opennetworklab/p4ptf/pkg/private/serrors"
)

// DefaultExe is the PTF executable looked up on PATH.
const DefaultExe = "ptf"

// pythonPathEnv is the environment variable PTF uses to locate the base
// test helpers shipped alongside the driver binary.
const pythonPathEnv = "PYTHONPATH"

// CheckExe reports whether the PTF executable is available on PATH. This
// is a lookup only, no process is spawned.
func CheckExe() bool {
	_, err := exec.LookPath(DefaultExe)
	return err == nil
}

// Runner describes a single PTF invocation. The device must be running
// and configured with the appropriate P4 program before Run is called.
type Runner struct {
	// TestDir is the directory containing the PTF tests.
	TestDir string
	// P4InfoPath is forwarded to the tests via the test params.
	P4InfoPath string
	// GRPCAddr is forwarded to the tests via the test params.
	GRPCAddr string
	// PortMap defines the interfaces PTF sends and receives packets on.
	PortMap portmap.Map
	// Platform optionally names the target platform.
	Platform string
	// ExtraArgs are forwarded verbatim to PTF.
	ExtraArgs []string
	// Checker verifies interface presence. The zero value queries netlink.
	Checker ifaces.Checker
	// Exe overrides the PTF executable. Defaults to DefaultExe.
	Exe string
}

// Args returns the PTF argument list. The interface flags use the literal
// p4_port value of each entry, in port map order.
func (r *Runner) Args() []string {
	args := []string{"--test-dir", r.TestDir}
	for _, entry := range r.PortMap {
		args = append(args, "-i", fmt.Sprintf("%d@%s", entry.P4Port, entry.IfaceName))
	}
	params := fmt.Sprintf("p4info='%s';grpcaddr='%s'", r.P4InfoPath, r.GRPCAddr)
	if r.Platform != "" {
		params += fmt.Sprintf(";pltfm='%s'", r.Platform)
	}
	args = append(args, "--test-params="+params)
	args = append(args, r.ExtraArgs...)
	return args
}

// Run verifies that the mapped interfaces exist, spawns PTF and blocks
// until it exits. PTF output goes to stdout/stderr. A spawn failure or a
// nonzero exit is returned as an error.
func (r *Runner) Run(ctx context.Context) error {
	logger := log.FromCtx(ctx)
	missing, err := r.Checker.Missing(r.PortMap.Interfaces())
	if err != nil {
		return err
	}
	if len(missing) != 0 {
		return serrors.New("required interfaces missing",
			"ifaces", strings.Join(missing, ","))
	}

	exe := r.Exe
	if exe == "" {
		exe = DefaultExe
	}
	cmd := exec.CommandContext(ctx, exe, r.Args()...)
	// We want the PTF output on the console.
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = withBaseTestPath(os.Environ())
	logger.Info("Executing PTF", "cmd", cmd.String())
	if err := cmd.Run(); err != nil {
		return serrors.Wrap("running PTF tests", err)
	}
	return nil
}

// withBaseTestPath appends the directory of the running binary to
// PYTHONPATH, so that PTF finds base_test.py next to the driver.
func withBaseTestPath(environ []string) []string {
	exe, err := os.Executable()
	if err != nil {
		return environ
	}
	return appendEnvPath(environ, pythonPathEnv, filepath.Dir(exe))
}

func appendEnvPath(environ []string, key, dir string) []string {
	prefix := key + "="
	for i, kv := range environ {
		if strings.HasPrefix(kv, prefix) {
			environ[i] = kv + string(os.PathListSeparator) + dir
			return environ
		}
	}
	return append(environ, prefix+dir)
}
