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

// ptfrun pushes a forwarding pipeline configuration to a P4Runtime device
// and runs PTF tests against it.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/opennetworklab/p4ptf/pkg/bmv2"
	"github.com/opennetworklab/p4ptf/pkg/log"
	"github.com/opennetworklab/p4ptf/pkg/p4rt"
	"github.com/opennetworklab/p4ptf/pkg/portmap"
	"github.com/opennetworklab/p4ptf/pkg/private/serrors"
	"github.com/opennetworklab/p4ptf/pkg/ptf"
)

const (
	deviceBMv2   = "bmv2"
	deviceTofino = "tofino"

	// cpuPort is the fixed CPU port of the emulated switch.
	cpuPort = 255
)

// Exit codes of the driver.
const (
	exitSuccess       = 0
	exitMissingPrereq = 1
	exitConfigFailed  = 2
	exitTestsFailed   = 3
)

var (
	device        string
	p4infoPath    string
	bmv2JSON      string
	tofinoBin     string
	tofinoCtxJSON string
	grpcAddr      string
	deviceID      uint64
	ptfDir        string
	portMapPath   string
	platform      string
	skipConfig    bool
	skipTest      bool
	logConsole    string
)

func main() {
	addFlags()
	flag.Parse()
	os.Exit(realMain())
}

// deviceProcess is the lifecycle contract of the managed device emulator.
type deviceProcess interface {
	Start() error
	Kill()
}

// newSwitch constructs the device emulator. It is a variable so that tests
// can substitute the process.
var newSwitch = func(grpcPort int) deviceProcess {
	return &bmv2.Switch{
		DeviceID:    deviceID,
		PortMapPath: portMapPath,
		GRPCPort:    grpcPort,
		CPUPort:     cpuPort,
		LogLevel:    "debug",
	}
}

func realMain() int {
	logCfg := log.Config{
		Console: log.ConsoleConfig{
			Level:           logConsole,
			StacktraceLevel: "none",
			DisableCaller:   true,
		},
	}
	if err := log.Setup(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		flag.Usage()
		return exitMissingPrereq
	}
	defer log.HandlePanic()
	defer log.Flush()

	if err := validate(); err != nil {
		log.Error("Missing prerequisite", "err", err)
		return exitMissingPrereq
	}

	if device == deviceBMv2 {
		grpcPort, err := parsePort(grpcAddr)
		if err != nil {
			log.Error("Invalid gRPC address", "addr", grpcAddr, "err", err)
			return exitMissingPrereq
		}
		sw := newSwitch(grpcPort)
		if err := sw.Start(); err != nil {
			log.Error("Starting BMv2", "err", err)
			return exitMissingPrereq
		}
		// The switch is killed on every exit path, including panics.
		defer sw.Kill()
	}

	ctx := context.Background()

	if !skipConfig {
		if err := configure(ctx); err != nil {
			log.Error("Error during SetForwardingPipelineConfig", "err", err)
			return exitConfigFailed
		}
	}

	if !skipTest {
		if err := runTests(ctx); err != nil {
			log.Error("Error when running PTF tests", "err", err)
			return exitTestsFailed
		}
	}
	return exitSuccess
}

// configure performs a SetForwardingPipelineConfig on the device.
func configure(ctx context.Context) error {
	deviceConfig, err := buildDeviceConfig()
	if err != nil {
		return err
	}
	info, err := p4rt.LoadP4Info(p4infoPath)
	if err != nil {
		return err
	}
	client := &p4rt.Client{Addr: grpcAddr, DeviceID: deviceID}
	return client.SetPipelineConfig(ctx, info, deviceConfig)
}

func buildDeviceConfig() ([]byte, error) {
	if device == deviceBMv2 {
		return p4rt.BMv2DeviceConfig(bmv2JSON)
	}
	return p4rt.TofinoDeviceConfig("name", tofinoBin, tofinoCtxJSON)
}

// runTests runs the PTF tests in the configured directory. Unrecognized
// trailing arguments are forwarded verbatim.
func runTests(ctx context.Context) error {
	pm, err := portmap.Load(portMapPath)
	if err != nil {
		return err
	}
	runner := &ptf.Runner{
		TestDir:    ptfDir,
		P4InfoPath: p4infoPath,
		GRPCAddr:   grpcAddr,
		PortMap:    pm,
		Platform:   platform,
		ExtraArgs:  flag.Args(),
	}
	return runner.Run(ctx)
}

func validate() error {
	if !ptf.CheckExe() {
		return serrors.New("cannot find PTF executable", "exe", ptf.DefaultExe)
	}
	if ptfDir == "" {
		return serrors.New("ptf-dir not specified")
	}
	checks := []struct {
		name string
		path string
	}{
		{"p4info", p4infoPath},
	}
	switch device {
	case deviceBMv2:
		checks = append(checks, struct{ name, path string }{"bmv2-json", bmv2JSON})
	case deviceTofino:
		checks = append(checks,
			struct{ name, path string }{"tofino-bin", tofinoBin},
			struct{ name, path string }{"tofino-ctx-json", tofinoCtxJSON},
		)
	default:
		return serrors.New("unsupported device", "device", device)
	}
	checks = append(checks, struct{ name, path string }{"port-map", portMapPath})
	for _, check := range checks {
		if check.path == "" {
			return serrors.New("flag not specified", "flag", check.name)
		}
		if _, err := os.Stat(check.path); err != nil {
			return serrors.New("file not found", "flag", check.name, "file", check.path)
		}
	}
	return nil
}

func parsePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}

func addFlags() {
	flag.StringVar(&device, "device", "",
		"Target device (tofino|bmv2)")
	flag.StringVar(&p4infoPath, "p4info", "",
		"Location of p4info proto in text format")
	flag.StringVar(&bmv2JSON, "bmv2-json", "",
		"Location of BMv2 JSON output from p4c (if target is bmv2)")
	flag.StringVar(&tofinoBin, "tofino-bin", "",
		"Location of Tofino .bin output from p4c (if target is tofino)")
	flag.StringVar(&tofinoCtxJSON, "tofino-ctx-json", "",
		"Location of Tofino context.json output from p4c (if target is tofino)")
	flag.StringVar(&grpcAddr, "grpc-addr", "localhost:50051",
		"Address to use to connect to the P4Runtime server")
	flag.Uint64Var(&deviceID, "device-id", 0,
		"Device id for the device under test")
	flag.StringVar(&ptfDir, "ptf-dir", "",
		"Directory containing PTF tests")
	flag.StringVar(&portMapPath, "port-map", "",
		"Path to the JSON port mapping")
	flag.StringVar(&platform, "platform", "",
		"Target platform on which tests are run (if target is tofino)")
	flag.BoolVar(&skipConfig, "skip-config", false,
		"Assume a device with the pipeline already configured")
	flag.BoolVar(&skipTest, "skip-test", false,
		"Skip test execution (useful to perform only the pipeline configuration)")
	flag.StringVar(&logConsole, "log.console", "info",
		"Console logging level: debug|info|warn|error")
}
