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

package p4rt

import (
	"context"
	"os"

	p4configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/protobuf/encoding/prototext"

	"github.com/opennetworklab/p4ptf/pkg/grpc"
	"github.com/opennetworklab/p4ptf/pkg/log"
	"github.com/opennetworklab/p4ptf/pkg/private/serrors"
)

// Client installs forwarding pipeline configurations on a P4Runtime
// device. The zero Dialer defaults to a plaintext connection.
type Client struct {
	// Addr is the address of the P4Runtime server.
	Addr string
	// DeviceID identifies the device under test.
	DeviceID uint64
	// Dialer opens the client connection. Optional.
	Dialer grpc.Dialer
}

// LoadP4Info parses a p4info file in prototext format.
func LoadP4Info(path string) (*p4configv1.P4Info, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.Wrap("reading p4info", err, "file", path)
	}
	var info p4configv1.P4Info
	if err := prototext.Unmarshal(raw, &info); err != nil {
		return nil, serrors.Wrap("parsing p4info", err, "file", path)
	}
	return &info, nil
}

// SetPipelineConfig issues a single SetForwardingPipelineConfig call with
// the VERIFY_AND_COMMIT action, carrying the p4info and the encoded device
// config. The call blocks until the device answers or ctx expires. There
// are no retries.
func (c *Client) SetPipelineConfig(
	ctx context.Context,
	info *p4configv1.P4Info,
	deviceConfig []byte,
) error {

	logger := log.FromCtx(ctx)
	dialer := c.Dialer
	if dialer == nil {
		dialer = grpc.SimpleDialer{}
	}
	conn, err := dialer.Dial(c.Addr)
	if err != nil {
		return serrors.Wrap("dialing P4Runtime server", err, "addr", c.Addr)
	}
	defer conn.Close()
	stub := p4v1.NewP4RuntimeClient(conn)

	logger.Info("Sending P4 config", "addr", c.Addr, "device_id", c.DeviceID)
	req := &p4v1.SetForwardingPipelineConfigRequest{
		DeviceId: c.DeviceID,
		Action:   p4v1.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT,
		Config: &p4v1.ForwardingPipelineConfig{
			P4Info:         info,
			P4DeviceConfig: deviceConfig,
		},
	}
	if _, err := stub.SetForwardingPipelineConfig(ctx, req); err != nil {
		return serrors.Wrap("setting forwarding pipeline config", err,
			"addr", c.Addr, "device_id", c.DeviceID)
	}
	return nil
}
