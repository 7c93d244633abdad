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

// Package p4rt builds device configurations and installs forwarding
// pipeline configurations on P4Runtime devices.
package p4rt

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/opennetworklab/p4ptf/pkg/private/serrors"
)

// BMv2DeviceConfig builds the device config for BMv2. The payload is the
// compiled BMv2 JSON verbatim.
func BMv2DeviceConfig(jsonPath string) ([]byte, error) {
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, serrors.Wrap("reading BMv2 JSON", err, "file", jsonPath)
	}
	return raw, nil
}

// TofinoDeviceConfig builds the device config for Tofino. The payload is
// the concatenation of the program name, the compiled binary and the
// compiled context JSON, each segment preceded by its length as a 4-byte
// little-endian unsigned integer. The device expects this framing
// byte-for-byte.
func TofinoDeviceConfig(progName, binPath, ctxJSONPath string) ([]byte, error) {
	bin, err := os.ReadFile(binPath)
	if err != nil {
		return nil, serrors.Wrap("reading Tofino binary", err, "file", binPath)
	}
	ctxJSON, err := os.ReadFile(ctxJSONPath)
	if err != nil {
		return nil, serrors.Wrap("reading Tofino context JSON", err, "file", ctxJSONPath)
	}
	var buf bytes.Buffer
	for _, segment := range [][]byte{[]byte(progName), bin, ctxJSON} {
		var length [4]byte
		binary.LittleEndian.PutUint32(length[:], uint32(len(segment)))
		buf.Write(length[:])
		buf.Write(segment)
	}
	return buf.Bytes(), nil
}
