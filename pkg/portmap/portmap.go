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

// Package portmap loads the mapping between P4 ports and host network
// interfaces used by the test fixture.
package portmap

import (
	"encoding/json"
	"os"

	"github.com/opennetworklab/p4ptf/pkg/private/serrors"
)

// Entry maps a P4 port number to a host interface name.
type Entry struct {
	P4Port    int    `json:"p4_port"`
	IfaceName string `json:"iface_name"`
}

// Map is an ordered list of port mapping entries, in file order.
//
// P4 ports are assumed to be provided in increasing order starting at
// zero. This is not enforced; the literal p4_port values are used when
// interface flags are generated.
type Map []Entry

// Load reads the port map from the JSON file at path.
func Load(path string) (Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.Wrap("reading port map", err, "file", path)
	}
	var m Map
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, serrors.Wrap("parsing port map", err, "file", path)
	}
	return m, nil
}

// Interfaces returns the interface names in file order.
func (m Map) Interfaces() []string {
	ifaces := make([]string, 0, len(m))
	for _, e := range m {
		ifaces = append(ifaces, e.IfaceName)
	}
	return ifaces
}
