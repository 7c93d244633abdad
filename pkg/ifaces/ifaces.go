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

// Package ifaces checks the presence of network interfaces on the host.
package ifaces

import (
	"github.com/vishvananda/netlink"

	"github.com/opennetworklab/p4ptf/pkg/private/serrors"
)

// Inventory lists the names of the network interfaces present on the host.
type Inventory func() ([]string, error)

// NetlinkInventory queries the kernel link list via netlink.
func NetlinkInventory() ([]string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, serrors.Wrap("listing links", err)
	}
	names := make([]string, 0, len(links))
	for _, link := range links {
		names = append(names, link.Attrs().Name)
	}
	return names, nil
}

// Checker checks that required interfaces exist. The zero value uses the
// netlink inventory.
type Checker struct {
	Inventory Inventory
}

// Missing returns the subset of required interface names that are not
// present on the host. The query is read-only.
func (c Checker) Missing(required []string) ([]string, error) {
	inventory := c.Inventory
	if inventory == nil {
		inventory = NetlinkInventory
	}
	names, err := inventory()
	if err != nil {
		return nil, err
	}
	present := make(map[string]struct{}, len(names))
	for _, name := range names {
		present[name] = struct{}{}
	}
	var missing []string
	for _, name := range required {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}
