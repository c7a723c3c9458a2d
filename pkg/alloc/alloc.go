// Package alloc assigns unique overlay addresses to nodes within a subnet.
//
// Allocation is a pure function of the (subnet, node set) pair: fixed
// addresses are validated first, then free nodes are assigned the remaining
// usable addresses in sorted-name order against ascending addresses. The same
// input always yields the same mapping, which keeps redeployments and config
// diffs stable.
package alloc

import (
	"net/netip"
	"sort"

	"meshforge/pkg/mesh"
)

// Assignment maps node names to their allocated overlay addresses.
type Assignment map[string]netip.Addr

// Addr returns the address assigned to a node.
func (a Assignment) Addr(name string) (netip.Addr, bool) {
	addr, ok := a[name]
	return addr, ok
}

// Names returns the assigned node names in sorted order.
func (a Assignment) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Allocate assigns every node a distinct usable address within the subnet.
//
// Fixed addresses are honored first: each must lie strictly inside the
// subnet's usable range and must not collide with another fixed address.
// Free nodes, sorted by name, then receive the remaining usable addresses in
// ascending order. The network and broadcast addresses are never assigned.
func Allocate(subnet mesh.Subnet, nodes []mesh.NodeSpec) (Assignment, error) {
	if len(nodes) > subnet.Capacity() {
		return nil, &CapacityExceededError{
			Subnet:   subnet,
			Nodes:    len(nodes),
			Capacity: subnet.Capacity(),
		}
	}

	sorted := make([]mesh.NodeSpec, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	assignment := make(Assignment, len(nodes))
	claimed := make(map[netip.Addr]string, len(nodes))

	// Fixed claims are all settled before any free assignment, so a free
	// node can never take an address a later fixed node requested.
	var free []mesh.NodeSpec
	for _, node := range sorted {
		if !node.HasFixedAddress() {
			free = append(free, node)
			continue
		}
		if !subnet.ContainsUsable(node.Address) {
			return nil, &OutOfRangeError{Node: node.Name, Address: node.Address, Subnet: subnet}
		}
		if holder, ok := claimed[node.Address]; ok {
			return nil, &DuplicateAddressError{Address: node.Address, First: holder, Second: node.Name}
		}
		claimed[node.Address] = node.Name
		assignment[node.Name] = node.Address
	}

	addr := subnet.FirstUsable()
	for _, node := range free {
		for {
			if _, taken := claimed[addr]; !taken {
				break
			}
			addr = addr.Next()
		}
		// Capacity was checked up front, so the walk cannot run past the
		// broadcast address.
		claimed[addr] = node.Name
		assignment[node.Name] = addr
		addr = addr.Next()
	}

	return assignment, nil
}
