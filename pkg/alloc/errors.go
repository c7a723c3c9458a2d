package alloc

import (
	"fmt"
	"net/netip"

	"meshforge/pkg/mesh"
)

// OutOfRangeError reports a fixed address that does not fall inside the
// subnet's usable host range.
type OutOfRangeError struct {
	Node    string
	Address netip.Addr
	Subnet  mesh.Subnet
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("node %q: address %s is outside the usable range of %s", e.Node, e.Address, e.Subnet)
}

// DuplicateAddressError reports two nodes requesting the same fixed address.
type DuplicateAddressError struct {
	Address netip.Addr
	First   string
	Second  string
}

func (e *DuplicateAddressError) Error() string {
	return fmt.Sprintf("nodes %q and %q both request address %s", e.First, e.Second, e.Address)
}

// CapacityExceededError reports a node set larger than the subnet's usable
// address count.
type CapacityExceededError struct {
	Subnet   mesh.Subnet
	Nodes    int
	Capacity int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("subnet %s has %d usable addresses but %d nodes were requested", e.Subnet, e.Capacity, e.Nodes)
}
