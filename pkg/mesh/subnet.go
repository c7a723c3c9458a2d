package mesh

import (
	"fmt"
	"net/netip"
)

// Subnet represents the overlay address range of a mesh network as a base
// address plus prefix length, e.g. 10.50.60.0/24. The network and broadcast
// addresses are reserved and never assignable, so a valid subnet must have a
// usable-host capacity of at least 2 (prefix length <= /30).
type Subnet struct {
	prefix netip.Prefix
}

// ParseSubnet parses a CIDR string into a Subnet.
// The address must be the subnet's base address (host bits all zero).
func ParseSubnet(s string) (Subnet, error) {
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return Subnet{}, fmt.Errorf("invalid subnet %q: %w", s, err)
	}
	return NewSubnet(prefix)
}

// NewSubnet validates a prefix and wraps it as a Subnet.
func NewSubnet(prefix netip.Prefix) (Subnet, error) {
	if !prefix.Addr().Is4() {
		return Subnet{}, fmt.Errorf("subnet %s: only IPv4 subnets are supported", prefix)
	}
	if prefix.Masked() != prefix {
		return Subnet{}, fmt.Errorf("subnet %s: address is not the subnet base (did you mean %s?)", prefix, prefix.Masked())
	}
	if prefix.Bits() > 30 {
		return Subnet{}, fmt.Errorf("subnet %s: needs at least 2 usable host addresses (/30 or wider)", prefix)
	}
	return Subnet{prefix: prefix}, nil
}

// String returns the canonical CIDR representation.
func (s Subnet) String() string {
	return s.prefix.String()
}

// Prefix returns the underlying prefix.
func (s Subnet) Prefix() netip.Prefix {
	return s.prefix
}

// Bits returns the prefix length.
func (s Subnet) Bits() int {
	return s.prefix.Bits()
}

// Network returns the reserved network address (all host bits zero).
func (s Subnet) Network() netip.Addr {
	return s.prefix.Addr()
}

// Broadcast returns the reserved broadcast address (all host bits one).
func (s Subnet) Broadcast() netip.Addr {
	base := s.prefix.Addr().As4()
	hostBits := 32 - s.prefix.Bits()
	v := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])
	v |= (1 << hostBits) - 1
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// Capacity returns the number of assignable host addresses, excluding the
// network and broadcast addresses.
func (s Subnet) Capacity() int {
	return (1 << (32 - s.prefix.Bits())) - 2
}

// Contains reports whether addr falls anywhere inside the subnet,
// including the reserved addresses.
func (s Subnet) Contains(addr netip.Addr) bool {
	return s.prefix.Contains(addr)
}

// ContainsUsable reports whether addr is an assignable host address:
// inside the subnet and neither the network nor the broadcast address.
func (s Subnet) ContainsUsable(addr netip.Addr) bool {
	return s.prefix.Contains(addr) && addr != s.Network() && addr != s.Broadcast()
}

// FirstUsable returns the lowest assignable host address.
func (s Subnet) FirstUsable() netip.Addr {
	return s.Network().Next()
}

// IsValid reports whether the subnet has been initialized through a
// constructor rather than being the zero value.
func (s Subnet) IsValid() bool {
	return s.prefix.IsValid()
}
