package mesh

import (
	"fmt"
	"net/netip"
)

// Endpoint represents a publicly routable address and port, used by
// lighthouse nodes as their rendezvous address.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// ParseEndpoint parses an "ip:port" string into an Endpoint.
func ParseEndpoint(s string) (Endpoint, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", s, err)
	}
	if ap.Port() == 0 {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: port must be non-zero", s)
	}
	return Endpoint{Addr: ap.Addr(), Port: ap.Port()}, nil
}

// String returns the canonical "ip:port" representation.
func (e Endpoint) String() string {
	return netip.AddrPortFrom(e.Addr, e.Port).String()
}

// Validate checks that the endpoint carries a routable address and port.
func (e Endpoint) Validate() error {
	if !e.Addr.IsValid() {
		return fmt.Errorf("endpoint address is not set")
	}
	if e.Port == 0 {
		return fmt.Errorf("endpoint port must be non-zero")
	}
	return nil
}

// Equal returns true if two endpoints are equivalent.
func (e Endpoint) Equal(other Endpoint) bool {
	return e.Addr == other.Addr && e.Port == other.Port
}
