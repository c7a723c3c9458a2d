package mesh

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"
)

// DefaultListenPort is the port a node listens on when the spec does not
// override it.
const DefaultListenPort uint16 = 4242

// NodeSpec describes a single node in the network specification. It is an
// immutable input: the pipeline derives artifacts from it but never writes
// back into it.
type NodeSpec struct {
	// Name is the node's hostname inside the mesh. Must be unique within a
	// network.
	Name string

	// Address is an optional fixed overlay address. The zero value means the
	// allocator picks one.
	Address netip.Addr

	// Port is the node's listen port. Zero means DefaultListenPort.
	Port uint16

	// IsLighthouse marks the node as a rendezvous point for the mesh.
	// Lighthouses must carry a Public endpoint.
	IsLighthouse bool

	// IsRelay marks the node as willing to forward traffic for peers that
	// cannot connect directly.
	IsRelay bool

	// UseRelays names the relay nodes this node routes through.
	UseRelays []string

	// Public is the node's publicly routable endpoint. Required for
	// lighthouses, optional otherwise.
	Public *Endpoint

	// Groups are the firewall group memberships used for policy filtering.
	Groups []string
}

// HasFixedAddress reports whether the spec requests an explicit address.
func (n NodeSpec) HasFixedAddress() bool {
	return n.Address.IsValid()
}

// ListenPort returns the node's listen port, applying the default.
func (n NodeSpec) ListenPort() uint16 {
	if n.Port == 0 {
		return DefaultListenPort
	}
	return n.Port
}

// SortedGroups returns the node's groups sorted and deduplicated, so that
// downstream artifacts are independent of declaration order.
func (n NodeSpec) SortedGroups() []string {
	seen := make(map[string]bool, len(n.Groups))
	groups := make([]string, 0, len(n.Groups))
	for _, g := range n.Groups {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Validate checks the node's internal invariants.
func (n NodeSpec) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("node name cannot be empty")
	}
	if strings.ContainsAny(n.Name, " \t\n/") {
		return fmt.Errorf("node %q: name cannot contain whitespace or slashes", n.Name)
	}
	if n.IsLighthouse {
		if n.Public == nil {
			return fmt.Errorf("node %q: lighthouse requires a public endpoint", n.Name)
		}
		if err := n.Public.Validate(); err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
	}
	if n.Public != nil {
		if err := n.Public.Validate(); err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
	}
	return nil
}

// NetworkSpec is the complete declarative input to the pipeline: the subnet,
// the certificate authority parameters, and the node set.
type NetworkSpec struct {
	CAName     string
	CAValidity time.Duration
	Subnet     Subnet
	Nodes      []NodeSpec
}

// SanitizedCAName returns the CA name with spaces stripped, the form used in
// certificate subjects and artifact file names.
func (s NetworkSpec) SanitizedCAName() string {
	return strings.ReplaceAll(s.CAName, " ", "")
}

// CAFilePrefix returns the base name shared by the authority's artifact
// files, derived from the CA name and the subnet.
func (s NetworkSpec) CAFilePrefix() string {
	return fmt.Sprintf("%s_%s_%d", s.SanitizedCAName(), s.Subnet.Network(), s.Subnet.Bits())
}

// Validate checks the cross-node invariants of the specification.
func (s NetworkSpec) Validate() error {
	if s.SanitizedCAName() == "" {
		return fmt.Errorf("certificate authority name cannot be empty")
	}
	if s.CAValidity <= 0 {
		return fmt.Errorf("certificate authority validity must be positive")
	}
	if !s.Subnet.IsValid() {
		return fmt.Errorf("network subnet is not set")
	}

	names := make(map[string]bool, len(s.Nodes))
	relays := make(map[string]bool)
	for _, node := range s.Nodes {
		if err := node.Validate(); err != nil {
			return err
		}
		if names[node.Name] {
			return fmt.Errorf("duplicate node name %q", node.Name)
		}
		names[node.Name] = true
		if node.IsRelay {
			relays[node.Name] = true
		}
	}

	for _, node := range s.Nodes {
		for _, relay := range node.UseRelays {
			if !names[relay] {
				return fmt.Errorf("node %q: unknown relay %q", node.Name, relay)
			}
			if !relays[relay] {
				return fmt.Errorf("node %q: node %q is not a relay", node.Name, relay)
			}
		}
	}
	return nil
}

// Lighthouses returns the subset of nodes acting as lighthouses.
func (s NetworkSpec) Lighthouses() []NodeSpec {
	var out []NodeSpec
	for _, n := range s.Nodes {
		if n.IsLighthouse {
			out = append(out, n)
		}
	}
	return out
}

// Relays returns the subset of nodes acting as relays.
func (s NetworkSpec) Relays() []NodeSpec {
	var out []NodeSpec
	for _, n := range s.Nodes {
		if n.IsRelay {
			out = append(out, n)
		}
	}
	return out
}

// Node looks up a node by name.
func (s NetworkSpec) Node(name string) (NodeSpec, bool) {
	for _, n := range s.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeSpec{}, false
}
