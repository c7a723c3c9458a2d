// Package render turns an allocated, certified node into its canonical
// configuration document. Render is a pure function: identical inputs
// produce byte-identical YAML, which makes regenerated artifact sets
// diffable.
package render

import (
	"fmt"
	"net/netip"
	"sort"

	"gopkg.in/yaml.v3"

	"meshforge/pkg/ca"
	"meshforge/pkg/mesh"
)

// ValidationError reports a node whose topology cannot produce a coherent
// configuration document.
type ValidationError struct {
	Node   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("node %q: %s", e.Node, e.Reason)
}

// Peer describes another node this node must know about.
type Peer struct {
	Name   string
	Addr   netip.Addr
	Public mesh.Endpoint
}

// Topology is the slice of the network visible to one node: every lighthouse
// with its public endpoint, the overlay addresses of the relays the network
// offers, and the CA artifact file name the document references.
type Topology struct {
	CAFile      string
	Lighthouses []Peer
	Relays      map[string]netip.Addr
}

// Render produces the node's configuration document from its allocated
// address, issued certificate, and visible topology.
func Render(node mesh.NodeSpec, addr netip.Addr, cert *ca.Certificate, topo Topology) ([]byte, error) {
	if node.IsLighthouse && node.Public == nil {
		return nil, &ValidationError{Node: node.Name, Reason: "lighthouse has no public endpoint"}
	}
	if cert == nil {
		return nil, &ValidationError{Node: node.Name, Reason: "no certificate issued"}
	}
	if cert.Address != addr {
		return nil, &ValidationError{
			Node:   node.Name,
			Reason: fmt.Sprintf("certificate is bound to %s, not %s", cert.Address, addr),
		}
	}
	for _, lh := range topo.Lighthouses {
		if err := lh.Public.Validate(); err != nil {
			return nil, &ValidationError{Node: node.Name, Reason: fmt.Sprintf("lighthouse %q: %v", lh.Name, err)}
		}
	}
	relayAddrs := make([]string, 0, len(node.UseRelays))
	for _, name := range node.UseRelays {
		relayAddr, ok := topo.Relays[name]
		if !ok {
			return nil, &ValidationError{Node: node.Name, Reason: fmt.Sprintf("unknown relay %q", name)}
		}
		relayAddrs = append(relayAddrs, relayAddr.String())
	}
	sort.Strings(relayAddrs)

	doc := Document{
		PKI: PKI{
			CA:                topo.CAFile,
			Cert:              node.Name + ".crt",
			Key:               node.Name + ".key",
			DisconnectInvalid: true,
		},
		StaticHostMap: hostMap(node, topo),
		Lighthouse:    lighthouse(node, topo),
		Listen: Listen{
			Host: "::",
			Port: node.ListenPort(),
		},
		Punchy: Punchy{Punch: true},
		Cipher: "aes",
		Relay: Relay{
			AmRelay:   node.IsRelay,
			UseRelays: len(relayAddrs) > 0,
			Relays:    relayAddrs,
		},
		Tun: Tun{
			Dev:     "nebula01",
			TxQueue: 500,
			MTU:     1300,
		},
		Firewall: firewall(node),
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("node %q: failed to marshal config: %w", node.Name, err)
	}
	return out, nil
}

// hostMap lists every lighthouse's public endpoints keyed by overlay address.
// Lighthouses themselves carry an empty map; they are the ones being found.
func hostMap(node mesh.NodeSpec, topo Topology) HostMap {
	m := HostMap{}
	if node.IsLighthouse {
		return m
	}
	for _, lh := range topo.Lighthouses {
		key := lh.Addr.String()
		m[key] = append(m[key], lh.Public.String())
	}
	for _, endpoints := range m {
		sort.Strings(endpoints)
	}
	return m
}

func lighthouse(node mesh.NodeSpec, topo Topology) Lighthouse {
	lh := Lighthouse{AmLighthouse: node.IsLighthouse, Hosts: []string{}}
	if node.IsLighthouse {
		return lh
	}
	for _, peer := range topo.Lighthouses {
		lh.Hosts = append(lh.Hosts, peer.Addr.String())
	}
	sort.Strings(lh.Hosts)
	return lh
}

// firewall derives symmetric inbound/outbound rules from the node's groups.
// A node without groups allows any host both ways.
func firewall(node mesh.NodeSpec) Firewall {
	groups := node.SortedGroups()
	rules := make([]Rule, 0, len(groups))
	if len(groups) == 0 {
		rules = append(rules, Rule{Port: "any", Proto: "any", Host: "any"})
	}
	for _, g := range groups {
		rules = append(rules, Rule{Port: "any", Proto: "any", Group: g})
	}
	return Firewall{
		OutboundAction: "drop",
		InboundAction:  "drop",
		Conntrack: Conntrack{
			TCPTimeout:     "12m",
			UDPTimeout:     "3m",
			DefaultTimeout: "10m",
		},
		Outbound: rules,
		Inbound:  rules,
	}
}
