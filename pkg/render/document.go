package render

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// Document is the canonical node configuration consumed by the tunnel
// runtime. Field order is fixed and every map-valued section marshals with
// sorted keys, so rendering the same inputs is byte-identical.
type Document struct {
	PKI           PKI        `yaml:"pki"`
	StaticHostMap HostMap    `yaml:"static_host_map"`
	Lighthouse    Lighthouse `yaml:"lighthouse"`
	Listen        Listen     `yaml:"listen"`
	Punchy        Punchy     `yaml:"punchy"`
	Cipher        string     `yaml:"cipher"`
	Relay         Relay      `yaml:"relay"`
	Tun           Tun        `yaml:"tun"`
	Firewall      Firewall   `yaml:"firewall"`
}

// PKI references the node's trust material by artifact file name.
type PKI struct {
	CA                string `yaml:"ca"`
	Cert              string `yaml:"cert"`
	Key               string `yaml:"key"`
	DisconnectInvalid bool   `yaml:"disconnect_invalid"`
}

// HostMap maps a lighthouse's overlay address to its public endpoints.
type HostMap map[string][]string

// MarshalYAML emits the host map with sorted keys. The generic map encoding
// must not be trusted for byte-stable output.
func (m HostMap) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: k}
		valNode := &yaml.Node{Kind: yaml.SequenceNode}
		for _, v := range m[k] {
			valNode.Content = append(valNode.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: v})
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

// Lighthouse configures rendezvous behavior: whether this node is a
// lighthouse, and otherwise which lighthouse overlay addresses it reports to.
type Lighthouse struct {
	AmLighthouse bool     `yaml:"am_lighthouse"`
	Hosts        []string `yaml:"hosts"`
}

// Listen configures the node's underlay listener.
type Listen struct {
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
}

// Punchy enables NAT hole punching.
type Punchy struct {
	Punch bool `yaml:"punch"`
}

// Relay configures traffic forwarding for peers that cannot connect directly.
type Relay struct {
	AmRelay   bool     `yaml:"am_relay"`
	UseRelays bool     `yaml:"use_relays"`
	Relays    []string `yaml:"relays,omitempty"`
}

// Tun configures the overlay network device.
type Tun struct {
	Disabled           bool   `yaml:"disabled"`
	Dev                string `yaml:"dev"`
	DropLocalBroadcast bool   `yaml:"drop_local_broadcast"`
	DropMulticast      bool   `yaml:"drop_multicast"`
	TxQueue            int    `yaml:"tx_queue"`
	MTU                int    `yaml:"mtu"`
}

// Conntrack holds connection-tracking timeouts.
type Conntrack struct {
	TCPTimeout     string `yaml:"tcp_timeout"`
	UDPTimeout     string `yaml:"udp_timeout"`
	DefaultTimeout string `yaml:"default_timeout"`
}

// Rule is a firewall rule. Group-scoped rules carry the group name; the
// fallback rule allows any host.
type Rule struct {
	Port  string `yaml:"port"`
	Proto string `yaml:"proto"`
	Host  string `yaml:"host,omitempty"`
	Group string `yaml:"group,omitempty"`
}

// Firewall holds the node's policy, derived from its group memberships.
type Firewall struct {
	OutboundAction string    `yaml:"outbound_action"`
	InboundAction  string    `yaml:"inbound_action"`
	Conntrack      Conntrack `yaml:"conntrack"`
	Outbound       []Rule    `yaml:"outbound"`
	Inbound        []Rule    `yaml:"inbound"`
}
