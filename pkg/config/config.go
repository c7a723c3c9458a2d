// Package config loads a network specification from a YAML file and turns it
// into the validated value types the pipeline consumes.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"meshforge/pkg/mesh"
)

// DefaultCAValidity is used when the spec file does not set ca.validity.
const DefaultCAValidity = 365 * 24 * time.Hour

// File is the on-disk shape of a network specification.
type File struct {
	CA     CASection  `yaml:"ca"`
	Subnet string     `yaml:"subnet"`
	Nodes  []NodeFile `yaml:"nodes"`
}

// CASection holds the certificate authority parameters.
type CASection struct {
	Name     string `yaml:"name"`
	Validity string `yaml:"validity,omitempty"`
}

// NodeFile is the on-disk shape of one node entry.
type NodeFile struct {
	Name       string   `yaml:"name"`
	Address    string   `yaml:"address,omitempty"`
	Port       uint16   `yaml:"port,omitempty"`
	Lighthouse bool     `yaml:"lighthouse,omitempty"`
	Relay      bool     `yaml:"relay,omitempty"`
	UseRelays  []string `yaml:"use_relays,omitempty"`
	Public     string   `yaml:"public,omitempty"`
	Groups     []string `yaml:"groups,omitempty"`
}

// Load reads and resolves a network specification file.
func Load(path string) (mesh.NetworkSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return mesh.NetworkSpec{}, fmt.Errorf("failed to read spec file: %w", err)
	}
	return Parse(data)
}

// Parse resolves a network specification from YAML bytes and validates it.
func Parse(data []byte) (mesh.NetworkSpec, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return mesh.NetworkSpec{}, fmt.Errorf("failed to parse spec file: %w", err)
	}

	subnet, err := mesh.ParseSubnet(f.Subnet)
	if err != nil {
		return mesh.NetworkSpec{}, err
	}

	validity := DefaultCAValidity
	if f.CA.Validity != "" {
		validity, err = time.ParseDuration(f.CA.Validity)
		if err != nil {
			return mesh.NetworkSpec{}, fmt.Errorf("invalid ca.validity: %w", err)
		}
	}

	spec := mesh.NetworkSpec{
		CAName:     f.CA.Name,
		CAValidity: validity,
		Subnet:     subnet,
	}
	for _, nf := range f.Nodes {
		node, err := resolveNode(nf)
		if err != nil {
			return mesh.NetworkSpec{}, err
		}
		spec.Nodes = append(spec.Nodes, node)
	}

	if err := spec.Validate(); err != nil {
		return mesh.NetworkSpec{}, err
	}
	return spec, nil
}

func resolveNode(nf NodeFile) (mesh.NodeSpec, error) {
	node := mesh.NodeSpec{
		Name:         nf.Name,
		Port:         nf.Port,
		IsLighthouse: nf.Lighthouse,
		IsRelay:      nf.Relay,
		UseRelays:    nf.UseRelays,
		Groups:       nf.Groups,
	}
	if nf.Address != "" {
		addr, err := netip.ParseAddr(nf.Address)
		if err != nil {
			return mesh.NodeSpec{}, fmt.Errorf("node %q: invalid address %q: %w", nf.Name, nf.Address, err)
		}
		node.Address = addr
	}
	if nf.Public != "" {
		ep, err := mesh.ParseEndpoint(nf.Public)
		if err != nil {
			return mesh.NodeSpec{}, fmt.Errorf("node %q: %w", nf.Name, err)
		}
		node.Public = &ep
	}
	return node, nil
}
