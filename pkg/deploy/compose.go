// Package deploy is the persistence and packaging layer: it writes the
// pipeline's typed artifacts to disk as PEM and YAML files, renders a
// docker-compose manifest per node for the containerized tunnel runtime, and
// exports per-node bundles as zip archives.
package deploy

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"meshforge/pkg/mesh"
)

// Image is the containerized tunnel runtime the manifests run.
const Image = "nebulaoss/nebula:latest"

// ComposeService is one service entry in a docker-compose manifest.
type ComposeService struct {
	Image         string   `yaml:"image"`
	ContainerName string   `yaml:"container_name"`
	Volumes       []string `yaml:"volumes"`
	Ports         []string `yaml:"ports"`
}

// ComposeFile is a minimal docker-compose document.
type ComposeFile struct {
	Services map[string]ComposeService `yaml:"services"`
}

// ConfigFileName returns the node's config artifact file name.
func ConfigFileName(node string) string {
	return node + ".yaml"
}

// ComposeFileName returns the node's compose manifest file name.
func ComposeFileName(node string) string {
	return node + "_docker-compose.yml"
}

// Compose renders the docker-compose manifest that runs the tunnel runtime
// for one node, mounting its config and exposing its listen port.
func Compose(node mesh.NodeSpec) ([]byte, error) {
	config := ConfigFileName(node.Name)
	port := node.ListenPort()
	manifest := ComposeFile{
		Services: map[string]ComposeService{
			"nebula_node": {
				Image:         Image,
				ContainerName: "nebula_node_" + node.Name,
				Volumes:       []string{fmt.Sprintf("%s:/etc/nebula/%s", config, config)},
				Ports:         []string{fmt.Sprintf("%d:%d/udp", port, port)},
			},
		},
	}
	out, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("node %q: failed to marshal compose manifest: %w", node.Name, err)
	}
	return out, nil
}
