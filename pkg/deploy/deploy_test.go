package deploy

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"meshforge/pkg/ca"
	"meshforge/pkg/mesh"
	"meshforge/pkg/orchestrator"
)

func testArtifactSet(t *testing.T) *orchestrator.ArtifactSet {
	t.Helper()
	subnet, err := mesh.ParseSubnet("10.50.60.0/24")
	require.NoError(t, err)
	public, err := mesh.ParseEndpoint("10.50.60.134:4242")
	require.NoError(t, err)

	spec := mesh.NetworkSpec{
		CAName:     "Deploy Test",
		CAValidity: 24 * time.Hour,
		Subnet:     subnet,
		Nodes: []mesh.NodeSpec{
			{Name: "lh", IsLighthouse: true, Public: &public},
			{Name: "worker", Port: 5000},
		},
	}
	set, err := orchestrator.New(nil).Run(spec)
	require.NoError(t, err)
	return set
}

func TestCompose(t *testing.T) {
	node := mesh.NodeSpec{Name: "worker", Port: 5000}

	out, err := Compose(node)
	require.NoError(t, err)

	var manifest ComposeFile
	require.NoError(t, yaml.Unmarshal(out, &manifest))
	svc, ok := manifest.Services["nebula_node"]
	require.True(t, ok)
	assert.Equal(t, Image, svc.Image)
	assert.Equal(t, "nebula_node_worker", svc.ContainerName)
	assert.Equal(t, []string{"worker.yaml:/etc/nebula/worker.yaml"}, svc.Volumes)
	assert.Equal(t, []string{"5000:5000/udp"}, svc.Ports)

	// Byte-stable like every other rendered artifact.
	again, err := Compose(node)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(out, again))
}

func TestWriteAll(t *testing.T) {
	set := testArtifactSet(t)
	dir := filepath.Join(t.TempDir(), "out")
	writer := NewWriter(dir, nil)

	require.NoError(t, writer.WriteAll(set))

	prefix := set.Spec.CAFilePrefix()
	assert.Equal(t, "DeployTest_10.50.60.0_24", prefix)

	expected := []string{
		prefix + ".crt",
		prefix + ".key",
		"lh.crt", "lh.key", "lh.yaml", "lh_docker-compose.yml",
		"worker.crt", "worker.key", "worker.yaml", "worker_docker-compose.yml",
	}
	for _, name := range expected {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "missing artifact %s", name)
	}

	// The written CA certificate parses and matches the authority.
	data, err := os.ReadFile(filepath.Join(dir, prefix+".crt"))
	require.NoError(t, err)
	cert, err := ca.DecodeCertificatePEM(data)
	require.NoError(t, err)
	assert.Equal(t, "DeployTest", cert.Subject.CommonName)
	assert.True(t, cert.IsCA)

	// Keys are written with restricted permissions.
	info, err := os.Stat(filepath.Join(dir, "worker.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// The written config matches the in-memory artifact byte for byte.
	conf, err := os.ReadFile(filepath.Join(dir, "worker.yaml"))
	require.NoError(t, err)
	assert.Equal(t, set.Configs["worker"], conf)
}

func TestExportNode(t *testing.T) {
	set := testArtifactSet(t)
	dir := t.TempDir()
	writer := NewWriter(dir, nil)
	require.NoError(t, writer.WriteAll(set))

	archivePath, err := writer.ExportNode("worker", set.Spec.CAFilePrefix())
	require.NoError(t, err)

	zr, err := zip.OpenReader(archivePath)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{
		set.Spec.CAFilePrefix() + ".crt",
		"worker.crt",
		"worker.key",
		"worker.yaml",
		"worker_docker-compose.yml",
	}, names)
}

func TestExportNodeMissingArtifacts(t *testing.T) {
	writer := NewWriter(t.TempDir(), nil)
	_, err := writer.ExportNode("ghost", "Nope_10.0.0.0_24")
	assert.Error(t, err)
}
