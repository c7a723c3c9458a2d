package deploy

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
)

// ExportNode bundles one node's artifacts (certificate, key, config, compose
// manifest, plus the CA certificate) into a zip archive next to them,
// ready to hand to the machine that will run the node.
func (w *Writer) ExportNode(name, caFilePrefix string) (string, error) {
	files := []string{
		caFilePrefix + ".crt",
		name + ".crt",
		name + ".key",
		ConfigFileName(name),
		ComposeFileName(name),
	}

	archivePath := filepath.Join(w.dir, name+"_bundle.zip")
	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, file := range files {
		data, err := os.ReadFile(filepath.Join(w.dir, file))
		if err != nil {
			return "", fmt.Errorf("failed to read %s for archive: %w", file, err)
		}
		entry, err := zw.Create(file)
		if err != nil {
			return "", fmt.Errorf("failed to add %s to archive: %w", file, err)
		}
		if _, err := entry.Write(data); err != nil {
			return "", fmt.Errorf("failed to write %s to archive: %w", file, err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}
	return archivePath, nil
}
