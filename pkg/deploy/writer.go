package deploy

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"meshforge/pkg/ca"
	"meshforge/pkg/orchestrator"
)

// Writer persists a completed artifact set under a single output directory.
type Writer struct {
	dir    string
	logger *zap.Logger
}

// NewWriter creates a writer rooted at dir. A nil logger disables logging.
func NewWriter(dir string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{dir: dir, logger: logger}
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// WriteAll writes the authority's certificate and key, then every node's
// certificate, key, config document, and compose manifest.
func (w *Writer) WriteAll(set *orchestrator.ArtifactSet) error {
	if err := os.MkdirAll(w.dir, 0700); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	prefix := set.Spec.CAFilePrefix()
	if err := w.writeFile(prefix+".crt", ca.EncodeCertificatePEM(set.Authority.DER()), 0644); err != nil {
		return err
	}
	caKey, err := ca.EncodePrivateKeyPEM(set.Authority.Key())
	if err != nil {
		return err
	}
	if err := w.writeFile(prefix+".key", caKey, 0600); err != nil {
		return err
	}

	for _, name := range set.Names() {
		cert := set.Certificates[name]
		if err := w.writeFile(name+".crt", ca.EncodeCertificatePEM(cert.DER), 0644); err != nil {
			return err
		}
		key, err := ca.EncodePrivateKeyPEM(cert.Key)
		if err != nil {
			return err
		}
		if err := w.writeFile(name+".key", key, 0600); err != nil {
			return err
		}
		if err := w.writeFile(ConfigFileName(name), set.Configs[name], 0644); err != nil {
			return err
		}
		node, _ := set.Spec.Node(name)
		manifest, err := Compose(node)
		if err != nil {
			return err
		}
		if err := w.writeFile(ComposeFileName(name), manifest, 0644); err != nil {
			return err
		}
		w.logger.Info("node artifacts written",
			zap.String("node", name),
			zap.String("dir", w.dir))
	}

	return nil
}

func (w *Writer) writeFile(name string, data []byte, mode os.FileMode) error {
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
