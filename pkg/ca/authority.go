// Package ca issues and verifies the certificates that bind a node's name,
// overlay address, and group memberships to the network's trust anchor.
//
// An Authority is created exactly once per network and holds the only shared
// mutable state in the pipeline: its Ed25519 signing key (safe for concurrent
// signing) and a serial counter guarded by a mutex, so per-node issuance can
// fan out across goroutines.
package ca

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"meshforge/pkg/mesh"
)

// oidGroups is the private extension carrying a certificate's group
// memberships as a comma-separated list.
var oidGroups = []int{1, 3, 6, 1, 4, 1, 55555, 1}

// Authority owns the network's signing key and self-signed root certificate.
// It is immutable after creation; replacing an authority is an explicit
// re-keying operation that invalidates every previously issued leaf.
type Authority struct {
	name string
	cert *x509.Certificate
	key  ed25519.PrivateKey
	pool *x509.CertPool
	der  []byte

	mu     sync.Mutex
	serial int64
}

// CreateAuthority generates a new Ed25519 keypair and a self-signed root
// certificate valid for [now, now+validity].
func CreateAuthority(name string, validity time.Duration) (*Authority, error) {
	if name == "" {
		return nil, fmt.Errorf("authority name cannot be empty")
	}
	if validity <= 0 {
		return nil, fmt.Errorf("authority validity must be positive")
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Ed25519 key: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: name,
		},
		NotBefore:             now,
		NotAfter:              now.Add(validity),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create root certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse root certificate: %w", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	return &Authority{
		name:   name,
		cert:   cert,
		key:    priv,
		pool:   pool,
		der:    der,
		serial: 1,
	}, nil
}

// Name returns the authority's human-readable name.
func (a *Authority) Name() string {
	return a.name
}

// Certificate returns the self-signed root certificate.
func (a *Authority) Certificate() *x509.Certificate {
	return a.cert
}

// PublicKey returns the authority's Ed25519 public key.
func (a *Authority) PublicKey() ed25519.PublicKey {
	return a.cert.PublicKey.(ed25519.PublicKey)
}

// Key returns the authority's private signing key, for the persistence layer.
func (a *Authority) Key() ed25519.PrivateKey {
	return a.key
}

// DER returns the root certificate in DER encoding.
func (a *Authority) DER() []byte {
	return a.der
}

// NotAfter returns the end of the authority's validity window.
func (a *Authority) NotAfter() time.Time {
	return a.cert.NotAfter
}

// Fingerprint returns the hex SHA-256 of the root certificate. Two runs with
// different fingerprints trust different anchors, which is how a re-keying is
// detected.
func (a *Authority) Fingerprint() string {
	sum := sha256.Sum256(a.der)
	return hex.EncodeToString(sum[:])
}

func (a *Authority) nextSerial() *big.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.serial++
	return big.NewInt(a.serial)
}

// Issue produces a leaf certificate binding the node's name, its allocated
// overlay address, and its group memberships, signed with the authority's
// key. The leaf's validity window never extends past the authority's own.
func (a *Authority) Issue(node mesh.NodeSpec, addr netip.Addr, validity time.Duration) (*Certificate, error) {
	if node.Name == "" {
		return nil, &InvalidSubjectError{Reason: "node name cannot be empty"}
	}
	if !addr.IsValid() {
		return nil, &InvalidSubjectError{Subject: node.Name, Reason: "bound address is not set"}
	}
	if validity <= 0 {
		return nil, &InvalidSubjectError{Subject: node.Name, Reason: "validity must be positive"}
	}

	now := time.Now()
	notAfter := now.Add(validity)
	if notAfter.After(a.cert.NotAfter) {
		// The root's parsed NotAfter is truncated to whole seconds by the
		// certificate encoding, so a request for the authority's full
		// remaining validity overshoots it by a fraction. Clamp that;
		// anything past the truncation slop genuinely outlives the root.
		if notAfter.Sub(a.cert.NotAfter) > time.Second {
			return nil, &AuthorityExpiredError{
				Subject:        node.Name,
				RequestedUntil: notAfter,
				AuthorityUntil: a.cert.NotAfter,
			}
		}
		notAfter = a.cert.NotAfter
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate node key for %q: %w", node.Name, err)
	}

	groups := node.SortedGroups()
	template := &x509.Certificate{
		SerialNumber: a.nextSerial(),
		Subject: pkix.Name{
			CommonName: node.Name,
		},
		NotBefore:   now,
		NotAfter:    notAfter,
		KeyUsage:    x509.KeyUsageDigitalSignature,
		IPAddresses: []net.IP{addr.AsSlice()},
	}
	if len(groups) > 0 {
		template.ExtraExtensions = []pkix.Extension{
			{
				Id:    oidGroups,
				Value: []byte(strings.Join(groups, ",")),
			},
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, a.cert, pub, a.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate for %q: %w", node.Name, err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate for %q: %w", node.Name, err)
	}

	return &Certificate{
		Name:      node.Name,
		Address:   addr,
		Groups:    groups,
		NotBefore: leaf.NotBefore,
		NotAfter:  leaf.NotAfter,
		X509:      leaf,
		Key:       priv,
		DER:       der,
	}, nil
}

// Verify checks that a certificate chains to this authority's root and that
// its validity window, including any early revocation, is still open.
func (a *Authority) Verify(cert *Certificate) error {
	if cert == nil || cert.X509 == nil {
		return fmt.Errorf("certificate is nil")
	}
	if cert.Revoked() {
		return fmt.Errorf("certificate for %q was revoked at %s", cert.Name, cert.NotAfter.Format(time.RFC3339))
	}
	opts := x509.VerifyOptions{
		Roots:     a.pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := cert.X509.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed for %q: %w", cert.Name, err)
	}
	return nil
}
