package ca

import (
	"crypto/ed25519"
	"crypto/x509"
	"net/netip"
	"strings"
	"time"
)

// Certificate is an issued node certificate together with the metadata it
// binds. It is immutable once issued, with one exception: revocation closes
// the validity window early.
type Certificate struct {
	Name      string
	Address   netip.Addr
	Groups    []string
	NotBefore time.Time
	NotAfter  time.Time

	X509 *x509.Certificate
	Key  ed25519.PrivateKey
	DER  []byte

	revokedAt time.Time
}

// Revoke closes the certificate's validity window as of now. Node removal and
// re-keying are expected operational events; there is no revocation list, the
// closed window is the revocation.
func (c *Certificate) Revoke(now time.Time) {
	c.revokedAt = now
	c.NotAfter = now
}

// Revoked reports whether the validity window was closed early.
func (c *Certificate) Revoked() bool {
	return !c.revokedAt.IsZero()
}

// Serial returns the certificate's serial number as a string.
func (c *Certificate) Serial() string {
	return c.X509.SerialNumber.String()
}

// ExtractGroups reads the group memberships back out of a parsed x509
// certificate's private extension.
func ExtractGroups(cert *x509.Certificate) []string {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidGroups) {
			return strings.Split(string(ext.Value), ",")
		}
	}
	return nil
}
