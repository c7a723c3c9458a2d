package ca

import (
	"errors"
	"net/netip"
	"reflect"
	"sync"
	"testing"
	"time"

	"meshforge/pkg/mesh"
)

func testAuthority(t *testing.T, validity time.Duration) *Authority {
	t.Helper()
	authority, err := CreateAuthority("TestAuthority", validity)
	if err != nil {
		t.Fatalf("CreateAuthority: %v", err)
	}
	return authority
}

func TestCreateAuthority(t *testing.T) {
	authority := testAuthority(t, 24*time.Hour)

	if authority.Name() != "TestAuthority" {
		t.Errorf("Name() = %q", authority.Name())
	}
	cert := authority.Certificate()
	if !cert.IsCA {
		t.Error("root certificate is not a CA")
	}
	if cert.Subject.CommonName != "TestAuthority" {
		t.Errorf("root CN = %q", cert.Subject.CommonName)
	}
	if got := time.Until(cert.NotAfter); got > 24*time.Hour || got < 23*time.Hour {
		t.Errorf("root NotAfter %s not ~24h away", cert.NotAfter)
	}
	if authority.Fingerprint() == "" {
		t.Error("empty fingerprint")
	}

	// A second authority is a different trust anchor.
	other := testAuthority(t, 24*time.Hour)
	if other.Fingerprint() == authority.Fingerprint() {
		t.Error("two authorities share a fingerprint")
	}
}

func TestCreateAuthorityInvalid(t *testing.T) {
	if _, err := CreateAuthority("", time.Hour); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := CreateAuthority("x", 0); err == nil {
		t.Error("expected error for zero validity")
	}
}

func TestIssueAndVerify(t *testing.T) {
	authority := testAuthority(t, 24*time.Hour)
	node := mesh.NodeSpec{Name: "worker-01", Groups: []string{"web", "admin"}}
	addr := netip.MustParseAddr("10.0.0.5")

	cert, err := authority.Issue(node, addr, 12*time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if cert.Name != "worker-01" {
		t.Errorf("cert name = %q", cert.Name)
	}
	if cert.Address != addr {
		t.Errorf("cert address = %s", cert.Address)
	}
	if cert.X509.Subject.CommonName != "worker-01" {
		t.Errorf("cert CN = %q", cert.X509.Subject.CommonName)
	}
	if len(cert.X509.IPAddresses) != 1 || cert.X509.IPAddresses[0].String() != "10.0.0.5" {
		t.Errorf("cert SANs = %v", cert.X509.IPAddresses)
	}
	if cert.NotAfter.After(authority.NotAfter()) {
		t.Errorf("leaf outlives authority: %s > %s", cert.NotAfter, authority.NotAfter())
	}
	if err := authority.Verify(cert); err != nil {
		t.Errorf("Verify: %v", err)
	}

	wantGroups := []string{"admin", "web"}
	if !reflect.DeepEqual(cert.Groups, wantGroups) {
		t.Errorf("cert groups = %v, want %v", cert.Groups, wantGroups)
	}
	if got := ExtractGroups(cert.X509); !reflect.DeepEqual(got, wantGroups) {
		t.Errorf("ExtractGroups = %v, want %v", got, wantGroups)
	}
}

func TestIssueInvalidSubject(t *testing.T) {
	authority := testAuthority(t, 24*time.Hour)
	addr := netip.MustParseAddr("10.0.0.5")

	tests := []struct {
		name     string
		node     mesh.NodeSpec
		addr     netip.Addr
		validity time.Duration
	}{
		{"empty name", mesh.NodeSpec{}, addr, time.Hour},
		{"unset address", mesh.NodeSpec{Name: "n"}, netip.Addr{}, time.Hour},
		{"zero validity", mesh.NodeSpec{Name: "n"}, addr, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := authority.Issue(tt.node, tt.addr, tt.validity)
			var inv *InvalidSubjectError
			if !errors.As(err, &inv) {
				t.Errorf("expected InvalidSubjectError, got %v", err)
			}
		})
	}
}

func TestIssuePastAuthorityExpiry(t *testing.T) {
	authority := testAuthority(t, time.Hour)

	_, err := authority.Issue(mesh.NodeSpec{Name: "n"}, netip.MustParseAddr("10.0.0.5"), 2*time.Hour)
	var expired *AuthorityExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("expected AuthorityExpiredError, got %v", err)
	}
	if expired.Subject != "n" {
		t.Errorf("error subject = %q", expired.Subject)
	}
}

func TestIssueFullAuthorityValidity(t *testing.T) {
	authority := testAuthority(t, 720*time.Hour)

	// Requesting the authority's own validity overshoots its parsed expiry
	// only by the encoding's sub-second truncation; the leaf is clamped to
	// the root's window, not rejected.
	cert, err := authority.Issue(mesh.NodeSpec{Name: "lh"}, netip.MustParseAddr("10.0.0.1"), 720*time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !cert.NotAfter.Equal(authority.NotAfter()) {
		t.Errorf("leaf NotAfter = %s, want clamped to %s", cert.NotAfter, authority.NotAfter())
	}
	if err := authority.Verify(cert); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestVerifyForeignAuthority(t *testing.T) {
	authority := testAuthority(t, 24*time.Hour)
	foreign := testAuthority(t, 24*time.Hour)

	cert, err := authority.Issue(mesh.NodeSpec{Name: "n"}, netip.MustParseAddr("10.0.0.5"), time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := foreign.Verify(cert); err == nil {
		t.Error("certificate verified against a foreign authority")
	}
}

func TestRevoke(t *testing.T) {
	authority := testAuthority(t, 24*time.Hour)
	cert, err := authority.Issue(mesh.NodeSpec{Name: "n"}, netip.MustParseAddr("10.0.0.5"), time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if cert.Revoked() {
		t.Error("fresh certificate reports revoked")
	}
	now := time.Now()
	cert.Revoke(now)
	if !cert.Revoked() {
		t.Error("revoked certificate does not report revoked")
	}
	if !cert.NotAfter.Equal(now) {
		t.Errorf("revocation did not close validity window: NotAfter = %s", cert.NotAfter)
	}
	if err := authority.Verify(cert); err == nil {
		t.Error("revoked certificate still verifies")
	}
}

func TestConcurrentIssuance(t *testing.T) {
	authority := testAuthority(t, 24*time.Hour)

	const n = 32
	var wg sync.WaitGroup
	certs := make([]*Certificate, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)})
			certs[i], errs[i] = authority.Issue(mesh.NodeSpec{Name: "node"}, addr, time.Hour)
		}()
	}
	wg.Wait()

	serials := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Issue #%d: %v", i, errs[i])
		}
		if err := authority.Verify(certs[i]); err != nil {
			t.Errorf("Verify #%d: %v", i, err)
		}
		serial := certs[i].Serial()
		if serials[serial] {
			t.Errorf("duplicate serial %s", serial)
		}
		serials[serial] = true
	}
}

func TestPEMRoundTrip(t *testing.T) {
	authority := testAuthority(t, 24*time.Hour)
	cert, err := authority.Issue(mesh.NodeSpec{Name: "n"}, netip.MustParseAddr("10.0.0.5"), time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parsed, err := DecodeCertificatePEM(EncodeCertificatePEM(cert.DER))
	if err != nil {
		t.Fatalf("DecodeCertificatePEM: %v", err)
	}
	if parsed.Subject.CommonName != "n" {
		t.Errorf("round-tripped CN = %q", parsed.Subject.CommonName)
	}

	keyPEM, err := EncodePrivateKeyPEM(cert.Key)
	if err != nil {
		t.Fatalf("EncodePrivateKeyPEM: %v", err)
	}
	key, err := DecodePrivateKeyPEM(keyPEM)
	if err != nil {
		t.Fatalf("DecodePrivateKeyPEM: %v", err)
	}
	if !key.Equal(cert.Key) {
		t.Error("key did not round-trip")
	}
}
