package ca

import (
	"fmt"
	"time"
)

// AuthorityExpiredError reports a requested certificate validity that would
// extend past the authority's own expiry. Leaf certificates can never outlive
// their trust anchor.
type AuthorityExpiredError struct {
	Subject        string
	RequestedUntil time.Time
	AuthorityUntil time.Time
}

func (e *AuthorityExpiredError) Error() string {
	return fmt.Sprintf("certificate for %q would be valid until %s, past the authority expiry %s",
		e.Subject, e.RequestedUntil.Format(time.RFC3339), e.AuthorityUntil.Format(time.RFC3339))
}

// InvalidSubjectError reports an issuance request with an empty subject name
// or an unusable bound address.
type InvalidSubjectError struct {
	Subject string
	Reason  string
}

func (e *InvalidSubjectError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("invalid certificate subject: %s", e.Reason)
	}
	return fmt.Sprintf("invalid certificate subject %q: %s", e.Subject, e.Reason)
}
