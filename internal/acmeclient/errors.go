package acmeclient

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
)

// The error taxonomy of spec §7, exposed as sentinels so orderdriver can
// classify a returned error with errors.Is without importing lego's own
// error types.
var (
	// ErrTransient covers network blips, 5xx responses, nonce exhaustion,
	// and "not validated yet" — the caller stays in its current status,
	// counted as a retry.
	ErrTransient = errors.New("acmeclient: transient ACME error")
	// ErrTerminal covers a CA-side invalid challenge: the order is dead
	// for this attempt.
	ErrTerminal = errors.New("acmeclient: terminal ACME error")
	// ErrCertificateParse covers a malformed issued certificate the CA
	// may still re-serve on a later attempt.
	ErrCertificateParse = errors.New("acmeclient: certificate parse error")
	// ErrChallengesPending means finalize was attempted before the CA
	// finished validating.
	ErrChallengesPending = errors.New("acmeclient: challenges not yet validated")
)

func wrapTransient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func wrapTerminal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrTerminal, err)
}

func subjectPublicKeyInfo(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("acmeclient: marshal SPKI: %w", err)
	}
	return der, nil
}
