// Package acmeclient is the ACME wire client collaborator: spec.md §1
// lists "the raw ACME wire client (HTTP/JOSE transport, nonce handling,
// account registration)" as out of scope for the core, "specified only by
// the interface the core consumes." This package is that interface
// (Session) plus a concrete implementation, LegoSession, built on
// github.com/go-acme/lego/v3 — the ACME client library already present in
// the reference corpus (pulled in by kgretzky-evilginx2 transitively
// through certmagic).
package acmeclient

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/wikimedia/operations-software-certcentral/internal/x509util"
)

// ChallengeType is the ACME challenge kind, mirroring spec.md's {HTTP-01,
// DNS-01} closed set.
type ChallengeType string

const (
	HTTP01 ChallengeType = "http-01"
	DNS01  ChallengeType = "dns-01"
)

// Challenge is a single ACME challenge object returned by the CA for one
// identifier of an order.
type Challenge struct {
	Type             ChallengeType
	Domain           string
	Token            string
	KeyAuthorization string
	// ValidationDomain is the DNS name a DNS-01 record must be published
	// under (_acme-challenge.<domain>); empty for HTTP-01.
	ValidationDomain string
}

// Session is the narrow interface the order driver (component D) consumes.
// Every method is safe to call again after a crash: implementations must
// treat re-submission of the same csrID as a resume, not a duplicate order.
type Session interface {
	// GenerateCSRID computes the deterministic fingerprint used to
	// rejoin an order across restarts: sha256 of the CN, the
	// sorted-unique SAN set, and the SPKI bytes of the public key.
	GenerateCSRID(commonName string, sans []string, pub crypto.PublicKey) (string, error)

	// PushCSR submits a CSR to the CA under csrID and returns the
	// challenges the CA wants solved, keyed by type. An empty map means
	// the CA considers the order already validated (e.g. a previously
	// satisfied authorization was reused).
	PushCSR(ctx context.Context, csrID string, csrDER []byte) (map[ChallengeType][]Challenge, error)

	// PerformLocalValidation asks a single challenge to self-check that
	// its response is actually in place (e.g. the HTTP-01 file is
	// servable, the DNS-01 record resolves) before telling the CA to
	// validate it.
	PerformLocalValidation(ctx context.Context, c Challenge) error

	// PushSolvedChallenges tells the CA to validate the challenges of
	// the given kind for csrID.
	PushSolvedChallenges(ctx context.Context, csrID string, kind ChallengeType) error

	// FinalizeOrder asks the CA to finalize csrID's order. Returns
	// ErrChallengesPending if the CA hasn't validated yet.
	FinalizeOrder(ctx context.Context, csrID string) error

	// GetCertificate downloads the issued chain for csrID, PEM-encoded,
	// leaf first, plus the separate issuer certificate the CA exposes via
	// its "up" link relation. issuer is the closest thing to a trust
	// anchor a real ACME CA hands over (true self-signed roots are not
	// served over ACME); it may be nil if the CA exposes none, in which
	// case ModeFullChainWithRoot output collapses to leaf+intermediates.
	GetCertificate(ctx context.Context, csrID string) (chain []byte, issuer []byte, err error)
}

// GenerateCSRID is the package-level pure function version used by tests
// and by any Session implementation that wants the canonical fingerprint
// (spec §4.4: "CSR id is a stable fingerprint of (CN, sorted-unique SANs,
// SPKI bytes)").
func GenerateCSRID(commonName string, sans []string, pub crypto.PublicKey) (string, error) {
	spki, err := subjectPublicKeyInfo(pub)
	if err != nil {
		return "", err
	}
	uniq := x509util.SortedUniqueSANs(sans)
	h := sha256.New()
	h.Write([]byte(strings.ToLower(commonName)))
	h.Write([]byte{0})
	for _, s := range uniq {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	h.Write(spki)
	return hex.EncodeToString(h.Sum(nil)), nil
}
