// Package acmetest provides an in-memory fake of acmeclient.Session for
// hermetic tests of the order driver and controller, mirroring the way
// the teacher isolates network-facing collaborators in main_test.go.
package acmetest

import (
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"sync"
	"time"

	"github.com/wikimedia/operations-software-certcentral/internal/acmeclient"
	"github.com/wikimedia/operations-software-certcentral/internal/x509util"
)

const issuedCertValidity = 90 * 24 * time.Hour

// order is one in-flight fake order's state.
type order struct {
	csrDER     []byte
	challenges map[acmeclient.ChallengeType][]acmeclient.Challenge
	validated  bool
	finalized  bool
	cert       []byte
	issuer     []byte
}

// Session is a scriptable, in-memory acmeclient.Session. Zero value is
// ready to use; set RejectLocalValidation, FailFinalizeOnce,
// ChallengeOffer, IssuedLeafKey or NoIssuerCertificate to exercise the
// order driver's other paths.
type Session struct {
	mu     sync.Mutex
	orders map[string]*order

	// RejectLocalValidation, when set, makes PerformLocalValidation
	// fail for every challenge — simulating a challenge that fails the
	// driver's local self-check before anything is pushed back to the CA.
	RejectLocalValidation bool
	// FailFinalizeOnce makes the next FinalizeOrder call return
	// acmeclient.ErrChallengesPending, simulating a CA still
	// validating.
	FailFinalizeOnce bool
	// ChallengeOffer is returned from PushCSR; nil means "no
	// challenges, CA considers the order ready" (spec §4.4's
	// CHALLENGES_PUSHED-direct case).
	ChallengeOffer map[acmeclient.ChallengeType][]acmeclient.Challenge
	// IssuedLeafKey, if set, signs a freshly issued self-signed
	// certificate for the CSR's own subject when GetCertificate is
	// called, simulating a real CA's response.
	IssuedLeafKey crypto.PrivateKey
	// NoIssuerCertificate, when set, makes GetCertificate return a nil
	// issuer certificate, simulating a CA that exposes no "up" link —
	// ModeFullChainWithRoot output should then collapse to
	// leaf+intermediates.
	NoIssuerCertificate bool
}

// NewSession builds an empty fake session.
func NewSession() *Session {
	return &Session{orders: make(map[string]*order)}
}

func (s *Session) GenerateCSRID(commonName string, sans []string, pub crypto.PublicKey) (string, error) {
	return acmeclient.GenerateCSRID(commonName, sans, pub)
}

func (s *Session) PushCSR(ctx context.Context, csrID string, csrDER []byte) (map[acmeclient.ChallengeType][]acmeclient.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[csrID] = &order{csrDER: csrDER, challenges: s.ChallengeOffer}
	return s.ChallengeOffer, nil
}

func (s *Session) PerformLocalValidation(ctx context.Context, c acmeclient.Challenge) error {
	if s.RejectLocalValidation {
		return fmt.Errorf("%w: simulated local validation failure", acmeclient.ErrTerminal)
	}
	return nil
}

func (s *Session) PushSolvedChallenges(ctx context.Context, csrID string, kind acmeclient.ChallengeType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[csrID]
	if !ok {
		return fmt.Errorf("acmetest: unknown csr id %s", csrID)
	}
	o.validated = true
	return nil
}

func (s *Session) FinalizeOrder(ctx context.Context, csrID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailFinalizeOnce {
		s.FailFinalizeOnce = false
		return acmeclient.ErrChallengesPending
	}
	o, ok := s.orders[csrID]
	if !ok {
		return fmt.Errorf("acmetest: unknown csr id %s", csrID)
	}
	o.finalized = true
	return nil
}

// GetCertificate simulates a CA response: a leaf signed for the CSR's
// own subject (self-signed here, since this fake has no CA key
// hierarchy to speak of) plus a separate fake issuer certificate,
// mirroring the distinction a real ACME CA's "up" link relation draws
// between the issued chain and its issuing certificate.
func (s *Session) GetCertificate(ctx context.Context, csrID string) ([]byte, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[csrID]
	if !ok || !o.finalized {
		return nil, nil, acmeclient.ErrChallengesPending
	}
	if o.cert != nil {
		return o.cert, o.issuer, nil
	}

	csr, err := x509.ParseCertificateRequest(o.csrDER)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", acmeclient.ErrCertificateParse, err)
	}

	key := s.IssuedLeafKey
	if key == nil {
		key, err = x509util.GenerateKey("rsa-2048")
		if err != nil {
			return nil, nil, err
		}
	}
	leaf, err := x509util.GenerateSelfSigned(key, csr.Subject.CommonName, csr.DNSNames, issuedCertValidity)
	if err != nil {
		return nil, nil, err
	}

	der := leaf.Raw
	o.cert = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if !s.NoIssuerCertificate {
		o.issuer = fakeIssuerCertificate()
	}
	return o.cert, o.issuer, nil
}

// fakeIssuerCertificate lazily builds a self-signed placeholder for the
// separate issuer certificate a real CA exposes via its "up" link,
// shared by every Session instance in a test binary since it carries no
// state specific to any one fake session.
func fakeIssuerCertificate() []byte {
	fakeIssuerOnce.Do(func() {
		key, err := x509util.GenerateKey("rsa-2048")
		if err != nil {
			return
		}
		cert, err := x509util.GenerateSelfSigned(key, "acmetest fake issuing CA", nil, issuedCertValidity)
		if err != nil {
			return
		}
		fakeIssuerPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	})
	return fakeIssuerPEM
}

var (
	fakeIssuerOnce sync.Once
	fakeIssuerPEM  []byte
)

// FingerprintHex is a test helper exposing the raw sha256 hex digest of
// arbitrary bytes, for assertions that don't want to reconstruct
// GenerateCSRID's exact preimage.
func FingerprintHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
