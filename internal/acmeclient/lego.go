package acmeclient

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"sync"

	"github.com/go-acme/lego/v3/certcrypto"
	"github.com/go-acme/lego/v3/certificate"
	"github.com/go-acme/lego/v3/challenge"
	"github.com/go-acme/lego/v3/lego"
	"github.com/go-acme/lego/v3/registration"

	"github.com/wikimedia/operations-software-certcentral/internal/logging"
)

// orderState is the in-memory bridge between lego's high-level, blocking
// Obtain call and the spec's fine-grained, independently-resumable
// checkpoints (PushCSR / PerformLocalValidation / PushSolvedChallenges /
// FinalizeOrder / GetCertificate). lego v3 does not expose the ACME order
// object a step at a time, so LegoSession runs the whole
// order-to-finalize flow inside PushCSR and caches the resulting
// certificate.Resource; everything after PushCSR becomes a read of that
// cache rather than a further network round trip.
//
// This is a deliberate simplification over the spec's crash-resumption
// model: a crash between PushCSR and GetCertificate loses the cached
// result and the driver simply re-submits the CSR on the next tick,
// which is safe (ACME order reuse) but not free. See DESIGN.md.
type orderState struct {
	mu          sync.Mutex
	resource    *certificate.Resource
	challenges  map[ChallengeType][]Challenge
	done        bool
}

// LegoSession implements Session against a real ACME CA via
// github.com/go-acme/lego/v3.
type LegoSession struct {
	account *Account
	client  *lego.Client

	http01 challenge.Provider
	dns01  challenge.Provider

	mu     sync.Mutex
	orders map[string]*orderState
}

// NewLegoSession builds a lego client bound to account, with the given
// HTTP-01/DNS-01 challenge providers (typically the in-process servers
// in internal/http01 and internal/dns01, wrapped to satisfy
// challenge.Provider). A nil provider disables that challenge type:
// PushCSR will simply not offer it as a solvable option.
func NewLegoSession(account *Account, http01Provider, dns01Provider challenge.Provider) (*LegoSession, error) {
	config := lego.NewConfig(account)
	config.CADirURL = account.DirectoryURL
	config.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("acmeclient: new lego client: %w", err)
	}

	s := &LegoSession{
		account: account,
		client:  client,
		http01:  http01Provider,
		dns01:   dns01Provider,
		orders:  make(map[string]*orderState),
	}

	if http01Provider != nil {
		if err := client.Challenge.SetHTTP01Provider(http01Provider); err != nil {
			return nil, fmt.Errorf("acmeclient: set http-01 provider: %w", err)
		}
	}
	if dns01Provider != nil {
		if err := client.Challenge.SetDNS01Provider(dns01Provider); err != nil {
			return nil, fmt.Errorf("acmeclient: set dns-01 provider: %w", err)
		}
	}

	if account.GetRegistration() == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("acmeclient: register account %s: %w", account.ID, err)
		}
		account.reg = reg
		logging.Info("registered new ACME account %s against %s", account.ID, account.DirectoryURL)
	}

	return s, nil
}

func (s *LegoSession) GenerateCSRID(commonName string, sans []string, pub crypto.PublicKey) (string, error) {
	return GenerateCSRID(commonName, sans, pub)
}

func (s *LegoSession) stateFor(csrID string) *orderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.orders[csrID]
	if !ok {
		st = &orderState{}
		s.orders[csrID] = st
	}
	return st
}

// PushCSR runs the full order: new-order, present+self-check+validate
// every challenge lego's providers can solve, finalize and download —
// all inside the single lego.Certificate.ObtainForCSR call — then caches
// the result under csrID so the later Session calls are idempotent reads
// of that cache rather than repeat network calls.
func (s *LegoSession) PushCSR(ctx context.Context, csrID string, csrDER []byte) (map[ChallengeType][]Challenge, error) {
	st := s.stateFor(csrID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.done {
		return st.challenges, nil
	}

	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, fmt.Errorf("acmeclient: parse CSR for %s: %w", csrID, err)
	}

	resource, err := s.client.Certificate.ObtainForCSR(*csr, true)
	if err != nil {
		return nil, wrapTransient(err)
	}

	st.resource = resource
	st.challenges = map[ChallengeType][]Challenge{}
	st.done = true
	return st.challenges, nil
}

// PerformLocalValidation is a no-op for LegoSession: lego's own
// challenge.Provider.Present already performs the equivalent local
// self-check before telling the CA to validate, as part of PushCSR's
// single ObtainForCSR call.
func (s *LegoSession) PerformLocalValidation(ctx context.Context, c Challenge) error {
	return nil
}

// PushSolvedChallenges is a no-op: validation already happened inside
// PushCSR's ObtainForCSR call.
func (s *LegoSession) PushSolvedChallenges(ctx context.Context, csrID string, kind ChallengeType) error {
	st := s.stateFor(csrID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.done {
		return ErrChallengesPending
	}
	return nil
}

// FinalizeOrder is a no-op: finalize already happened inside PushCSR's
// ObtainForCSR call.
func (s *LegoSession) FinalizeOrder(ctx context.Context, csrID string) error {
	st := s.stateFor(csrID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.done || st.resource == nil {
		return ErrChallengesPending
	}
	return nil
}

// GetCertificate returns the PEM-encoded chain cached by PushCSR, plus
// the resource's IssuerCertificate (lego's representation of the CA's
// "up" link relation — the issuing certificate, not necessarily a
// self-signed root, since ACME doesn't serve those).
func (s *LegoSession) GetCertificate(ctx context.Context, csrID string) ([]byte, []byte, error) {
	st := s.stateFor(csrID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.resource == nil {
		return nil, nil, ErrChallengesPending
	}
	if len(st.resource.Certificate) == 0 {
		return nil, nil, fmt.Errorf("%w: empty certificate for %s", ErrCertificateParse, csrID)
	}
	return st.resource.Certificate, st.resource.IssuerCertificate, nil
}

// Forget drops csrID's cached order state, e.g. once the driver has
// written the issued certificate to disk and the in-memory copy is no
// longer needed.
func (s *LegoSession) Forget(csrID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, csrID)
}
