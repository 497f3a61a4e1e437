// Package orderdriver implements component D: the per-status transition
// handlers that drive a (cert-id, key-type) pair through the ACME
// issuance pipeline (spec §4.4). Each handler is idempotent with
// respect to on-disk state, so a crash mid-step is recoverable on the
// next tick.
package orderdriver

import (
	"context"
	"crypto/x509"
	"time"

	"github.com/wikimedia/operations-software-certcentral/internal/acmeclient"
	"github.com/wikimedia/operations-software-certcentral/internal/certlayout"
	"github.com/wikimedia/operations-software-certcentral/internal/certstate"
	"github.com/wikimedia/operations-software-certcentral/internal/dns01"
	"github.com/wikimedia/operations-software-certcentral/internal/http01"
	"github.com/wikimedia/operations-software-certcentral/internal/logging"
	"github.com/wikimedia/operations-software-certcentral/internal/x509util"
)

// CertConfig is the subset of a cert-id's configuration record (spec §3)
// the order driver needs to build CSRs and route challenges.
type CertConfig struct {
	CommonName    string
	SANs          []string
	ChallengeKind acmeclient.ChallengeType
	StagingTime   time.Duration
}

// Driver holds the collaborators every handler needs: the certificates
// directory root, the ACME session, and the two challenge publishers.
type Driver struct {
	root      string
	session   acmeclient.Session
	http01Srv *http01.Server
	dnsPub    *dns01.Publisher
}

// New builds a Driver rooted at certsRoot (the certificates state
// directory, distinct from the read-mostly config directory).
func New(certsRoot string, session acmeclient.Session, httpSrv *http01.Server, dnsPub *dns01.Publisher) *Driver {
	return &Driver{root: certsRoot, session: session, http01Srv: httpSrv, dnsPub: dnsPub}
}

// NewCertificate implements _new_certificate: from INITIAL | SELF_SIGNED |
// NEEDS_RENEWAL | EXPIRED | SUBJECTS_CHANGED, generate a fresh key and
// CSR, push it, and persist whatever challenges the CA returns. If the
// CA offered any challenges at all, it chains straight into the same
// local-validation/finalize/fetch sequence HandlePushedCSR runs, so a CA
// that validates synchronously reaches READY_TO_BE_PUSHED within this
// one call. That chain ends at handleOrderFinalized: promotion to live/
// (and so VALID) happens only in a later HandleReadyToBePushed call.
func (d *Driver) NewCertificate(ctx context.Context, certID string, kt certstate.KeyType, cfg CertConfig) certstate.Status {
	key, err := x509util.GenerateKey(kt)
	if err != nil {
		logging.Error("orderdriver: %s/%s: generate key: %v", certID, kt, err)
		return certstate.ACMEChiefError
	}
	keyPath := certlayout.PrivateKeyPath(d.root, certID, kt, certlayout.New)
	if err := x509util.SavePrivateKey(keyPath, key); err != nil {
		logging.Error("orderdriver: %s/%s: save key: %v", certID, kt, err)
		return certstate.ACMEChiefError
	}

	csrDER, err := x509util.GenerateCSR(key, cfg.CommonName, cfg.SANs)
	if err != nil {
		logging.Error("orderdriver: %s/%s: generate CSR: %v", certID, kt, err)
		return certstate.ACMEChiefError
	}

	pub, err := x509util.PublicKey(key)
	if err != nil {
		logging.Error("orderdriver: %s/%s: derive public key: %v", certID, kt, err)
		return certstate.ACMEChiefError
	}
	csrID, err := d.session.GenerateCSRID(cfg.CommonName, cfg.SANs, pub)
	if err != nil {
		logging.Error("orderdriver: %s/%s: fingerprint CSR: %v", certID, kt, err)
		return certstate.ACMEChiefError
	}

	challenges, err := d.session.PushCSR(ctx, csrID, csrDER)
	if err != nil {
		logging.Warning("orderdriver: %s/%s: push CSR: %v", certID, kt, err)
		return certstate.CSRPushed
	}

	if err := d.persistChallenges(certID, cfg, challenges[cfg.ChallengeKind]); err != nil {
		logging.Error("orderdriver: %s/%s: persist challenges: %v", certID, kt, err)
		return certstate.CSRPushed
	}

	if len(challenges) == 0 {
		return certstate.ChallengesPushed
	}

	// Challenges were actually pushed: chain straight into the same
	// local-validation step HandlePushedCSR runs on a later tick, so a
	// CA that validates synchronously can reach READY_TO_BE_PUSHED
	// within this one call.
	return d.handlePushedCSR(ctx, certID, kt, cfg, csrID)
}

// persistChallenges writes each challenge's response material to the
// directory matching cfg.ChallengeKind, per spec §3/§4.4.
func (d *Driver) persistChallenges(certID string, cfg CertConfig, chs []acmeclient.Challenge) error {
	switch cfg.ChallengeKind {
	case acmeclient.HTTP01:
		for _, c := range chs {
			if d.http01Srv != nil {
				d.http01Srv.Put(c.Token, c.KeyAuthorization)
			}
		}
	case acmeclient.DNS01:
		if d.dnsPub == nil {
			return nil
		}
		records := make([]dns01.Record, 0, len(chs))
		for _, c := range chs {
			records = append(records, dns01.Record{Domain: c.ValidationDomain, Token: c.Token, Value: c.KeyAuthorization})
		}
		if err := d.dnsPub.WriteChallenges(records); err != nil {
			return err
		}
		if !d.dnsPub.Publish(context.Background(), records) {
			return errZoneUpdateFailed
		}
	}
	return nil
}

// recomputeCSRID reloads the new/ private key and recomputes the
// deterministic CSR id from it, so every handler past NewCertificate
// can rejoin the same order after a restart without storing the id
// separately (spec §4.4).
func (d *Driver) recomputeCSRID(certID string, kt certstate.KeyType, cfg CertConfig) (string, error) {
	keyPath := certlayout.PrivateKeyPath(d.root, certID, kt, certlayout.New)
	key, err := x509util.LoadPrivateKey(keyPath)
	if err != nil {
		return "", err
	}
	pub, err := x509util.PublicKey(key)
	if err != nil {
		return "", err
	}
	return d.session.GenerateCSRID(cfg.CommonName, cfg.SANs, pub)
}

// HandlePushedCSR implements _handle_pushed_csr: from CSR_PUSHED, reload
// the key, recompute the CSR id, and ask the session to self-validate
// locally. A single challenge descriptor built from the configured kind
// and the common name is validated; the individual challenges the CA
// returned are not revisited.
func (d *Driver) HandlePushedCSR(ctx context.Context, certID string, kt certstate.KeyType, cfg CertConfig) certstate.Status {
	csrID, err := d.recomputeCSRID(certID, kt, cfg)
	if err != nil {
		logging.Error("orderdriver: %s/%s: load key: %v", certID, kt, err)
		return certstate.ACMEChiefError
	}
	return d.handlePushedCSR(ctx, certID, kt, cfg, csrID)
}

func (d *Driver) handlePushedCSR(ctx context.Context, certID string, kt certstate.KeyType, cfg CertConfig, csrID string) certstate.Status {
	c := acmeclient.Challenge{Type: cfg.ChallengeKind, Domain: cfg.CommonName}
	if err := d.session.PerformLocalValidation(ctx, c); err != nil {
		logging.Warning("orderdriver: %s/%s: local validation failed: %v", certID, kt, err)
		return certstate.ChallengesRejected
	}

	return d.handleValidatedChallenges(ctx, certID, kt, cfg, csrID)
}

// HandleValidatedChallenges implements _handle_validated_challenges for
// status CHALLENGES_VALIDATED: push the solved challenges back to the
// CA.
func (d *Driver) HandleValidatedChallenges(ctx context.Context, certID string, kt certstate.KeyType, cfg CertConfig) certstate.Status {
	csrID, err := d.recomputeCSRID(certID, kt, cfg)
	if err != nil {
		return certstate.ACMEChiefError
	}
	return d.handleValidatedChallenges(ctx, certID, kt, cfg, csrID)
}

func (d *Driver) handleValidatedChallenges(ctx context.Context, certID string, kt certstate.KeyType, cfg CertConfig, csrID string) certstate.Status {
	if err := d.session.PushSolvedChallenges(ctx, csrID, cfg.ChallengeKind); err != nil {
		logging.Warning("orderdriver: %s/%s: push solved challenges: %v", certID, kt, err)
		return certstate.ChallengesPushed
	}
	return d.handlePushedChallenges(ctx, certID, kt, csrID)
}

// HandlePushedChallenges implements _handle_pushed_challenges for
// status CHALLENGES_PUSHED: finalize the order.
func (d *Driver) HandlePushedChallenges(ctx context.Context, certID string, kt certstate.KeyType, cfg CertConfig) certstate.Status {
	csrID, err := d.recomputeCSRID(certID, kt, cfg)
	if err != nil {
		return certstate.ACMEChiefError
	}
	return d.handlePushedChallenges(ctx, certID, kt, csrID)
}

func (d *Driver) handlePushedChallenges(ctx context.Context, certID string, kt certstate.KeyType, csrID string) certstate.Status {
	err := d.session.FinalizeOrder(ctx, csrID)
	switch {
	case err == nil:
		return d.handleOrderFinalized(ctx, certID, kt, csrID)
	default:
		logging.Warning("orderdriver: %s/%s: finalize: %v", certID, kt, err)
		return certstate.ChallengesPushed
	}
}

// handleOrderFinalized implements _handle_order_finalized: fetch and
// save the issued certificate. ModeFullChainWithRoot gets the CA's
// separate issuer certificate appended beyond the intermediates
// ModeLeafPlusIntermediates already carries, so the two save modes
// genuinely diverge when the CA exposes one (spec §4.1: each cert type
// has a distinct serialization mode, "full chain including the root").
func (d *Driver) handleOrderFinalized(ctx context.Context, certID string, kt certstate.KeyType, csrID string) certstate.Status {
	pemChain, pemIssuer, err := d.session.GetCertificate(ctx, csrID)
	if err != nil {
		logging.Warning("orderdriver: %s/%s: fetch certificate: %v", certID, kt, err)
		return certstate.CertificateIssued
	}

	leaf, intermediates, err := decodeChain(pemChain)
	if err != nil {
		logging.Warning("orderdriver: %s/%s: parse issued chain: %v", certID, kt, err)
		return certstate.CertificateIssued
	}

	issuer, err := decodeIssuer(pemIssuer)
	if err != nil {
		logging.Warning("orderdriver: %s/%s: parse issuer certificate: %v", certID, kt, err)
		return certstate.CertificateIssued
	}
	var roots []*x509.Certificate
	if issuer != nil {
		roots = []*x509.Certificate{issuer}
	}

	for _, ct := range certlayout.CertTypes {
		mode := saveModeFor(ct)
		path := certlayout.PublicCertPath(d.root, certID, kt, certlayout.New, ct)
		if err := x509util.SaveCertificate(path, leaf, intermediates, roots, mode); err != nil {
			logging.Error("orderdriver: %s/%s: save %s: %v", certID, kt, ct, err)
			return certstate.CertificateIssued
		}
	}

	return certstate.ReadyToBePushed
}

// HandleOrderFinalized is the exported entry point for status
// ORDER_FINALIZED / CERTIFICATE_ISSUED, reachable without a csrID in
// hand (reload has already happened, so recompute it the same way
// HandlePushedCSR does).
func (d *Driver) HandleOrderFinalized(ctx context.Context, certID string, kt certstate.KeyType, cfg CertConfig) certstate.Status {
	csrID, err := d.recomputeCSRID(certID, kt, cfg)
	if err != nil {
		return certstate.ACMEChiefError
	}
	return d.handleOrderFinalized(ctx, certID, kt, csrID)
}

// HandleReadyToBePushed implements _handle_ready_to_be_pushed: wait out
// the staging time, then promote new/ to live/.
func (d *Driver) HandleReadyToBePushed(certID string, kt certstate.KeyType, cfg CertConfig, now time.Time) certstate.Status {
	newPath := certlayout.PublicCertPath(d.root, certID, kt, certlayout.New, certlayout.FullChain)
	chain, err := x509util.LoadCertificateChain(newPath)
	if err != nil {
		return certstate.CertificateIssued
	}

	if chain.Leaf.NotBefore.Add(cfg.StagingTime).After(now) {
		return certstate.ReadyToBePushed
	}

	return d.pushLiveCertificate(certID, kt)
}

// pushLiveCertificate implements _push_live_certificate: re-serialize
// the new/ material into live/.
func (d *Driver) pushLiveCertificate(certID string, kt certstate.KeyType) certstate.Status {
	newKeyPath := certlayout.PrivateKeyPath(d.root, certID, kt, certlayout.New)
	key, err := x509util.LoadPrivateKey(newKeyPath)
	if err != nil {
		logging.Error("orderdriver: %s/%s: load new key for promotion: %v", certID, kt, err)
		return certstate.CertificateIssued
	}
	liveKeyPath := certlayout.PrivateKeyPath(d.root, certID, kt, certlayout.Live)
	if err := x509util.SavePrivateKey(liveKeyPath, key); err != nil {
		logging.Error("orderdriver: %s/%s: promote key: %v", certID, kt, err)
		return certstate.CertificateIssued
	}

	for _, ct := range certlayout.CertTypes {
		newPath := certlayout.PublicCertPath(d.root, certID, kt, certlayout.New, ct)
		chain, err := x509util.LoadCertificateChain(newPath)
		if err != nil {
			logging.Error("orderdriver: %s/%s: load new %s for promotion: %v", certID, kt, ct, err)
			return certstate.CertificateIssued
		}
		livePath := certlayout.PublicCertPath(d.root, certID, kt, certlayout.Live, ct)
		// chain.Intermediates already carries whatever new/ saved for
		// this exact cert type (for FullChain that includes the issuer
		// certificate appended by handleOrderFinalized), so promotion
		// re-serializes it verbatim with no separate roots argument.
		if err := x509util.SaveCertificate(livePath, chain.Leaf, chain.Intermediates, nil, saveModeFor(ct)); err != nil {
			logging.Error("orderdriver: %s/%s: promote %s: %v", certID, kt, ct, err)
			return certstate.CertificateIssued
		}
	}

	logging.Info("orderdriver: %s/%s: promoted to live", certID, kt)
	return certstate.Valid
}

func saveModeFor(ct certlayout.CertType) x509util.SaveMode {
	switch ct {
	case certlayout.CertOnly:
		return x509util.ModeLeafOnly
	case certlayout.Chain:
		return x509util.ModeLeafPlusIntermediates
	default:
		return x509util.ModeFullChainWithRoot
	}
}
