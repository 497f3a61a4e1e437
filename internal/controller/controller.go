// Package controller implements component E: it owns the status map,
// fans transitions out concurrently across (cert-id, key-type) pairs,
// enforces retry scheduling, and promotes issued material into live/.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/wikimedia/operations-software-certcentral/internal/acmeconfig"
	"github.com/wikimedia/operations-software-certcentral/internal/certlayout"
	"github.com/wikimedia/operations-software-certcentral/internal/certstate"
	"github.com/wikimedia/operations-software-certcentral/internal/classifier"
	"github.com/wikimedia/operations-software-certcentral/internal/logging"
	"github.com/wikimedia/operations-software-certcentral/internal/notify"
	"github.com/wikimedia/operations-software-certcentral/internal/orderdriver"
	"github.com/wikimedia/operations-software-certcentral/internal/statelog"
	"github.com/wikimedia/operations-software-certcentral/internal/x509util"
)

// SessionFactory resolves the ACME session to use for a given account
// id, so the controller can route each certificate's handlers through
// the right account without owning account/session wiring itself.
type SessionFactory func(accountID string) (*orderdriver.Driver, error)

// DefaultTickInterval is the sleep between passes of the management
// loop absent an override (spec §4.6: "default a few seconds").
const DefaultTickInterval = 5 * time.Second

// SnakeOilValidity is how long create_initial_certs' placeholder
// certificates are valid for.
const SnakeOilValidity = 90 * 24 * time.Hour

// Controller drives every configured (cert-id, key-type) pair through
// its transition handlers on a fixed tick, serialized with config
// reloads.
type Controller struct {
	root         string
	tickInterval time.Duration
	drivers      SessionFactory

	mu     sync.Mutex
	cfg    *acmeconfig.Config
	status map[string]map[certstate.KeyType]*certstate.State

	reloadCh chan *acmeconfig.Config
	stopCh   chan struct{}

	// transitionLog and notifier are optional observability
	// collaborators; either may be left nil.
	transitionLog *statelog.Log
	notifier      *notify.Notifier
}

// SetTransitionLog attaches an audit trail that records every status
// transition the controller assigns.
func (c *Controller) SetTransitionLog(l *statelog.Log) { c.transitionLog = l }

// SetNotifier attaches a webhook notifier invoked whenever a transition
// changes the status; a transition to the same status is not notified.
func (c *Controller) SetNotifier(n *notify.Notifier) { c.notifier = n }

// New builds a Controller rooted at certsRoot, initially configured
// with cfg, routing each cert-id's handlers through drivers.
func New(certsRoot string, cfg *acmeconfig.Config, drivers SessionFactory) *Controller {
	c := &Controller{
		root:         certsRoot,
		tickInterval: DefaultTickInterval,
		drivers:      drivers,
		cfg:          cfg,
		status:       make(map[string]map[certstate.KeyType]*certstate.State),
		reloadCh:     make(chan *acmeconfig.Config, 1),
		stopCh:       make(chan struct{}),
	}
	c.recomputeStatusLocked(time.Now())
	return c
}

// Config returns the currently active configuration, safe for
// concurrent use alongside Reload.
func (c *Controller) Config() *acmeconfig.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// StatusOf returns the current status of (certID, kt), satisfying
// authzapi.StatusSource.
func (c *Controller) StatusOf(certID string, kt certstate.KeyType) (certstate.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	perKT, ok := c.status[certID]
	if !ok {
		return 0, false
	}
	st, ok := perKT[kt]
	if !ok {
		return 0, false
	}
	return st.Status(), true
}

// RetryInfoOf returns the current retry count and next-retry deadline of
// (certID, kt), satisfying authzapi.StatusSource.
func (c *Controller) RetryInfoOf(certID string, kt certstate.KeyType) (retries int, nextRetry *time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	perKT, ok := c.status[certID]
	if !ok {
		return 0, nil, false
	}
	st, ok := perKT[kt]
	if !ok {
		return 0, nil, false
	}
	return st.Retries(), st.NextRetry(), true
}

// Reload queues a new configuration to take effect at the next tick
// boundary (spec §4.7: "serialized with the controller's tick").
func (c *Controller) Reload(cfg *acmeconfig.Config) {
	select {
	case c.reloadCh <- cfg:
	default:
		// A reload is already queued; the newest one wins.
		select {
		case <-c.reloadCh:
		default:
		}
		c.reloadCh <- cfg
	}
}

// Stop requests graceful termination at the next tick boundary.
func (c *Controller) Stop() {
	close(c.stopCh)
}

// Run is the management loop (spec §4.6). It blocks until Stop is
// called or ctx is canceled.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case cfg := <-c.reloadCh:
			c.applyReload(cfg)
		default:
		}

		c.tick(ctx)
		c.createInitialCerts()

		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case cfg := <-c.reloadCh:
			c.applyReload(cfg)
		case <-time.After(c.tickInterval):
		}
	}
}

// tick advances every pair whose state is retry-eligible, concurrently,
// and joins before returning (spec §5: "dispatches each eligible pair
// to a worker, and joins before sleeping").
func (c *Controller) tick(ctx context.Context) {
	now := time.Now()

	type job struct {
		certID string
		kt     certstate.KeyType
		cfg    acmeconfig.Certificate
		state  *certstate.State
	}

	c.mu.Lock()
	jobs := make([]job, 0)
	for certID, perKT := range c.status {
		certCfg, ok := c.cfg.Certificates[certID]
		if !ok {
			continue
		}
		for kt, st := range perKT {
			if st.Retry(now) {
				jobs = append(jobs, job{certID: certID, kt: kt, cfg: *certCfg, state: st})
			}
		}
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range jobs {
		j := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := j.state.Status()
			next := c.runHandler(ctx, j.certID, j.kt, j.cfg, prev)
			c.mu.Lock()
			j.state.AssignStatus(next, time.Now())
			c.mu.Unlock()
			c.recordTransition(j.certID, j.kt, prev, next)
		}()
	}
	wg.Wait()
}

// runHandler dispatches to the handler named by the status → handler
// table in spec §4.6.
func (c *Controller) runHandler(ctx context.Context, certID string, kt certstate.KeyType, certCfg acmeconfig.Certificate, status certstate.Status) certstate.Status {
	driver, err := c.drivers(accountFor(certCfg))
	if err != nil {
		logging.Error("controller: %s/%s: resolve ACME session: %v", certID, kt, err)
		return certstate.ACMEChiefError
	}

	dcfg := orderdriver.CertConfig{
		CommonName:    certCfg.CommonName,
		SANs:          certCfg.SNI,
		ChallengeKind: certCfg.Challenge,
		StagingTime:   certCfg.StagingTime(),
	}

	switch status {
	case certstate.Initial, certstate.SelfSigned, certstate.NeedsRenewal, certstate.Expired, certstate.SubjectsChanged:
		return driver.NewCertificate(ctx, certID, kt, dcfg)
	case certstate.CSRPushed:
		return driver.HandlePushedCSR(ctx, certID, kt, dcfg)
	case certstate.ChallengesPushed:
		return driver.HandlePushedChallenges(ctx, certID, kt, dcfg)
	case certstate.ChallengesValidated:
		return driver.HandleValidatedChallenges(ctx, certID, kt, dcfg)
	case certstate.OrderFinalized, certstate.CertificateIssued:
		return driver.HandleOrderFinalized(ctx, certID, kt, dcfg)
	case certstate.ReadyToBePushed:
		return driver.HandleReadyToBePushed(certID, kt, dcfg, time.Now())
	default:
		// VALID, CHALLENGES_REJECTED, ACMECHIEF_ERROR: idle.
		return status
	}
}

func accountFor(cert acmeconfig.Certificate) string {
	return cert.Account
}

// recordTransition fans a status change out to the audit trail and
// webhook notifier, if configured. A transition to the same status is
// still recorded: it reflects a retry attempt, not a no-op.
func (c *Controller) recordTransition(certID string, kt certstate.KeyType, from, to certstate.Status) {
	if c.transitionLog != nil {
		if err := c.transitionLog.Record(certID, kt, from, to); err != nil {
			logging.Error("controller: %s/%s: record transition: %v", certID, kt, err)
		}
	}
	if c.notifier != nil && from != to {
		ev := notify.TransitionEvent{CertID: certID, KeyType: kt, From: from, To: to, Timestamp: time.Now()}
		if err := c.notifier.NotifyTransition(ev); err != nil {
			logging.Warning("controller: %s/%s: notify transition: %v", certID, kt, err)
		}
	}
}

// applyReload swaps in a newly validated configuration and recomputes
// the status map from scratch, per spec §4.7.
func (c *Controller) applyReload(cfg *acmeconfig.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed, added []string
	for id := range c.cfg.Certificates {
		if _, ok := cfg.Certificates[id]; !ok {
			removed = append(removed, id)
		}
	}
	for id := range cfg.Certificates {
		if _, ok := c.cfg.Certificates[id]; !ok {
			added = append(added, id)
		}
	}
	c.cfg = cfg
	c.recomputeStatusLocked(time.Now())
	counts := make(map[string]int)
	for _, perKT := range c.status {
		for _, st := range perKT {
			counts[st.Status().String()]++
		}
	}
	logging.Info("controller: reload complete: %d certificates configured, removed %v, added %v, status counts %v", len(cfg.Certificates), removed, added, counts)
}

// recomputeStatusLocked rebuilds the status map via the classifier for
// every configured cert-id/key-type pair. A pair that still exists keeps
// its State object, but the freshly classified status is assigned to it,
// so its retry counters follow the assignment policy for that status
// (reset for a steady status, advanced for a retry status).
func (c *Controller) recomputeStatusLocked(now time.Time) {
	fresh := make(map[string]map[certstate.KeyType]*certstate.State, len(c.cfg.Certificates))
	for certID, cert := range c.cfg.Certificates {
		perKT := make(map[certstate.KeyType]*certstate.State, len(certstate.KeyTypes))
		for _, kt := range certstate.KeyTypes {
			want := classifier.Subject{CommonName: cert.CommonName, SANs: cert.SNI}
			status := classifier.Classify(c.root, certID, kt, want, now)

			if existing, ok := c.status[certID]; ok {
				if st, ok := existing[kt]; ok {
					st.AssignStatus(status, now)
					perKT[kt] = st
					continue
				}
			}
			st := certstate.NewState(now)
			st.AssignStatus(status, now)
			perKT[kt] = st
		}
		fresh[certID] = perKT
	}
	c.status = fresh
}

// createInitialCerts writes a snake-oil self-signed leaf/chain pair for
// every (cert-id, key-type) currently SELF_SIGNED or INITIAL, so
// consumers always have something valid-looking to read (spec §4.6
// step 2).
func (c *Controller) createInitialCerts() {
	c.mu.Lock()
	type todo struct {
		certID string
		kt     certstate.KeyType
		cfg    acmeconfig.Certificate
	}
	var pending []todo
	for certID, perKT := range c.status {
		cert, ok := c.cfg.Certificates[certID]
		if !ok {
			continue
		}
		for kt, st := range perKT {
			if st.Status() == certstate.Initial || st.Status() == certstate.SelfSigned {
				pending = append(pending, todo{certID, kt, *cert})
			}
		}
	}
	c.mu.Unlock()

	for _, p := range pending {
		if err := writeSnakeOil(c.root, p.certID, p.kt, p.cfg); err != nil {
			logging.Error("controller: %s/%s: create_initial_certs: %v", p.certID, p.kt, err)
			continue
		}
		c.mu.Lock()
		if st, ok := c.status[p.certID][p.kt]; ok && st.Status() == certstate.Initial {
			st.AssignStatus(certstate.SelfSigned, time.Now())
		}
		c.mu.Unlock()
	}
}

// writeSnakeOil writes the self-signed placeholder pair under both new/
// and live/ (spec §4.6's create_initial_certs: a first-ever boot needs
// something under live/ before any tick runs, and new/ holds it too so
// the classifier's "newer new-tree full-chain" comparison in §4.3 step 7
// has a consistent pair to compare against until real issuance replaces
// it).
func writeSnakeOil(root, certID string, kt certstate.KeyType, cert acmeconfig.Certificate) error {
	livePath := certlayout.PublicCertPath(root, certID, kt, certlayout.Live, certlayout.FullChain)
	if _, err := x509util.LoadCertificateChain(livePath); err == nil {
		return nil
	}

	key, err := x509util.GenerateKey(kt)
	if err != nil {
		return err
	}
	leaf, err := x509util.GenerateSelfSigned(key, cert.CommonName, cert.SNI, SnakeOilValidity)
	if err != nil {
		return err
	}

	for _, kind := range []certlayout.Kind{certlayout.New, certlayout.Live} {
		keyPath := certlayout.PrivateKeyPath(root, certID, kt, kind)
		if err := x509util.SavePrivateKey(keyPath, key); err != nil {
			return err
		}
		for _, ct := range certlayout.CertTypes {
			path := certlayout.PublicCertPath(root, certID, kt, kind, ct)
			// The snake-oil placeholder has no intermediates or issuer
			// certificate to append, so every mode writes the same
			// single-cert bytes here; the mode is still
			// picked the same way saveModeFor does for a real issued
			// chain so the two stay consistent once a real chain
			// replaces this placeholder.
			mode := x509util.ModeLeafOnly
			switch ct {
			case certlayout.Chain:
				mode = x509util.ModeLeafPlusIntermediates
			case certlayout.FullChain:
				mode = x509util.ModeFullChainWithRoot
			}
			if err := x509util.SaveCertificate(path, leaf, nil, nil, mode); err != nil {
				return err
			}
		}
	}
	return nil
}
