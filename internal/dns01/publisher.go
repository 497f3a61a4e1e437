// Package dns01 is the DNS-01 publisher (component F, the other half):
// it writes challenge files to the DNS-01 challenge directory and drives
// the operator-configured zone-update command, per spec §4.5.
package dns01

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/miekg/dns"

	"github.com/wikimedia/operations-software-certcentral/internal/certlayout"
	"github.com/wikimedia/operations-software-certcentral/internal/logging"
)

// DefaultTimeout is the zone-update command timeout used when the config
// does not override it.
const DefaultTimeout = 60 * time.Second

// Record is a single DNS-01 challenge to publish: the _acme-challenge
// validation domain and the key-authorization digest value placed in
// its TXT record.
type Record struct {
	Domain string
	Token  string
	Value  string
}

// Publisher writes DNS-01 challenge material to disk and invokes the
// configured zone-update command to push it live.
type Publisher struct {
	root           string
	cmd            string
	remoteServers  []string
	timeout        time.Duration
}

// New builds a Publisher. cmd is the zone-update executable path;
// remoteServers are passed as its --remote-servers argument. A zero
// timeout defaults to DefaultTimeout.
func New(root, cmd string, remoteServers []string, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Publisher{root: root, cmd: cmd, remoteServers: remoteServers, timeout: timeout}
}

// CheckCommandExecutable verifies the zone-update command resolves to an
// executable file, as required at configuration load time (spec §4.5:
// "failure prevents configuration activation").
func CheckCommandExecutable(cmd string) error {
	if cmd == "" {
		return fmt.Errorf("dns01: zone-update command not configured")
	}
	path, err := exec.LookPath(cmd)
	if err != nil {
		return fmt.Errorf("dns01: zone-update command %q is not executable: %w", cmd, err)
	}
	_ = path
	return nil
}

// WriteChallenges persists each record's key authorization under the
// DNS-01 challenge directory, keyed by validation domain and token.
func (p *Publisher) WriteChallenges(records []Record) error {
	for _, r := range records {
		path := certlayout.DNS01ChallengePath(p.root, r.Domain, r.Token)
		if err := writeFile(path, []byte(r.Value)); err != nil {
			return fmt.Errorf("dns01: write challenge for %s: %w", r.Domain, err)
		}
	}
	return nil
}

// Publish invokes the zone-update command for records, following spec
// §4.5's exact argument vector:
//
//	[cmd, "--remote-servers", server1, server2, ..., "--", domain1, value1, domain2, value2, ...]
//
// Every domain is validated with miekg/dns.IsDomainName before being
// placed on the command line; a malformed domain aborts with no
// subprocess invoked. Returns true on a zero exit within the timeout,
// false on timeout or non-zero exit (the caller leaves the pair to
// retry, per spec). The command's stdout and stderr are discarded.
func (p *Publisher) Publish(ctx context.Context, records []Record) bool {
	if p.cmd == "" {
		logging.Error("dns-01: no zone-update command configured")
		return false
	}

	for _, r := range records {
		if _, ok := dns.IsDomainName(r.Domain); !ok {
			logging.Error("dns-01: refusing to publish invalid domain name %q", r.Domain)
			return false
		}
	}

	args := make([]string, 0, 2+len(p.remoteServers)+1+2*len(records))
	args = append(args, "--remote-servers")
	args = append(args, p.remoteServers...)
	args = append(args, "--")
	for _, r := range records {
		args = append(args, r.Domain, r.Value)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.cmd, args...)
	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		logging.Error("dns-01: zone-update command timed out after %s", p.timeout)
		return false
	}
	if err != nil {
		logging.Error("dns-01: zone-update command failed: %v", err)
		return false
	}
	return true
}
