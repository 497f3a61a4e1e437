package acmeconfig

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wikimedia/operations-software-certcentral/internal/dns01"
)

// Validate implements spec §4.7 step 2 and the case-collision Open
// Question decision (§9): exactly one default account, every
// certificate's account reference resolves, the DNS-01 zone-update
// command is executable if any certificate uses dns-01, and no two
// certificates collide under case-insensitive (CN, SAN-set) comparison.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("acmeconfig: no accounts configured")
	}

	defaults := 0
	ids := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("acmeconfig: account with empty id")
		}
		ids[a.ID] = true
		if a.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("acmeconfig: more than one default account marked")
	}

	usesDNS01 := false
	seen := make(map[string]string, len(c.Certificates))
	for name, cert := range c.Certificates {
		if cert.Account != "" && !ids[cert.Account] {
			return fmt.Errorf("acmeconfig: certificate %s references unknown account %q", name, cert.Account)
		}
		if cert.Challenge == "dns-01" {
			usesDNS01 = true
		}

		key := caseFoldKey(cert.CommonName, cert.SNI)
		if other, ok := seen[key]; ok {
			return fmt.Errorf("acmeconfig: certificates %s and %s differ only by case in CN/SAN", name, other)
		}
		seen[key] = name
	}

	if usesDNS01 {
		if err := dns01.CheckCommandExecutable(c.Challenges.DNS01.ZoneUpdateCmd); err != nil {
			return fmt.Errorf("acmeconfig: %w", err)
		}
	}

	return nil
}

func caseFoldKey(cn string, sans []string) string {
	folded := make([]string, 0, len(sans)+1)
	folded = append(folded, strings.ToLower(cn))
	for _, s := range sans {
		folded = append(folded, strings.ToLower(s))
	}
	return strings.Join(uniqueSorted(folded), ",")
}

func uniqueSorted(in []string) []string {
	set := make(map[string]struct{}, len(in))
	for _, s := range in {
		set[s] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// DefaultAccount returns the account marked default, or the first
// listed account if none is marked (spec §8 boundary behavior).
func (c *Config) DefaultAccount() Account {
	for _, a := range c.Accounts {
		if a.Default {
			return a
		}
	}
	return c.Accounts[0]
}

// AccountByID resolves a certificate's account reference, falling back
// to the default account when unset.
func (c *Config) AccountByID(id string) (Account, bool) {
	if id == "" {
		return c.DefaultAccount(), true
	}
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

// CheckAccess implements spec §6's check_access: host is authorized for
// certID iff it is an exact authorized host or matches any configured
// regex (full-match semantics). Order-independent over both sets, per
// spec §8.
func CheckAccess(cert *Certificate, host string) bool {
	for _, h := range cert.AuthorizedHosts {
		if h == host {
			return true
		}
	}
	for _, re := range cert.compiledRegexes {
		if loc := re.FindStringIndex(host); loc != nil && loc[0] == 0 && loc[1] == len(host) {
			return true
		}
	}
	return false
}
