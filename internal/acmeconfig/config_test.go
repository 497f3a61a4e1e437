package acmeconfig

import (
	"os"
	"path/filepath"
	"testing"
)

const baseConfigYAML = `
accounts:
  - id: acct1
    directory: https://acme.example.org/directory
    email: hostmaster@example.org
    default: true

certificates:
  example-org:
    CN: example.org
    SNI:
      - example.org
      - www.example.org
    challenge: http-01
    account: acct1
    staging_time: 60
    authorized_hosts:
      - host1.example.org
    authorized_regexes:
      - "host[0-9]+\\.example\\.org"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadBasicConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseConfigYAML)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Accounts) != 1 || cfg.Accounts[0].ID != "acct1" {
		t.Fatalf("accounts = %+v", cfg.Accounts)
	}
	cert, ok := cfg.Certificates["example-org"]
	if !ok {
		t.Fatalf("missing certificate example-org")
	}
	if cert.CommonName != "example.org" {
		t.Fatalf("CommonName = %q, want example.org", cert.CommonName)
	}
	if cert.StagingTime().Seconds() != 60 {
		t.Fatalf("StagingTime = %v, want 60s", cert.StagingTime())
	}
}

func TestLoadMergesConfD(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseConfigYAML)
	confD := filepath.Join(dir, "conf.d")
	if err := os.MkdirAll(confD, 0755); err != nil {
		t.Fatalf("mkdir conf.d: %v", err)
	}
	writeFile(t, confD, "01-host2.yaml", "certname: example-org\nhostname: host2.example.org\n")

	cfg, err := Load(path, confD)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cert := cfg.Certificates["example-org"]
	found := false
	for _, h := range cert.AuthorizedHosts {
		if h == "host2.example.org" {
			found = true
		}
	}
	if !found {
		t.Fatalf("conf.d hostname not merged: %v", cert.AuthorizedHosts)
	}
}

func TestLoadConfDUnknownCertFails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseConfigYAML)
	confD := filepath.Join(dir, "conf.d")
	if err := os.MkdirAll(confD, 0755); err != nil {
		t.Fatalf("mkdir conf.d: %v", err)
	}
	writeFile(t, confD, "01-bad.yaml", "certname: does-not-exist\nhostname: host2.example.org\n")

	if _, err := Load(path, confD); err == nil {
		t.Fatalf("expected an error for a conf.d document referencing an unknown certificate")
	}
}

func TestLoadMissingConfDDirIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseConfigYAML)

	if _, err := Load(path, filepath.Join(dir, "does-not-exist")); err != nil {
		t.Fatalf("Load with a missing conf.d directory: %v", err)
	}
}

func TestValidateRejectsMultipleDefaultAccounts(t *testing.T) {
	cfg := &Config{
		Accounts: []Account{
			{ID: "a", Directory: "https://a", Default: true},
			{ID: "b", Directory: "https://b", Default: true},
		},
		Certificates: map[string]*Certificate{},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for two default accounts")
	}
}

func TestValidateRejectsUnknownAccountReference(t *testing.T) {
	cfg := &Config{
		Accounts:     []Account{{ID: "a", Directory: "https://a", Default: true}},
		Certificates: map[string]*Certificate{"x": {CommonName: "x.example.org", Account: "missing"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for an unknown account reference")
	}
}

func TestValidateRejectsCaseCollision(t *testing.T) {
	cfg := &Config{
		Accounts: []Account{{ID: "a", Directory: "https://a", Default: true}},
		Certificates: map[string]*Certificate{
			"x": {CommonName: "Example.org", SNI: []string{"a.example.org"}},
			"y": {CommonName: "example.ORG", SNI: []string{"A.example.org"}},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected a case-collision error between certificates x and y")
	}
}

func TestValidateRequiresExecutableZoneUpdateCommandForDNS01(t *testing.T) {
	cfg := &Config{
		Accounts:     []Account{{ID: "a", Directory: "https://a", Default: true}},
		Certificates: map[string]*Certificate{"x": {CommonName: "x.example.org", Challenge: "dns-01"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error: dns-01 used but no zone-update command configured")
	}
}

func TestDefaultAccountFallback(t *testing.T) {
	cfg := &Config{Accounts: []Account{{ID: "only"}}}
	if got := cfg.DefaultAccount(); got.ID != "only" {
		t.Fatalf("DefaultAccount = %+v, want the sole account when none is marked default", got)
	}
}

func TestAccountByIDEmptyFallsBackToDefault(t *testing.T) {
	cfg := &Config{Accounts: []Account{{ID: "a"}, {ID: "b", Default: true}}}
	acct, ok := cfg.AccountByID("")
	if !ok || acct.ID != "b" {
		t.Fatalf("AccountByID(\"\") = %+v, %v, want the default account b", acct, ok)
	}
}

func TestCheckAccessExactHostAndFullMatchRegex(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", baseConfigYAML)
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cert := cfg.Certificates["example-org"]

	if !CheckAccess(cert, "host1.example.org") {
		t.Fatalf("exact authorized host was rejected")
	}
	if !CheckAccess(cert, "host42.example.org") {
		t.Fatalf("regex-authorized host was rejected")
	}
	if CheckAccess(cert, "evil.example.org") {
		t.Fatalf("unauthorized host was accepted")
	}
	if CheckAccess(cert, "host1.example.org.evil.org") {
		t.Fatalf("regex match must be a full match, not a prefix match")
	}
}
