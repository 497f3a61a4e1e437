package acmeclient

import (
	"testing"

	"github.com/go-acme/lego/v3/registration"

	"github.com/wikimedia/operations-software-certcentral/internal/x509util"
)

func TestLoadOrCreateAccountGeneratesKeyOnFirstUse(t *testing.T) {
	root := t.TempDir()

	a, err := LoadOrCreateAccount(root, "acct1", "https://acme.example.org/directory", "hostmaster@example.org")
	if err != nil {
		t.Fatalf("LoadOrCreateAccount: %v", err)
	}
	if a.GetPrivateKey() == nil {
		t.Fatalf("expected a generated private key")
	}
	if a.GetRegistration() != nil {
		t.Fatalf("a freshly created account should have no registration yet")
	}
	if a.GetEmail() != "hostmaster@example.org" {
		t.Fatalf("GetEmail() = %q", a.GetEmail())
	}
}

func TestLoadOrCreateAccountReusesExistingKey(t *testing.T) {
	root := t.TempDir()

	first, err := LoadOrCreateAccount(root, "acct1", "https://acme.example.org/directory", "a@example.org")
	if err != nil {
		t.Fatalf("LoadOrCreateAccount (first): %v", err)
	}

	second, err := LoadOrCreateAccount(root, "acct1", "https://acme.example.org/directory", "a@example.org")
	if err != nil {
		t.Fatalf("LoadOrCreateAccount (second): %v", err)
	}

	pub1, err := x509util.PublicKey(first.GetPrivateKey())
	if err != nil {
		t.Fatalf("derive public key: %v", err)
	}
	pub2, err := x509util.PublicKey(second.GetPrivateKey())
	if err != nil {
		t.Fatalf("derive public key: %v", err)
	}
	id1, err := GenerateCSRID("example.org", nil, pub1)
	if err != nil {
		t.Fatalf("GenerateCSRID: %v", err)
	}
	id2, err := GenerateCSRID("example.org", nil, pub2)
	if err != nil {
		t.Fatalf("GenerateCSRID: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("reloading the same account id must reuse the same key, not generate a new one")
	}
}

func TestSaveRegistrationPersistsAcrossReload(t *testing.T) {
	root := t.TempDir()

	a, err := LoadOrCreateAccount(root, "acct1", "https://acme.example.org/directory", "a@example.org")
	if err != nil {
		t.Fatalf("LoadOrCreateAccount: %v", err)
	}

	reg := &registration.Resource{URI: "https://acme.example.org/acct/1"}
	if err := a.SaveRegistration(root, reg); err != nil {
		t.Fatalf("SaveRegistration: %v", err)
	}

	reloaded, err := LoadOrCreateAccount(root, "acct1", "https://acme.example.org/directory", "a@example.org")
	if err != nil {
		t.Fatalf("LoadOrCreateAccount (reload): %v", err)
	}
	if reloaded.GetRegistration() == nil {
		t.Fatalf("expected the persisted registration to be reloaded")
	}
	if reloaded.GetRegistration().URI != reg.URI {
		t.Fatalf("reloaded registration URI = %q, want %q", reloaded.GetRegistration().URI, reg.URI)
	}
}
