package acmeclient

import (
	"crypto"
	"encoding/json"
	"os"

	"github.com/go-acme/lego/v3/registration"

	"github.com/wikimedia/operations-software-certcentral/internal/certlayout"
	"github.com/wikimedia/operations-software-certcentral/internal/x509util"
)

// Account is the acmeclient-side view of an ACME account: its own
// registration key plus the CA's directory URL, loaded from
// accounts/<account-id>/ under the (read-only, except for this) config
// directory — spec §3's account storage.
type Account struct {
	ID           string
	DirectoryURL string
	Email        string

	key  crypto.PrivateKey
	reg  *registration.Resource
}

// GetEmail, GetRegistration and GetPrivateKey satisfy lego's
// registration.User interface, letting an Account stand in directly as
// the ACME actor lego registers and signs requests for.
func (a *Account) GetEmail() string                        { return a.Email }
func (a *Account) GetRegistration() *registration.Resource  { return a.reg }
func (a *Account) GetPrivateKey() crypto.PrivateKey         { return a.key }

// LoadOrCreateAccount loads an existing account key from
// confRoot/accounts/<id>/, or generates and persists one if absent. The
// registration resource is loaded too, if present; a nil registration
// means the account still needs to Register() against the CA.
func LoadOrCreateAccount(confRoot, id, directoryURL, email string) (*Account, error) {
	a := &Account{ID: id, DirectoryURL: directoryURL, Email: email}

	keyPath := certlayout.AccountKeyPath(confRoot, id)
	key, err := x509util.LoadPrivateKey(keyPath)
	if err != nil {
		key, err = x509util.GenerateKey("rsa-2048")
		if err != nil {
			return nil, err
		}
		if err := x509util.SavePrivateKey(keyPath, key); err != nil {
			return nil, err
		}
	}
	a.key = key

	regPath := certlayout.AccountRegistrationPath(confRoot, id)
	if data, err := os.ReadFile(regPath); err == nil {
		var reg registration.Resource
		if jsonErr := json.Unmarshal(data, &reg); jsonErr == nil {
			a.reg = &reg
		}
	}

	return a, nil
}

// SaveRegistration persists the registration resource lego returned after
// a successful Register() call, so subsequent restarts reuse the account
// instead of re-registering.
func (a *Account) SaveRegistration(confRoot string, reg *registration.Resource) error {
	a.reg = reg
	data, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	regPath := certlayout.AccountRegistrationPath(confRoot, a.ID)
	return os.WriteFile(regPath, data, 0600)
}
