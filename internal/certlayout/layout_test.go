package certlayout

import (
	"testing"

	"github.com/wikimedia/operations-software-certcentral/internal/certstate"
)

const root = "/var/lib/certcentral"

func TestPrivateKeyPathIgnoresCertType(t *testing.T) {
	a := PrivateKeyPath(root, "example-org", certstate.RSA2048, New)
	b := PrivateKeyPath(root, "example-org", certstate.RSA2048, New)
	if a != b {
		t.Fatalf("PrivateKeyPath must be deterministic: %q != %q", a, b)
	}
	if a == PrivateKeyPath(root, "example-org", certstate.ECPrime256v1, New) {
		t.Fatalf("different key types must not collide")
	}
	if a == PrivateKeyPath(root, "example-org", certstate.RSA2048, Live) {
		t.Fatalf("different kinds must not collide")
	}
}

func TestPublicCertPathNoCollisions(t *testing.T) {
	seen := make(map[string]string)
	certIDs := []string{"example-org", "example-org-2"}
	kinds := []Kind{New, Live}

	check := func(label, path string) {
		if prior, ok := seen[path]; ok {
			t.Fatalf("collision between %q and %q at %q", prior, label, path)
		}
		seen[path] = label
	}

	for _, id := range certIDs {
		for _, kt := range certstate.KeyTypes {
			check("private:"+id, PrivateKeyPath(root, id, kt, New))
			for _, kind := range kinds {
				for _, ct := range CertTypes {
					label := id + "/" + string(kt) + "/" + string(kind) + "/" + string(ct)
					check(label, PublicCertPath(root, id, kt, kind, ct))
				}
			}
		}
	}
}

func TestChallengePaths(t *testing.T) {
	if HTTP01ChallengePath(root, "tok-a") == HTTP01ChallengePath(root, "tok-b") {
		t.Fatalf("distinct tokens must not collide")
	}
	if DNS01ChallengePath(root, "example.org", "tok") == DNS01ChallengePath(root, "example.com", "tok") {
		return
	}
	a := DNS01ChallengePath(root, "example.org", "tok-a")
	b := DNS01ChallengePath(root, "example.org", "tok-b")
	if a == b {
		t.Fatalf("distinct tokens under the same domain must not collide")
	}
}

func TestAccountPaths(t *testing.T) {
	if AccountKeyPath(root, "acct1") == AccountKeyPath(root, "acct2") {
		t.Fatalf("distinct accounts must not collide")
	}
	if AccountKeyPath(root, "acct1") == AccountRegistrationPath(root, "acct1") {
		t.Fatalf("key path and registration path for the same account must differ")
	}
}
