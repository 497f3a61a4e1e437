// Package certlayout maps (cert-id, key-type, kind, cert-type) tuples to
// on-disk paths under the certificates state directory (spec §3, §4.1).
// Every function here is pure — no I/O — so path computation can be unit
// tested for collision-freedom without touching a filesystem.
package certlayout

import (
	"path/filepath"

	"github.com/wikimedia/operations-software-certcentral/internal/certstate"
)

// Kind distinguishes in-progress material from published material.
type Kind string

const (
	New  Kind = "new"
	Live Kind = "live"
)

// CertType is a serialization-mode variant of the public certificate:
// leaf only, leaf+intermediates, or the full chain including the root.
// This is the closed registry design note §9 calls for.
type CertType string

const (
	CertOnly  CertType = "cert_only"
	Chain     CertType = "chain"
	FullChain CertType = "full_chain"
)

// CertTypes is the ordered, closed set of public cert-type variants an
// issued certificate is saved as.
var CertTypes = []CertType{CertOnly, Chain, FullChain}

func (ct CertType) fileName() string {
	switch ct {
	case CertOnly:
		return "cert.pem"
	case Chain:
		return "chain.pem"
	case FullChain:
		return "fullchain.pem"
	default:
		return string(ct) + ".pem"
	}
}

// PrivateKeyPath returns the path of the private key for (certID, keyType)
// under the given kind ("new" or "live"). Private-key paths ignore
// cert-type, per spec §4.1.
func PrivateKeyPath(root, certID string, kt certstate.KeyType, kind Kind) string {
	return filepath.Join(root, string(kind), "private", certID, string(kt)+".key")
}

// PublicCertPath returns the path of the public certificate variant ct for
// (certID, keyType) under kind.
func PublicCertPath(root, certID string, kt certstate.KeyType, kind Kind, ct CertType) string {
	return filepath.Join(root, string(kind), "public", certID, string(kt), ct.fileName())
}

// CSRScratchPath returns the reserved CSR scratch-directory path for
// (certID, keyType) — spec §3's "csrs/ reserved for CSR scratch."
func CSRScratchPath(root, certID string, kt certstate.KeyType) string {
	return filepath.Join(root, "csrs", certID, string(kt)+".csr")
}

// HTTP01ChallengePath returns the file path an HTTP-01 challenge response
// is published under: file name is the challenge token, contents are the
// key authorization (spec §3).
func HTTP01ChallengePath(root, token string) string {
	return filepath.Join(root, "http-01", token)
}

// DNS01ChallengePath returns the file path a DNS-01 challenge response is
// staged under before the zone-update command is invoked.
func DNS01ChallengePath(root, domain, token string) string {
	return filepath.Join(root, "dns-01", domain, token)
}

// AccountDir returns the directory holding an ACME account's key and
// registration, rooted at the (read-only, except for this) config
// directory, per spec §3.
func AccountDir(confRoot, accountID string) string {
	return filepath.Join(confRoot, "accounts", accountID)
}

func AccountKeyPath(confRoot, accountID string) string {
	return filepath.Join(AccountDir(confRoot, accountID), "account.key")
}

func AccountRegistrationPath(confRoot, accountID string) string {
	return filepath.Join(AccountDir(confRoot, accountID), "registration.json")
}
