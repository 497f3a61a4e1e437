// Package x509util is the X.509 codec collaborator spec.md §1 calls out as
// out of scope for the core state machine: key generation, CSR
// construction, self-signed cert construction, and PEM load/save. It is
// built on github.com/go-acme/lego/v3/certcrypto for the ACME-flavored key
// and CSR primitives, and crypto/x509 directly for the snake-oil
// self-signed certificate, following the same template-and-sign pattern
// the teacher uses in core/certdb.go's generateCertificates.
package x509util

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-acme/lego/v3/certcrypto"

	"github.com/wikimedia/operations-software-certcentral/internal/certstate"
)

// keyTypeParams binds each certstate.KeyType to the certcrypto.KeyType used
// to generate it — the "generate-params" half of design note §9's closed
// registry ("(generate-params, renewal-predicate, save-serializer)").
var keyTypeParams = map[certstate.KeyType]certcrypto.KeyType{
	certstate.ECPrime256v1: certcrypto.EC256,
	certstate.RSA2048:      certcrypto.RSA2048,
}

// GenerateKey creates a fresh private key of the requested type.
func GenerateKey(kt certstate.KeyType) (crypto.PrivateKey, error) {
	params, ok := keyTypeParams[kt]
	if !ok {
		return nil, fmt.Errorf("x509util: unknown key type %q", kt)
	}
	return certcrypto.GeneratePrivateKey(params)
}

// SavePrivateKey PEM-encodes key and writes it to path via a temp-file +
// rename so a concurrent reader never observes a partial write (spec §5).
func SavePrivateKey(path string, key crypto.PrivateKey) error {
	return atomicWrite(path, certcrypto.PEMEncode(key), 0600)
}

// LoadPrivateKey reads and parses a PEM-encoded private key.
func LoadPrivateKey(path string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return certcrypto.ParsePEMPrivateKey(data)
}

// PublicKey extracts the public half of a generated private key.
func PublicKey(key crypto.PrivateKey) (crypto.PublicKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &k.PublicKey, nil
	default:
		return nil, fmt.Errorf("x509util: unsupported private key type %T", key)
	}
}

// GenerateCSR builds a DER-encoded CSR for commonName + sans signed by key.
func GenerateCSR(key crypto.PrivateKey, commonName string, sans []string) ([]byte, error) {
	return certcrypto.GenerateCSR(key, commonName, sans, false)
}

// SortedUniqueSANs case-folds and deduplicates a SAN list, preserving
// nothing about original order — used wherever spec requires comparing SAN
// sets rather than SAN lists (classifier SUBJECTS_CHANGED check, CSR id
// fingerprinting).
func SortedUniqueSANs(sans []string) []string {
	set := make(map[string]struct{}, len(sans))
	for _, s := range sans {
		set[strings.ToLower(s)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Chain is a parsed certificate chain: Leaf followed by any intermediates
// (and, if present, the root), as decoded from a PEM bundle.
type Chain struct {
	Leaf          *x509.Certificate
	Intermediates []*x509.Certificate
}

// LoadCertificateChain reads and parses a PEM bundle from path. A missing
// or unreadable file is reported as an error — callers (notably the status
// classifier) treat that as "no certificate here yet."
func LoadCertificateChain(path string) (*Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	certs, err := certcrypto.ParsePEMBundle(data)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("x509util: %s contains no certificates", path)
	}
	return &Chain{Leaf: certs[0], Intermediates: certs[1:]}, nil
}

// ParseChain decodes a PEM bundle already held in memory (e.g. freshly
// downloaded from the CA) rather than read from disk.
func ParseChain(data []byte) (*Chain, error) {
	certs, err := certcrypto.ParsePEMBundle(data)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("x509util: PEM bundle contains no certificates")
	}
	return &Chain{Leaf: certs[0], Intermediates: certs[1:]}, nil
}

// SaveMode picks which part of an issued chain a given CertType writes —
// the "save-serializer" half of the closed key-type/cert-type registries.
type SaveMode int

const (
	ModeLeafOnly SaveMode = iota
	ModeLeafPlusIntermediates
	ModeFullChainWithRoot
)

// SaveCertificate PEM-encodes leaf (+ intermediates, + roots under
// ModeFullChainWithRoot) and writes it atomically to path. roots is the
// trust-anchor material a CA makes available beyond its own
// intermediates (see acmeclient.Session.GetCertificate's issuer return);
// it is ignored for every mode but ModeFullChainWithRoot, and a nil/empty
// roots collapses that mode to the same bytes as
// ModeLeafPlusIntermediates, which is expected when the CA exposed none.
func SaveCertificate(path string, leaf *x509.Certificate, intermediates []*x509.Certificate, roots []*x509.Certificate, mode SaveMode) error {
	var buf []byte
	buf = append(buf, certcrypto.PEMEncode(certcrypto.DERCertificateBytes(leaf.Raw))...)
	switch mode {
	case ModeLeafPlusIntermediates, ModeFullChainWithRoot:
		for _, c := range intermediates {
			buf = append(buf, certcrypto.PEMEncode(certcrypto.DERCertificateBytes(c.Raw))...)
		}
	}
	if mode == ModeFullChainWithRoot {
		for _, c := range roots {
			buf = append(buf, certcrypto.PEMEncode(certcrypto.DERCertificateBytes(c.Raw))...)
		}
	}
	return atomicWrite(path, buf, 0644)
}

// IsSelfSigned reports whether cert's issuer and subject are identical and
// it verifies against its own public key — the snake-oil placeholder test
// used by the status classifier's step 3.
func IsSelfSigned(cert *x509.Certificate) bool {
	if cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature) != nil {
		return false
	}
	return cert.Subject.String() == cert.Issuer.String()
}

// NeedsRenewal implements the renewal predicate referenced by spec §4.3
// step 6: true once less than one third of the certificate's total
// lifetime remains.
func NeedsRenewal(cert *x509.Certificate, now time.Time) bool {
	total := cert.NotAfter.Sub(cert.NotBefore)
	remaining := cert.NotAfter.Sub(now)
	return remaining*3 <= total
}

// GenerateSelfSigned builds a locally-trusted, self-signed snake-oil
// leaf/chain pair for commonName + sans, following the same
// template-and-CreateCertificate pattern the teacher uses for its
// self-signed root CA in core/certdb.go's generateCertificates.
func GenerateSelfSigned(key crypto.PrivateKey, commonName string, sans []string, validFor time.Duration) (*x509.Certificate, error) {
	pub, err := PublicKey(key)
	if err != nil {
		return nil, err
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, err
	}

	notBefore := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"certcentral snakeoil"}},
		Issuer:                pkix.Name{CommonName: commonName, Organization: []string{"certcentral snakeoil"}},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validFor),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:              sans,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, key)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}

func atomicWrite(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
