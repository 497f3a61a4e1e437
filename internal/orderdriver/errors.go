package orderdriver

import (
	"crypto/x509"
	"errors"

	"github.com/wikimedia/operations-software-certcentral/internal/acmeclient"
	"github.com/wikimedia/operations-software-certcentral/internal/x509util"
)

var errZoneUpdateFailed = errors.New("orderdriver: zone-update command failed")

// decodeChain parses a freshly downloaded PEM chain, wrapping a parse
// failure in acmeclient.ErrCertificateParse so callers can distinguish
// "keep retrying the fetch" from other failure modes per spec §4.4.
func decodeChain(pemChain []byte) (*x509.Certificate, []*x509.Certificate, error) {
	chain, err := x509util.ParseChain(pemChain)
	if err != nil {
		return nil, nil, errors.Join(acmeclient.ErrCertificateParse, err)
	}
	return chain.Leaf, chain.Intermediates, nil
}

// decodeIssuer parses the optional separate issuer certificate a CA
// exposes via ACME's "up" link relation (acmeclient.Session.GetCertificate's
// second return). An empty bundle is not an error: it means the CA
// exposed no issuer certificate, and ModeFullChainWithRoot output
// collapses to leaf+intermediates for that pair.
func decodeIssuer(pemIssuer []byte) (*x509.Certificate, error) {
	if len(pemIssuer) == 0 {
		return nil, nil
	}
	chain, err := x509util.ParseChain(pemIssuer)
	if err != nil {
		return nil, errors.Join(acmeclient.ErrCertificateParse, err)
	}
	return chain.Leaf, nil
}
