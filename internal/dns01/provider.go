package dns01

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-acme/lego/v3/challenge"
)

// acmeChallengeRecord computes the _acme-challenge FQDN and TXT record
// value for a DNS-01 key authorization, per RFC 8555 §8.4.
func acmeChallengeRecord(domain, keyAuth string) (fqdn, value string) {
	sum := sha256.Sum256([]byte(keyAuth))
	value = base64.RawURLEncoding.EncodeToString(sum[:])
	fqdn = "_acme-challenge." + strings.TrimSuffix(domain, ".") + "."
	return fqdn, value
}

// Provider adapts Publisher to lego's challenge.Provider interface: on
// Present, it writes the challenge file and runs the zone-update
// command synchronously, matching spec §4.5's "executed synchronously"
// requirement.
type Provider struct {
	publisher *Publisher
}

// NewProvider wraps publisher as a lego challenge.Provider.
func NewProvider(publisher *Publisher) challenge.Provider {
	return &Provider{publisher: publisher}
}

// Present computes the DNS-01 key authorization digest for domain/token
// and publishes it as a TXT record via the configured zone-update
// command.
func (p *Provider) Present(domain, token, keyAuth string) error {
	fqdn, value := acmeChallengeRecord(domain, keyAuth)

	if err := p.publisher.WriteChallenges([]Record{{Domain: fqdn, Token: token, Value: value}}); err != nil {
		return err
	}

	ok := p.publisher.Publish(context.Background(), []Record{{Domain: fqdn, Value: value}})
	if !ok {
		return fmt.Errorf("dns01: zone-update command failed for %s", fqdn)
	}
	return nil
}

// CleanUp is a no-op: spec's DNS-01 model leaves published challenge
// records in place rather than retracting them (no corresponding
// "remove" command is part of the external zone-update contract).
func (p *Provider) CleanUp(domain, token, keyAuth string) error {
	return nil
}
