package http01

import "github.com/go-acme/lego/v3/challenge"

// Provider adapts Server to lego's challenge.Provider interface so a
// LegoSession can drive it directly during PushCSR's ObtainForCSR call.
type Provider struct {
	server *Server
}

// NewProvider wraps server as a lego challenge.Provider.
func NewProvider(server *Server) challenge.Provider {
	return &Provider{server: server}
}

// Present registers keyAuth for token so the next /.well-known request
// answers it.
func (p *Provider) Present(domain, token, keyAuth string) error {
	p.server.Put(token, keyAuth)
	return nil
}

// CleanUp removes token's entry once the CA has validated (or given up
// on) the challenge.
func (p *Provider) CleanUp(domain, token, keyAuth string) error {
	p.server.Remove(token)
	return nil
}
