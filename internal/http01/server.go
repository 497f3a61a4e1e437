// Package http01 is the HTTP-01 challenge server (component F, half of
// it): an in-process HTTP server that answers
// /.well-known/acme-challenge/<token> with the key authorization the
// CA's validation servers expect, adapted from the teacher's
// core/http_server.go gorilla/mux challenge handler.
package http01

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/wikimedia/operations-software-certcentral/internal/logging"
)

// Server answers ACME HTTP-01 validation requests on a fixed path,
// keyed by challenge token. It is safe for concurrent use by multiple
// in-flight orders.
type Server struct {
	srv *http.Server

	mu     sync.RWMutex
	tokens map[string]string
}

// NewServer builds an HTTP-01 challenge server bound to addr (typically
// ":80", matching the well-known path's required port). The server is
// not started until Start is called.
func NewServer(addr string) *Server {
	s := &Server{tokens: make(map[string]string)}

	r := mux.NewRouter()
	r.HandleFunc("/.well-known/acme-challenge/{token}", s.handleChallenge).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start begins serving in the background. Bind errors are logged, not
// returned, matching the teacher's fire-and-forget ListenAndServe.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("http-01: server stopped: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Put registers the key authorization for token so the next validation
// request can be answered.
func (s *Server) Put(token, keyAuthorization string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = keyAuthorization
}

// Remove clears a single token's entry once its challenge is resolved
// (accepted or abandoned), rather than the teacher's clear-everything
// ClearACMETokens — challenges for distinct cert-ids are in flight
// concurrently here, so a blanket clear would drop unrelated tokens.
func (s *Server) Remove(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// Get returns the key authorization registered for token, for the local
// self-check step (spec §4.4's PerformLocalValidation) to confirm the
// path is actually servable before telling the CA to validate it.
func (s *Server) Get(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tokens[token]
	return v, ok
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	keyAuth, ok := s.Get(token)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	logging.Debug("http-01: serving challenge response for token %s", token)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(keyAuth))
}
