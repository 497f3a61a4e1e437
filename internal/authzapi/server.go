// Package authzapi is the client-facing authorization layer spec.md §1
// calls out as an external collaborator: it exposes check_access and a
// status dashboard over HTTP, and gates fetches of live/ material by
// host, adapting the routing and HTML-table rendering of the teacher's
// core/adminpanel.go (gorilla/mux, a plain-text + HTML status view).
package authzapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"

	"github.com/wikimedia/operations-software-certcentral/internal/acmeconfig"
	"github.com/wikimedia/operations-software-certcentral/internal/certlayout"
	"github.com/wikimedia/operations-software-certcentral/internal/certstate"
	"github.com/wikimedia/operations-software-certcentral/internal/logging"
)

// StatusSource lets the server read the controller's current status map
// without taking a hard dependency on the controller package.
type StatusSource interface {
	StatusOf(certID string, kt certstate.KeyType) (certstate.Status, bool)
	RetryInfoOf(certID string, kt certstate.KeyType) (retries int, nextRetry *time.Time, ok bool)
}

// Server is the authzapi HTTP surface.
type Server struct {
	srv    *http.Server
	root   string
	cfg    func() *acmeconfig.Config
	status StatusSource
}

// NewServer builds an authzapi server bound to addr. cfg is called on
// every request so a config reload is picked up without restarting the
// server.
func NewServer(addr, certsRoot string, cfg func() *acmeconfig.Config, status StatusSource) *Server {
	s := &Server{root: certsRoot, cfg: cfg, status: status}

	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/certificate/{certID}/{keyType}/{certType}", s.handleCertificate).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/access", s.handleAPIAccess).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/status", s.handleAPIStatus).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("authzapi: server stopped: %v", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleStatus renders the cert-id × key-type status map, as an HTML
// table for a browser or plain text for curl/scripted clients
// (distinguished by Accept, matching the teacher's adminpanel split
// between the HTML dashboard and a terminal-oriented view).
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg()
	certIDs := make([]string, 0, len(cfg.Certificates))
	for id := range cfg.Certificates {
		certIDs = append(certIDs, id)
	}
	sort.Strings(certIDs)

	cols := []string{"cert-id", "key-type", "status"}
	var rows [][]string
	for _, id := range certIDs {
		for _, kt := range certstate.KeyTypes {
			st, ok := s.status.StatusOf(id, kt)
			if !ok {
				continue
			}
			rows = append(rows, []string{id, string(kt), st.String()})
		}
	}

	if acceptsHTML(r) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, AsHTMLTable(cols, rows))
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, AsTable(cols, rows))
}

// accessResponse is the body of GET /api/v1/access.
type accessResponse struct {
	Authorized bool `json:"authorized"`
}

// handleAPIAccess backs check_access (spec §6) for the authorization
// layer to call directly: ?host=...&cert=... reports whether host is
// authorized for cert without also serving the material itself.
func (s *Server) handleAPIAccess(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	certID := r.URL.Query().Get("cert")

	cfg := s.cfg()
	cert, ok := cfg.Certificates[certID]
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accessResponse{Authorized: acmeconfig.CheckAccess(cert, host)})
}

// entryStatus is one (cert-id, key-type) pair's JSON status entry.
type entryStatus struct {
	Status    string     `json:"status"`
	Retries   int        `json:"retries"`
	NextRetry *time.Time `json:"next_retry"`
}

// handleAPIStatus serves the same status map handleStatus renders as a
// table, as JSON (cert-id -> key-type -> status/retries/next-retry),
// for scripted consumers.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg()
	out := make(map[string]map[certstate.KeyType]entryStatus, len(cfg.Certificates))
	for id := range cfg.Certificates {
		perKT := make(map[certstate.KeyType]entryStatus, len(certstate.KeyTypes))
		for _, kt := range certstate.KeyTypes {
			st, ok := s.status.StatusOf(id, kt)
			if !ok {
				continue
			}
			retries, nextRetry, _ := s.status.RetryInfoOf(id, kt)
			perKT[kt] = entryStatus{Status: st.String(), Retries: retries, NextRetry: nextRetry}
		}
		if len(perKT) > 0 {
			out[id] = perKT
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleCertificate serves a live/ public certificate artifact to an
// authorized caller, gated by check_access(host, cert-id) (spec §6).
// The caller's identity is taken from its resolved hostname (PTR
// lookup on the remote address), matching the source's host-based
// authorization model.
func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	certID := vars["certID"]
	kt := certstate.KeyType(vars["keyType"])
	ct := certlayout.CertType(vars["certType"])

	cfg := s.cfg()
	cert, ok := cfg.Certificates[certID]
	if !ok {
		http.NotFound(w, r)
		return
	}

	host := requestHost(r)
	if !acmeconfig.CheckAccess(cert, host) {
		logging.Warning("authzapi: denied %s access to %s", host, certID)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	path := certlayout.PublicCertPath(s.root, certID, kt, certlayout.Live, ct)
	http.ServeFile(w, r, path)
}

func acceptsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return accept == "" || contains(accept, "text/html")
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// requestHost resolves the caller's hostname via reverse DNS on its
// remote address, falling back to the raw address if the lookup fails.
func requestHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	names, err := net.LookupAddr(host)
	if err != nil || len(names) == 0 {
		return host
	}
	return trimTrailingDot(names[0])
}

func trimTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}
