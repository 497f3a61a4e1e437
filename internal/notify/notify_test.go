package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wikimedia/operations-software-certcentral/internal/certstate"
)

func TestNotifyTransitionPostsJSON(t *testing.T) {
	var gotBody TransitionEvent
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-Auth-Token")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New([]Webhook{{URL: srv.URL, AuthHeaderName: "X-Auth-Token", AuthHeaderValue: "secret"}})
	ev := TransitionEvent{CertID: "example-org", KeyType: certstate.RSA2048, From: certstate.CSRPushed, To: certstate.ChallengesPushed, Timestamp: time.Now()}

	if err := n.NotifyTransition(ev); err != nil {
		t.Fatalf("NotifyTransition: %v", err)
	}
	if gotAuth != "secret" {
		t.Fatalf("auth header = %q, want secret", gotAuth)
	}
	if gotBody.CertID != "example-org" {
		t.Fatalf("cert id = %q, want example-org", gotBody.CertID)
	}
}

func TestNotifyTransitionErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New([]Webhook{{URL: srv.URL}})
	err := n.NotifyTransition(TransitionEvent{CertID: "x"})
	if err == nil {
		t.Fatalf("expected an error for a 500 response")
	}
}

func TestNotifyTransitionAttemptsAllHooks(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New([]Webhook{{URL: "http://127.0.0.1:1"}, {URL: srv.URL}})
	_ = n.NotifyTransition(TransitionEvent{CertID: "x"})
	if hits != 1 {
		t.Fatalf("hits = %d, want 1 (the working hook must still be attempted after the failing one)", hits)
	}
}

func TestNotifyBasicAuth(t *testing.T) {
	var user, pass string
	var ok bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New([]Webhook{{URL: srv.URL, BasicAuthUser: "u", BasicAuthPassword: "p"}})
	if err := n.NotifyTransition(TransitionEvent{CertID: "x"}); err != nil {
		t.Fatalf("NotifyTransition: %v", err)
	}
	if !ok || user != "u" || pass != "p" {
		t.Fatalf("basic auth = (%q, %q, %v), want (u, p, true)", user, pass, ok)
	}
}
