package certstate

import "time"

const (
	// MaxConsecutiveRetries is the number of immediate (no backoff) retries
	// granted to a fast-retry status before exponential backoff kicks in.
	MaxConsecutiveRetries = 3
	// MaxRetries parks a fast-retry status once exceeded:
	// next_retry is set to "never" (modeled as a nil *time.Time).
	MaxRetries = 30
	// SlowRetry is the fixed wait applied to slow-retry statuses.
	SlowRetry = time.Hour
)

// State is the per-(cert-id, key-type) certificate state. It is mutated
// only through AssignStatus; Status/Retries/NextRetry are read-only outside
// this package's AssignStatus, matching the source invariant (the Python
// original makes retries/next_retry read-only properties).
type State struct {
	status    Status
	retries   int
	nextRetry *time.Time // nil means "never"
}

// NewState returns the initial state for a freshly observed (cert-id,
// key-type) pair: status INITIAL, eligible for immediate retry.
func NewState(now time.Time) *State {
	s := &State{}
	s.AssignStatus(Initial, now)
	return s
}

func (s *State) Status() Status   { return s.status }
func (s *State) Retries() int     { return s.retries }

// NextRetry returns the absolute deadline, or nil for "never".
func (s *State) NextRetry() *time.Time { return s.nextRetry }

// Retry reports whether next_retry <= now; a nil next_retry ("never") is
// never eligible.
func (s *State) Retry(now time.Time) bool {
	if s.nextRetry == nil {
		return false
	}
	return !s.nextRetry.After(now)
}

// AssignStatus is the sole mutator, implementing the backoff policy of
// spec §4.2 exactly: steady statuses reset the counters, the one slow-retry
// status waits SlowRetry, and fast-retry statuses retry immediately for
// MaxConsecutiveRetries attempts, then back off exponentially (base 2) up
// to MaxRetries, after which next_retry becomes "never".
func (s *State) AssignStatus(status Status, now time.Time) {
	s.status = status

	switch classOf(status) {
	case classSteady:
		s.retries = 0
		t := now
		s.nextRetry = &t
	case classSlowRetry:
		s.retries++
		t := now.Add(SlowRetry)
		s.nextRetry = &t
	default: // classFastRetry
		s.retries++
		switch {
		case s.retries <= MaxConsecutiveRetries:
			t := now
			s.nextRetry = &t
		case s.retries <= MaxRetries:
			backoff := time.Duration(1<<uint(s.retries)) * time.Second
			t := now.Add(backoff)
			s.nextRetry = &t
		default:
			s.nextRetry = nil
		}
	}
}
