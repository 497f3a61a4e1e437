package certstate

import (
	"testing"
	"time"
)

func TestNewStateIsInitialAndEligible(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewState(now)

	if s.Status() != Initial {
		t.Fatalf("status = %v, want Initial", s.Status())
	}
	if s.Retries() != 0 {
		t.Fatalf("retries = %d, want 0", s.Retries())
	}
	if !s.Retry(now) {
		t.Fatalf("freshly created state should be retry-eligible immediately")
	}
}

func TestSteadyStatusResetsRetries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewState(now)

	// Push it through several fast-retry attempts first.
	s.AssignStatus(CSRPushed, now)
	s.AssignStatus(CSRPushed, now)
	if s.Retries() == 0 {
		t.Fatalf("expected retries to have accumulated before steady transition")
	}

	s.AssignStatus(Valid, now)
	if s.Retries() != 0 {
		t.Fatalf("VALID did not reset retries: got %d", s.Retries())
	}
	if !s.Retry(now) {
		t.Fatalf("steady status must be immediately retry-eligible")
	}
}

func TestReadyToBePushedIsSlowRetry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewState(now)

	s.AssignStatus(ReadyToBePushed, now)
	if s.Retries() != 1 {
		t.Fatalf("retries = %d, want 1", s.Retries())
	}
	if s.Retry(now) {
		t.Fatalf("slow-retry status must not be eligible immediately")
	}
	if s.Retry(now.Add(SlowRetry - time.Second)) {
		t.Fatalf("slow-retry status must not be eligible before SlowRetry elapses")
	}
	if !s.Retry(now.Add(SlowRetry)) {
		t.Fatalf("slow-retry status must be eligible once SlowRetry has elapsed")
	}
}

// TestFastRetryBackoffSchedule exercises spec §8's literal scenario: three
// immediate retries, then exponential backoff, parking permanently once
// MaxRetries is exceeded.
func TestFastRetryBackoffSchedule(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewState(now)

	for i := 0; i < MaxConsecutiveRetries; i++ {
		s.AssignStatus(CSRPushed, now)
		if !s.Retry(now) {
			t.Fatalf("retry %d: expected immediate eligibility during the first %d retries", i+1, MaxConsecutiveRetries)
		}
	}

	// Retry 4: first backoff retry, no longer immediately eligible.
	s.AssignStatus(CSRPushed, now)
	if s.Retries() != MaxConsecutiveRetries+1 {
		t.Fatalf("retries = %d, want %d", s.Retries(), MaxConsecutiveRetries+1)
	}
	if s.Retry(now) {
		t.Fatalf("retry %d should no longer be immediately eligible", s.Retries())
	}
	nr := s.NextRetry()
	if nr == nil {
		t.Fatalf("expected a finite next_retry once backing off, not \"never\"")
	}

	// Drive it past MaxRetries; next_retry must become nil ("never").
	for s.Retries() < MaxRetries {
		s.AssignStatus(CSRPushed, now)
	}
	if s.Retries() != MaxRetries {
		t.Fatalf("retries = %d, want %d", s.Retries(), MaxRetries)
	}
	if s.NextRetry() == nil {
		t.Fatalf("at exactly MaxRetries, next_retry should still be scheduled")
	}

	s.AssignStatus(CSRPushed, now)
	if s.Retries() != MaxRetries+1 {
		t.Fatalf("retries = %d, want %d", s.Retries(), MaxRetries+1)
	}
	if s.NextRetry() != nil {
		t.Fatalf("beyond MaxRetries, next_retry must be nil (never)")
	}
	if s.Retry(now.Add(24 * time.Hour)) {
		t.Fatalf("a permanently parked fast-retry status must never report eligible again")
	}
}

func TestHandledStatusesExcludeRejectedAndError(t *testing.T) {
	if HandledStatuses[ChallengesRejected] {
		t.Fatalf("CHALLENGES_REJECTED must have no handler-table entry")
	}
	if HandledStatuses[ACMEChiefError] {
		t.Fatalf("ACMECHIEF_ERROR must have no handler-table entry")
	}
	if !IsSteady(ChallengesRejected) || !IsSteady(ACMEChiefError) {
		t.Fatalf("CHALLENGES_REJECTED and ACMECHIEF_ERROR must still reset retries like steady statuses")
	}
}

func TestStatusStringAndJSON(t *testing.T) {
	if Valid.String() != "VALID" {
		t.Fatalf("String() = %q, want VALID", Valid.String())
	}
	b, err := Valid.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(b) != `"VALID"` {
		t.Fatalf("MarshalJSON = %s, want \"VALID\"", b)
	}
}
