package pod

import (
	"testing"
	"time"
)

func TestConnectionHealthBackoffDoubles(t *testing.T) {
	var h ConnectionHealth
	now := time.Now().UTC()
	initial := 30 * time.Second
	max := 10 * time.Minute

	want := []time.Duration{
		30 * time.Second,
		time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		10 * time.Minute, // capped
		10 * time.Minute,
	}
	for i, expect := range want {
		h.recordFailure(now, initial, max)
		if h.BackoffDelay != expect {
			t.Fatalf("failure %d: BackoffDelay = %v, want %v", i+1, h.BackoffDelay, expect)
		}
		if h.ConsecutiveFailures != i+1 {
			t.Fatalf("failure %d: ConsecutiveFailures = %d", i+1, h.ConsecutiveFailures)
		}
		if !h.NextAttempt.Equal(now.Add(expect)) {
			t.Fatalf("failure %d: NextAttempt = %v, want %v", i+1, h.NextAttempt, now.Add(expect))
		}
	}

	if h.Reachable() {
		t.Error("failing connection should not be reachable")
	}
	if !h.InBackoff(now.Add(5 * time.Minute)) {
		t.Error("should be in backoff inside the window")
	}
	if h.InBackoff(now.Add(11 * time.Minute)) {
		t.Error("backoff window should have expired")
	}
}

func TestConnectionHealthSuccessResets(t *testing.T) {
	var h ConnectionHealth
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		h.recordFailure(now, 30*time.Second, 10*time.Minute)
	}
	h.recordSuccess(now.Add(time.Minute))

	if !h.Reachable() {
		t.Error("should be reachable after a success")
	}
	if h.ConsecutiveFailures != 0 || h.BackoffDelay != 0 {
		t.Errorf("failure state not reset: %+v", h)
	}
	if h.InBackoff(now.Add(time.Minute)) {
		t.Error("success should clear the backoff window")
	}

	// Next failure streak starts the backoff ladder over.
	h.recordFailure(now.Add(2*time.Minute), 30*time.Second, 10*time.Minute)
	if h.BackoffDelay != 30*time.Second {
		t.Errorf("backoff should restart at initial, got %v", h.BackoffDelay)
	}
}

func TestConnectionHealthZeroValue(t *testing.T) {
	var h ConnectionHealth
	if h.Reachable() {
		t.Error("zero value should not be reachable")
	}
	if h.InBackoff(time.Now()) {
		t.Error("zero value should not be in backoff")
	}
}
