package pod

import "time"

// ConnectionHealth tracks whether the pod is answering polls and drives the
// exponential backoff applied while it is not.
//
// Values are copied out through Reconciler.Health(); the zero value means
// "no contact attempted yet".
type ConnectionHealth struct {
	// LastSuccess is when the device last answered a poll. Zero before the
	// first success.
	LastSuccess time.Time `json:"last_success"`

	// ConsecutiveFailures counts polls failed since the last success.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// BackoffDelay is the current backoff interval. Zero while healthy.
	BackoffDelay time.Duration `json:"backoff_delay"`

	// NextAttempt is the earliest time the next poll may run. Zero while
	// healthy (polls run on the normal cadence).
	NextAttempt time.Time `json:"next_attempt"`
}

// Reachable reports whether the last poll succeeded.
func (h ConnectionHealth) Reachable() bool {
	return !h.LastSuccess.IsZero() && h.ConsecutiveFailures == 0
}

// InBackoff reports whether polling is currently suppressed.
func (h ConnectionHealth) InBackoff(now time.Time) bool {
	return now.Before(h.NextAttempt)
}

// recordSuccess resets failure tracking after a successful poll.
func (h *ConnectionHealth) recordSuccess(now time.Time) {
	h.LastSuccess = now
	h.ConsecutiveFailures = 0
	h.BackoffDelay = 0
	h.NextAttempt = time.Time{}
}

// recordFailure increments the failure count and doubles the backoff delay,
// starting at initial and capping at max. The delay grows monotonically
// while failures continue.
func (h *ConnectionHealth) recordFailure(now time.Time, initial, max time.Duration) {
	h.ConsecutiveFailures++

	switch {
	case h.BackoffDelay == 0:
		h.BackoffDelay = initial
	case h.BackoffDelay*2 > max:
		h.BackoffDelay = max
	default:
		h.BackoffDelay *= 2
	}

	h.NextAttempt = now.Add(h.BackoffDelay)
}
