package pod

import "errors"

// Domain errors for the pod package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, pod.ErrTimeout) {
//	    // handle timeout case
//	}
var (
	// ErrUnreachable is returned when the pod cannot be contacted at all
	// (connection refused, DNS failure, device powered off).
	ErrUnreachable = errors.New("pod: unreachable")

	// ErrTimeout is returned when the pod accepted the connection but did
	// not answer within the per-call timeout.
	ErrTimeout = errors.New("pod: request timed out")

	// ErrMalformedResponse is returned when the pod answered with a body
	// that cannot be decoded. Individual missing fields are tolerated and
	// do not produce this error.
	ErrMalformedResponse = errors.New("pod: malformed response")

	// ErrRejected is returned when the pod explicitly refused a command.
	ErrRejected = errors.New("pod: command rejected")

	// ErrRetryExhausted is returned through the failure callback when a
	// pending command aged past its retry ceiling without confirmation.
	ErrRetryExhausted = errors.New("pod: command retries exhausted")

	// ErrNoSnapshot is returned when state is requested before the first
	// successful poll.
	ErrNoSnapshot = errors.New("pod: no snapshot yet")

	// ErrUnknownField is returned when a command targets a field the pod
	// does not expose.
	ErrUnknownField = errors.New("pod: unknown field")

	// ErrInvalidValue is returned when a command value fails validation
	// before it is queued.
	ErrInvalidValue = errors.New("pod: invalid value")
)
