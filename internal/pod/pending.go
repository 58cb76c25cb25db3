package pod

import (
	"time"

	"github.com/google/uuid"
)

// PendingCommand is a locally desired write awaiting device confirmation.
//
// Commands reference their target by scope and field key, never by object
// reference, so cache snapshots can be replaced wholesale without dangling
// pointers. The set is keyed by scope+field: submitting a second command for
// the same field replaces the first (latest wins), which is what coalesces a
// temperature slider into a single device write.
type PendingCommand struct {
	// ID is assigned at submission and survives coalescing replacement,
	// threading through the command log and failure surfacing.
	ID string `json:"id"`

	Scope Scope `json:"scope"`
	Field Field `json:"field"`

	// Value is the desired value, normalised by ValidateCommand.
	// Nil for one-shot actions.
	Value any `json:"value"`

	// OneShot marks actions with no reported field to confirm against;
	// they clear on device ack instead of on state match.
	OneShot bool `json:"one_shot"`

	// IssuedAt is when the user submitted the command.
	IssuedAt time.Time `json:"issued_at"`

	// LastSent is when the reconciler last wrote it to the device.
	// Zero until the first send.
	LastSent time.Time `json:"last_sent,omitempty"`

	// Retries counts sends so far.
	Retries int `json:"retries"`
}

// NewPendingCommand builds a pending command for an already validated value.
func NewPendingCommand(scope Scope, field Field, value any, now time.Time) PendingCommand {
	return PendingCommand{
		ID:       uuid.NewString(),
		Scope:    scope,
		Field:    field,
		Value:    value,
		OneShot:  IsOneShot(field),
		IssuedAt: now,
	}
}

// Key returns the coalescing key: one pending command per scope+field.
func (c PendingCommand) Key() string {
	return string(c.Scope) + "/" + string(c.Field)
}

// Due reports whether the command should be (re)sent now: never sent yet,
// or sent longer than retryInterval ago without confirmation.
func (c PendingCommand) Due(now time.Time, retryInterval time.Duration) bool {
	if c.LastSent.IsZero() {
		return true
	}
	return now.Sub(c.LastSent) >= retryInterval
}
