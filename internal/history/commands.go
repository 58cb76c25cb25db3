package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/freesleephq/freesleep-core/internal/pod"
)

// Command log status values.
const (
	CommandStatusSubmitted = "submitted"
	CommandStatusConfirmed = "confirmed"
	CommandStatusFailed    = "failed"
)

const (
	defaultCommandLimit = 50
	maxCommandLimit     = 500
)

// CommandRecord is one row of the command audit trail. A command produces
// one row per lifecycle transition: submitted when queued, then confirmed
// or failed when the reconciler resolves it.
type CommandRecord struct {
	ID        int64     `json:"id"`
	CommandID string    `json:"command_id"`
	Scope     pod.Scope `json:"scope"`
	Field     pod.Field `json:"field"`
	Value     any       `json:"value"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	Retries   int       `json:"retries"`
	CreatedAt time.Time `json:"created_at"`
}

// CommandLogRepository stores and retrieves the command audit trail.
//
// Implementations must be thread-safe and use UTC timestamps.
type CommandLogRepository interface {
	// RecordSubmitted logs a freshly queued command.
	RecordSubmitted(ctx context.Context, cmd pod.PendingCommand) error

	// RecordConfirmed logs a device-confirmed command.
	RecordConfirmed(ctx context.Context, cmd pod.PendingCommand) error

	// RecordFailed logs an abandoned command with its failure reason.
	RecordFailed(ctx context.Context, cmd pod.PendingCommand, reason string) error

	// Recent returns the newest records, ordered newest first.
	Recent(ctx context.Context, limit int) ([]CommandRecord, error)

	// Prune deletes records older than the given duration and returns the
	// number of rows deleted.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteCommandLogRepository implements CommandLogRepository over the
// command_log table.
type SQLiteCommandLogRepository struct {
	db *sql.DB
}

// NewSQLiteCommandLogRepository creates a command log repository.
func NewSQLiteCommandLogRepository(db *sql.DB) *SQLiteCommandLogRepository {
	return &SQLiteCommandLogRepository{db: db}
}

// RecordSubmitted logs a freshly queued command.
func (r *SQLiteCommandLogRepository) RecordSubmitted(ctx context.Context, cmd pod.PendingCommand) error {
	return r.insert(ctx, cmd, CommandStatusSubmitted, "")
}

// RecordConfirmed logs a device-confirmed command.
func (r *SQLiteCommandLogRepository) RecordConfirmed(ctx context.Context, cmd pod.PendingCommand) error {
	return r.insert(ctx, cmd, CommandStatusConfirmed, "")
}

// RecordFailed logs an abandoned command with its failure reason.
func (r *SQLiteCommandLogRepository) RecordFailed(ctx context.Context, cmd pod.PendingCommand, reason string) error {
	return r.insert(ctx, cmd, CommandStatusFailed, reason)
}

func (r *SQLiteCommandLogRepository) insert(ctx context.Context, cmd pod.PendingCommand, status, detail string) error {
	if cmd.ID == "" {
		return fmt.Errorf("command id is required")
	}

	value, err := json.Marshal(cmd.Value)
	if err != nil {
		return fmt.Errorf("marshalling command value: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO command_log (command_id, scope, field, value, status, detail, retries, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cmd.ID,
		string(cmd.Scope),
		string(cmd.Field),
		string(value),
		status,
		detail,
		cmd.Retries,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting command log: %w", err)
	}
	return nil
}

// Recent returns the newest command records, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum records to return (default 50, max 500)
//
// Returns:
//   - []CommandRecord: Records ordered by created_at DESC (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteCommandLogRepository) Recent(ctx context.Context, limit int) ([]CommandRecord, error) {
	if limit <= 0 {
		limit = defaultCommandLimit
	}
	if limit > maxCommandLimit {
		limit = maxCommandLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, command_id, scope, field, value, status, detail, retries, created_at
		 FROM command_log
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	records := make([]CommandRecord, 0, limit)
	for rows.Next() {
		var rec CommandRecord
		var scope, field, valueJSON, createdAt string

		if err := rows.Scan(&rec.ID, &rec.CommandID, &scope, &field, &valueJSON,
			&rec.Status, &rec.Detail, &rec.Retries, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command log: %w", err)
		}
		rec.Scope = pod.Scope(scope)
		rec.Field = pod.Field(field)
		if err := json.Unmarshal([]byte(valueJSON), &rec.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling command value: %w", err)
		}
		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		rec.CreatedAt = ts

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}

	return records, nil
}

// Prune deletes command records older than the given duration.
func (r *SQLiteCommandLogRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM command_log WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting command log: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return deleted, nil
}
