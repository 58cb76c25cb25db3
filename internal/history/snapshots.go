package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/freesleephq/freesleep-core/internal/pod"
)

const (
	defaultSnapshotLimit = 50
	maxSnapshotLimit     = 500
)

// SnapshotEntry is one recorded poll snapshot.
type SnapshotEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// Snapshot is the full device snapshot as recorded.
	Snapshot pod.Snapshot `json:"snapshot"`

	// CreatedAt is when the snapshot was recorded (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// SnapshotRepository stores and retrieves poll snapshot history.
//
// Implementations must be thread-safe and use UTC timestamps.
type SnapshotRepository interface {
	// Record persists one device snapshot.
	Record(ctx context.Context, snap pod.Snapshot) error

	// Recent returns the newest snapshots, ordered newest first.
	Recent(ctx context.Context, limit int) ([]SnapshotEntry, error)

	// Prune deletes snapshots older than the given duration and returns
	// the number of rows deleted.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteSnapshotRepository implements SnapshotRepository over the
// state_history table, storing snapshots as JSON.
type SQLiteSnapshotRepository struct {
	db *sql.DB
}

// NewSQLiteSnapshotRepository creates a snapshot repository.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteSnapshotRepository: Repository instance ready for use
func NewSQLiteSnapshotRepository(db *sql.DB) *SQLiteSnapshotRepository {
	return &SQLiteSnapshotRepository{db: db}
}

// Record persists one device snapshot.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - snap: Snapshot to persist
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteSnapshotRepository) Record(ctx context.Context, snap pod.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (snapshot, created_at) VALUES (?, ?)",
		string(data),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}
	return nil
}

// Recent returns the newest snapshots, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - limit: Maximum entries to return (default 50, max 500)
//
// Returns:
//   - []SnapshotEntry: Entries ordered by created_at DESC (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteSnapshotRepository) Recent(ctx context.Context, limit int) ([]SnapshotEntry, error) {
	if limit <= 0 {
		limit = defaultSnapshotLimit
	}
	if limit > maxSnapshotLimit {
		limit = maxSnapshotLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, snapshot, created_at
		 FROM state_history
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying snapshot history: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	entries := make([]SnapshotEntry, 0, limit)
	for rows.Next() {
		var entry SnapshotEntry
		var snapJSON, createdAt string

		if err := rows.Scan(&entry.ID, &snapJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot history: %w", err)
		}
		if err := json.Unmarshal([]byte(snapJSON), &entry.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshalling snapshot: %w", err)
		}
		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = ts

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshot history: %w", err)
	}

	return entries, nil
}

// Prune deletes snapshots older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Retention window; older rows are deleted
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteSnapshotRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting snapshot history: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return deleted, nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	ts, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return ts, nil
	}

	// Rows written by SQLite's CURRENT_TIMESTAMP default use this form.
	fallback, fallbackErr := time.Parse("2006-01-02 15:04:05", value)
	if fallbackErr == nil {
		return fallback.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
