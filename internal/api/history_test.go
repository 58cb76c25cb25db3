package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/freesleephq/freesleep-core/internal/history"
	"github.com/freesleephq/freesleep-core/internal/pod"
)

// fakeSnapshotRepo serves canned history entries.
type fakeSnapshotRepo struct {
	entries []history.SnapshotEntry
	gotLimit int
}

func (f *fakeSnapshotRepo) Record(ctx context.Context, snap pod.Snapshot) error { return nil }

func (f *fakeSnapshotRepo) Recent(ctx context.Context, limit int) ([]history.SnapshotEntry, error) {
	f.gotLimit = limit
	return f.entries, nil
}

func (f *fakeSnapshotRepo) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

type fakeCommandRepo struct {
	records []history.CommandRecord
}

func (f *fakeCommandRepo) RecordSubmitted(ctx context.Context, cmd pod.PendingCommand) error {
	return nil
}

func (f *fakeCommandRepo) RecordConfirmed(ctx context.Context, cmd pod.PendingCommand) error {
	return nil
}

func (f *fakeCommandRepo) RecordFailed(ctx context.Context, cmd pod.PendingCommand, reason string) error {
	return nil
}

func (f *fakeCommandRepo) Recent(ctx context.Context, limit int) ([]history.CommandRecord, error) {
	return f.records, nil
}

func (f *fakeCommandRepo) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func TestListSnapshots(t *testing.T) {
	srv, _ := testServer(t)
	repo := &fakeSnapshotRepo{
		entries: []history.SnapshotEntry{
			{ID: 2, CreatedAt: time.Now()},
			{ID: 1, CreatedAt: time.Now().Add(-time.Minute)},
		},
	}
	srv.snapshots = repo
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodGet, "/api/v1/history/snapshots?limit=10", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 2 {
		t.Errorf("count = %v, want 2", resp["count"])
	}
	if repo.gotLimit != 10 {
		t.Errorf("limit passed to repository = %d, want 10", repo.gotLimit)
	}
}

func TestListSnapshots_LimitClamped(t *testing.T) {
	srv, _ := testServer(t)
	repo := &fakeSnapshotRepo{}
	srv.snapshots = repo
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodGet, "/api/v1/history/snapshots?limit=99999", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if repo.gotLimit != maxHistoryLimit {
		t.Errorf("limit = %d, want clamped to %d", repo.gotLimit, maxHistoryLimit)
	}
}

func TestListSnapshots_Disabled(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodGet, "/api/v1/history/snapshots", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d when history is disabled", w.Code, http.StatusNotFound)
	}
}

func TestListCommandHistory(t *testing.T) {
	srv, _ := testServer(t)
	srv.commands = &fakeCommandRepo{
		records: []history.CommandRecord{
			{CommandID: "cmd-1", Status: history.CommandStatusConfirmed},
		},
	}
	router := srv.buildRouter()

	req := authedRequest(t, http.MethodGet, "/api/v1/history/commands", "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 1 {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"", 0},
		{"50", 50},
		{"-1", 0},
		{"abc", 0},
		{"100000", maxHistoryLimit},
	}

	for _, tc := range cases {
		if got := parseLimit(tc.raw); got != tc.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}
