package api

import (
	"net/http"
	"strconv"
)

// maxHistoryLimit caps the ?limit query parameter.
const maxHistoryLimit = 500

// handleListSnapshots returns recent state history entries, newest first.
func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeNotFound(w, "state history is not enabled")
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	entries, err := s.snapshots.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("snapshot history query failed", "error", err)
		writeInternalError(w, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": entries,
		"count":     len(entries),
	})
}

// handleListCommandHistory returns the recent command audit trail, newest first.
func (s *Server) handleListCommandHistory(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeNotFound(w, "command history is not enabled")
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	records, err := s.commands.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("command history query failed", "error", err)
		writeInternalError(w, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"commands": records,
		"count":    len(records),
	})
}

// parseLimit parses a ?limit value; zero lets the repository apply its
// default, and anything above the cap is clamped.
func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
