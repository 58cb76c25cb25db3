package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/freesleephq/freesleep-core/internal/pod"
)

// refreshTimeout bounds the on-demand poll triggered by POST /pod/refresh.
const refreshTimeout = 15 * time.Second

// podResponse is the body for GET /pod.
type podResponse struct {
	Snapshot *pod.Snapshot        `json:"snapshot"`
	Health   pod.ConnectionHealth `json:"health"`
	Pending  []pod.PendingCommand `json:"pending_commands"`
}

// handleGetPod returns the current view of the pod: last known state with
// submitted-but-unconfirmed values overlaid, plus connection health.
func (s *Server) handleGetPod(w http.ResponseWriter, _ *http.Request) {
	resp := podResponse{
		Health:  s.reconciler.Health(),
		Pending: s.cache.PendingCommands(),
	}
	if snap, ok := s.cache.View(); ok {
		resp.Snapshot = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetPodHealth returns connection health only.
func (s *Server) handleGetPodHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.reconciler.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"health":       health,
		"reachable":    health.Reachable(),
		"last_contact": s.cache.LastContact(),
	})
}

// handleRefreshPod triggers an immediate poll, bypassing any backoff wait.
func (s *Server) handleRefreshPod(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	if err := s.reconciler.RefreshNow(ctx); err != nil {
		s.logger.Warn("manual refresh failed", "error", err)
		writeUnavailable(w, "pod did not answer: "+err.Error())
		return
	}

	snap, _ := s.cache.View() //nolint:errcheck // refresh succeeded, cache is populated
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": snap,
		"health":   s.reconciler.Health(),
	})
}

// handleListPendingCommands returns commands awaiting device confirmation.
func (s *Server) handleListPendingCommands(w http.ResponseWriter, _ *http.Request) {
	pending := s.cache.PendingCommands()
	if pending == nil {
		pending = []pod.PendingCommand{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": pending,
		"count":    len(pending),
	})
}

// commandRequest is the body for POST /pod/commands.
type commandRequest struct {
	Scope string `json:"scope"`
	Field string `json:"field"`
	Value any    `json:"value,omitempty"`
}

// handleSubmitCommand validates and queues a raw scope/field command.
// The command is accepted (202) immediately; delivery and confirmation
// happen asynchronously through the reconcile loop.
func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Scope == "" || req.Field == "" {
		writeBadRequest(w, "scope and field are required")
		return
	}

	cmd, err := s.commander.SubmitCommand(pod.Scope(req.Scope), pod.Field(req.Field), req.Value)
	if err != nil {
		switch {
		case errors.Is(err, pod.ErrUnknownField):
			writeNotFound(w, err.Error())
		case errors.Is(err, pod.ErrInvalidValue):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("command submission failed", "error", err)
			writeInternalError(w, "command submission failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"command": cmd})
}

// executeRequest is the body for POST /pod/execute.
type executeRequest struct {
	Command string `json:"command"`
	Value   string `json:"value,omitempty"`
}

// executeTimeout bounds a raw pass-through call. These hit the firmware
// synchronously, so the bound is tighter than the reconcile machinery's.
const executeTimeout = 15 * time.Second

// handleExecute forwards an arbitrary firmware command verbatim and
// returns the firmware's response. Unlike /pod/commands there is no
// validation, queueing, or retry: this is the escape hatch for firmware
// features the entity model does not cover.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		writeNotFound(w, "raw command execution not enabled")
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), executeTimeout)
	defer cancel()

	resp, err := s.executor.Execute(ctx, req.Command, req.Value)
	if err != nil {
		switch {
		case errors.Is(err, pod.ErrRejected):
			writeBadRequest(w, err.Error())
		case errors.Is(err, pod.ErrUnreachable), errors.Is(err, pod.ErrTimeout):
			writeUnavailable(w, "pod did not answer: "+err.Error())
		default:
			s.logger.Error("execute failed", "command", req.Command, "error", err)
			writeInternalError(w, "execute failed")
		}
		return
	}

	username, _ := r.Context().Value(ctxKeyUsername).(string) //nolint:errcheck // empty username is acceptable
	s.logger.Info("raw command executed", "command", req.Command, "user", username)
	writeJSON(w, http.StatusOK, map[string]any{"response": resp})
}

// scheduleRequest is the body for POST /pod/schedule. Empty sides means
// both sides; empty days means every day of the week.
type scheduleRequest struct {
	Sides    []string         `json:"sides,omitempty"`
	Days     []string         `json:"days,omitempty"`
	Schedule pod.SideSchedule `json:"schedule"`
}

// handleSetSchedule writes a nightly sleep program to the pod. The write
// is synchronous: the firmware stores schedules itself, so there is no
// cached field to confirm against.
func (s *Server) handleSetSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeNotFound(w, "schedule writes not enabled")
		return
	}

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	sides := make([]pod.Side, 0, len(req.Sides))
	for _, side := range req.Sides {
		sides = append(sides, pod.Side(side))
	}

	ctx, cancel := context.WithTimeout(r.Context(), executeTimeout)
	defer cancel()

	if err := s.scheduler.SetSchedule(ctx, sides, req.Days, req.Schedule); err != nil {
		switch {
		case errors.Is(err, pod.ErrInvalidValue):
			writeBadRequest(w, err.Error())
		case errors.Is(err, pod.ErrRejected):
			writeBadRequest(w, err.Error())
		case errors.Is(err, pod.ErrUnreachable), errors.Is(err, pod.ErrTimeout):
			writeUnavailable(w, "pod did not answer: "+err.Error())
		default:
			s.logger.Error("schedule write failed", "error", err)
			writeInternalError(w, "schedule write failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "applied"})
}
