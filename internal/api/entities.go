package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/freesleephq/freesleep-core/internal/entity"
	"github.com/freesleephq/freesleep-core/internal/pod"
)

// entityResponse is one entity with its current value and availability.
type entityResponse struct {
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Device       string   `json:"device"`
	Unit         string   `json:"unit,omitempty"`
	DeviceClass  string   `json:"device_class,omitempty"`
	Min          float64  `json:"min,omitempty"`
	Max          float64  `json:"max,omitempty"`
	Step         float64  `json:"step,omitempty"`
	Options      []string `json:"options,omitempty"`
	Controllable bool     `json:"controllable"`
	Value        any      `json:"value"`
	Available    bool     `json:"available"`
}

// handleListDevices returns the pod's device registry entries.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	var snapPtr *pod.Snapshot
	if snap, ok := s.cache.View(); ok {
		snapPtr = &snap
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.binder.Devices(snapPtr),
	})
}

// handleListEntities returns every entity with its current value.
func (s *Server) handleListEntities(w http.ResponseWriter, _ *http.Request) {
	var snapPtr *pod.Snapshot
	if snap, ok := s.cache.View(); ok {
		snapPtr = &snap
	}

	entities := s.binder.Entities()
	out := make([]entityResponse, 0, len(entities))
	for _, e := range entities {
		out = append(out, buildEntityResponse(e, snapPtr))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": out,
		"count":    len(out),
	})
}

// handleGetEntity returns one entity by device and key.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")
	key := chi.URLParam(r, "key")

	e, ok := s.binder.Lookup(device, key)
	if !ok {
		writeNotFound(w, "unknown entity: "+device+"/"+key)
		return
	}

	var snapPtr *pod.Snapshot
	if snap, ok := s.cache.View(); ok {
		snapPtr = &snap
	}
	writeJSON(w, http.StatusOK, buildEntityResponse(e, snapPtr))
}

// handleSetEntity accepts an entity command. The body is the same payload
// format the MQTT set topics accept: a bare value, a quoted string, or a
// {"value": ...} envelope.
func (s *Server) handleSetEntity(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")
	key := chi.URLParam(r, "key")

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body")
		return
	}

	cmd, err := s.binder.HandleCommand(device, key, payload)
	if err != nil {
		switch {
		case errors.Is(err, pod.ErrUnknownField):
			writeNotFound(w, err.Error())
		case errors.Is(err, pod.ErrInvalidValue):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("entity command failed", "device", device, "key", key, "error", err)
			writeInternalError(w, "command submission failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"command": cmd})
}

// buildEntityResponse renders an entity with its value from the snapshot.
func buildEntityResponse(e entity.Entity, snap *pod.Snapshot) entityResponse {
	resp := entityResponse{
		Key:          e.Key,
		Name:         e.Name,
		Kind:         string(e.Kind),
		Device:       e.DeviceID,
		Unit:         e.Unit,
		DeviceClass:  e.DeviceClass,
		Min:          e.Min,
		Max:          e.Max,
		Step:         e.Step,
		Options:      e.Options,
		Controllable: e.Controllable(),
	}
	if snap != nil {
		resp.Available = e.Available(snap)
		if resp.Available {
			resp.Value = e.Value(snap)
		}
	}
	return resp
}
