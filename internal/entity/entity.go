package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/freesleephq/freesleep-core/internal/pod"
)

// Kind classifies how an entity's value behaves and what commands it
// accepts.
type Kind string

// Entity kinds.
const (
	KindSensor       Kind = "sensor"
	KindBinarySensor Kind = "binary_sensor"
	KindSwitch       Kind = "switch"
	KindNumber       Kind = "number"
	KindSelect       Kind = "select"
	KindText         Kind = "text"
	KindButton       Kind = "button"
)

// Device identifiers. The bridge exposes three logical devices: the shared
// pod unit and one device per side.
const (
	DevicePod   = "pod"
	DeviceLeft  = "left"
	DeviceRight = "right"
)

// DeviceInfo describes one logical device for registry purposes.
type DeviceInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SWVersion    string `json:"sw_version,omitempty"`
}

// Entity is one declarative entity description.
//
// Read-only entities leave Field empty. Controllable entities name the
// scope and field their commands write; the binder routes payloads through
// the command pipeline using those.
type Entity struct {
	// Key is the entity's identifier within its device, stable across
	// restarts.
	Key string `json:"key"`

	// Name is the human-readable label.
	Name string `json:"name"`

	Kind     Kind   `json:"kind"`
	DeviceID string `json:"device_id"`

	// Unit is the unit of measurement for numeric entities.
	Unit string `json:"unit,omitempty"`

	// DeviceClass hints consumers how to render the entity.
	DeviceClass string `json:"device_class,omitempty"`

	// Min, Max, Step bound number entities.
	Min  float64 `json:"min,omitempty"`
	Max  float64 `json:"max,omitempty"`
	Step float64 `json:"step,omitempty"`

	// Options lists the accepted values for select entities.
	Options []string `json:"options,omitempty"`

	// Scope and Field identify the command target for controllable
	// entities. Field is empty for read-only entities.
	Scope pod.Scope `json:"scope,omitempty"`
	Field pod.Field `json:"field,omitempty"`

	// value reads the entity's current value from a snapshot.
	// Nil for button entities, which have no state.
	value func(snap *pod.Snapshot) any

	// available reports whether the value is currently meaningful.
	// Nil means always available while the bridge has a snapshot.
	available func(snap *pod.Snapshot) bool
}

// Controllable reports whether the entity accepts commands.
func (e Entity) Controllable() bool {
	return e.Field != ""
}

// Value reads the entity's current value from a snapshot. Returns nil for
// stateless entities (buttons).
func (e Entity) Value(snap *pod.Snapshot) any {
	if e.value == nil {
		return nil
	}
	return e.value(snap)
}

// Available reports whether the entity's value is currently meaningful.
// Vitals sensors go unavailable when the pod has never reported a
// measurement; everything else is available whenever a snapshot exists.
func (e Entity) Available(snap *pod.Snapshot) bool {
	if e.available == nil {
		return true
	}
	return e.available(snap)
}

// ParsePayload converts an inbound command payload into the value type the
// entity's field expects. Payloads may be bare values ("68.5", "ON",
// "rise") or JSON objects of the form {"value": ...}.
//
// Returns:
//   - any: The parsed value, ready for command validation
//   - error: pod.ErrInvalidValue when the payload cannot be interpreted
func (e Entity) ParsePayload(payload []byte) (any, error) {
	raw := strings.TrimSpace(string(payload))

	// Unwrap {"value": ...} envelopes.
	if strings.HasPrefix(raw, "{") {
		var envelope struct {
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Value == nil {
			return nil, fmt.Errorf("%w: malformed command payload", pod.ErrInvalidValue)
		}
		raw = strings.TrimSpace(string(envelope.Value))
	}

	switch e.Kind {
	case KindButton:
		return nil, nil

	case KindNumber:
		f, err := strconv.ParseFloat(strings.Trim(raw, `"`), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", pod.ErrInvalidValue, raw)
		}
		return f, nil

	case KindSwitch:
		return parseBoolPayload(raw)

	case KindSelect, KindText:
		return strings.Trim(raw, `"`), nil
	}

	return nil, fmt.Errorf("%w: entity %s does not accept commands", pod.ErrInvalidValue, e.Key)
}

// parseBoolPayload accepts the usual MQTT spellings of a boolean.
func parseBoolPayload(raw string) (bool, error) {
	switch strings.ToLower(strings.Trim(raw, `"`)) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not a boolean", pod.ErrInvalidValue, raw)
}
