package entity

import (
	"fmt"

	"github.com/freesleephq/freesleep-core/internal/pod"
)

const manufacturer = "Free Sleep"

// CommandSink accepts validated desired values for the device. The
// reconciler satisfies it.
type CommandSink interface {
	Submit(scope pod.Scope, field pod.Field, value any) (pod.PendingCommand, error)
}

// Binder owns the entity table and routes inbound entity commands into the
// command pipeline.
//
// The table is fixed at construction: the pod's entity surface does not
// change at runtime, only the values do.
type Binder struct {
	sink     CommandSink
	entities []Entity
	index    map[string]map[string]Entity // deviceID -> key -> entity
}

// NewBinder builds the binder with the full entity table.
//
// Parameters:
//   - sink: Where accepted commands go; must not be nil
//
// Returns:
//   - *Binder: Ready for use
func NewBinder(sink CommandSink) *Binder {
	b := &Binder{
		sink:  sink,
		index: make(map[string]map[string]Entity),
	}
	b.entities = buildEntityTable()
	for _, e := range b.entities {
		if b.index[e.DeviceID] == nil {
			b.index[e.DeviceID] = make(map[string]Entity)
		}
		b.index[e.DeviceID][e.Key] = e
	}
	return b
}

// Entities returns the full entity table.
func (b *Binder) Entities() []Entity {
	out := make([]Entity, len(b.entities))
	copy(out, b.entities)
	return out
}

// Lookup finds an entity by device and key.
func (b *Binder) Lookup(deviceID, key string) (Entity, bool) {
	device, ok := b.index[deviceID]
	if !ok {
		return Entity{}, false
	}
	e, ok := device[key]
	return e, ok
}

// HandleCommand parses and submits an inbound command for one entity.
//
// Parameters:
//   - deviceID: "pod", "left", or "right"
//   - key: The entity key within the device
//   - payload: The raw command payload
//
// Returns:
//   - pod.PendingCommand: The queued command
//   - error: Unknown entity, read-only entity, or an invalid value
func (b *Binder) HandleCommand(deviceID, key string, payload []byte) (pod.PendingCommand, error) {
	e, ok := b.Lookup(deviceID, key)
	if !ok {
		return pod.PendingCommand{}, fmt.Errorf("%w: %s/%s", pod.ErrUnknownField, deviceID, key)
	}
	if !e.Controllable() {
		return pod.PendingCommand{}, fmt.Errorf("%w: entity %s/%s is read-only", pod.ErrUnknownField, deviceID, key)
	}

	value, err := e.ParsePayload(payload)
	if err != nil {
		return pod.PendingCommand{}, err
	}

	return b.sink.Submit(e.Scope, e.Field, value)
}

// Devices describes the three logical devices, using the snapshot for
// version information when one exists.
func (b *Binder) Devices(snap *pod.Snapshot) []DeviceInfo {
	var swVersion string
	if snap != nil {
		swVersion = snap.Pod.FirmwareVersion
	}

	return []DeviceInfo{
		{
			ID:           DevicePod,
			Name:         "Free Sleep Pod",
			Manufacturer: manufacturer,
			Model:        "Pod",
			SWVersion:    swVersion,
		},
		{
			ID:           DeviceLeft,
			Name:         "Free Sleep Left Side",
			Manufacturer: manufacturer,
			Model:        "Pod Side",
			SWVersion:    swVersion,
		},
		{
			ID:           DeviceRight,
			Name:         "Free Sleep Right Side",
			Manufacturer: manufacturer,
			Model:        "Pod Side",
			SWVersion:    swVersion,
		},
	}
}

// buildEntityTable declares every entity the bridge exposes.
func buildEntityTable() []Entity {
	entities := []Entity{
		{
			Key: "away_mode", Name: "Away Mode", Kind: KindSwitch, DeviceID: DevicePod,
			Scope: pod.ScopePod, Field: pod.FieldAwayMode,
			value: func(s *pod.Snapshot) any { return s.Pod.AwayMode },
		},
		{
			Key: "prime_daily", Name: "Prime Daily", Kind: KindSwitch, DeviceID: DevicePod,
			Scope: pod.ScopePod, Field: pod.FieldPrimeDaily,
			value: func(s *pod.Snapshot) any { return s.Pod.PrimeDaily },
		},
		{
			Key: "led_brightness", Name: "LED Brightness", Kind: KindNumber, DeviceID: DevicePod,
			Unit: "%", Min: 0, Max: 100, Step: 1,
			Scope: pod.ScopePod, Field: pod.FieldLEDBrightness,
			value: func(s *pod.Snapshot) any { return s.Pod.LEDBrightness },
		},
		{
			Key: "priming", Name: "Priming", Kind: KindBinarySensor, DeviceID: DevicePod,
			DeviceClass: "running",
			value:       func(s *pod.Snapshot) any { return s.Pod.Priming },
		},
		{
			Key: "water_level_low", Name: "Water Level Low", Kind: KindBinarySensor, DeviceID: DevicePod,
			DeviceClass: "problem",
			value:       func(s *pod.Snapshot) any { return !s.Pod.WaterLevelOK },
		},
		{
			Key: "wifi_strength", Name: "WiFi Strength", Kind: KindSensor, DeviceID: DevicePod,
			Unit: "dBm", DeviceClass: "signal_strength",
			value: func(s *pod.Snapshot) any { return s.Pod.WiFiStrength },
		},
		{
			Key: "hub_version", Name: "Hub Version", Kind: KindSensor, DeviceID: DevicePod,
			value: func(s *pod.Snapshot) any { return s.Pod.HubVersion },
		},
		{
			Key: "firmware_version", Name: "Firmware Version", Kind: KindSensor, DeviceID: DevicePod,
			value: func(s *pod.Snapshot) any { return s.Pod.FirmwareVersion },
		},
		{
			Key: "prime", Name: "Prime", Kind: KindButton, DeviceID: DevicePod,
			Scope: pod.ScopePod, Field: pod.FieldPrime,
		},
		{
			Key: "reboot", Name: "Reboot", Kind: KindButton, DeviceID: DevicePod,
			Scope: pod.ScopePod, Field: pod.FieldReboot,
		},
	}

	for _, side := range []pod.Side{pod.SideLeft, pod.SideRight} {
		entities = append(entities, sideEntities(side)...)
	}
	return entities
}

// sideEntities declares the per-side entity set.
func sideEntities(side pod.Side) []Entity {
	deviceID := string(side)
	scope := pod.Scope(side)

	sideState := func(s *pod.Snapshot) *pod.SideState { return s.SideState(side) }
	vitalsPresent := func(s *pod.Snapshot) bool {
		v := sideState(s).Vitals
		return !v.MeasuredAt.IsZero() || v.HeartRate > 0
	}

	return []Entity{
		{
			Key: "target_temperature", Name: "Target Temperature", Kind: KindNumber, DeviceID: deviceID,
			Unit: "°F", DeviceClass: "temperature",
			Min: pod.MinTargetTempF, Max: pod.MaxTargetTempF, Step: pod.TargetTempStepF,
			Scope: scope, Field: pod.FieldTargetTemp,
			value: func(s *pod.Snapshot) any { return sideState(s).TargetTempF },
		},
		{
			Key: "current_temperature", Name: "Current Temperature", Kind: KindSensor, DeviceID: deviceID,
			Unit: "°F", DeviceClass: "temperature",
			value: func(s *pod.Snapshot) any { return sideState(s).CurrentTempF },
		},
		{
			Key: "side_active", Name: "Side Active", Kind: KindSwitch, DeviceID: deviceID,
			Scope: scope, Field: pod.FieldSideActive,
			value: func(s *pod.Snapshot) any { return sideState(s).Active },
		},
		{
			Key: "alarm_time", Name: "Alarm Time", Kind: KindText, DeviceID: deviceID,
			Scope: scope, Field: pod.FieldAlarmTime,
			value: func(s *pod.Snapshot) any { return sideState(s).Alarm.Time },
		},
		{
			Key: "alarm_enabled", Name: "Alarm Enabled", Kind: KindSwitch, DeviceID: deviceID,
			Scope: scope, Field: pod.FieldAlarmEnabled,
			value: func(s *pod.Snapshot) any { return sideState(s).Alarm.Enabled },
		},
		{
			Key: "alarm_pattern", Name: "Alarm Pattern", Kind: KindSelect, DeviceID: deviceID,
			Options: pod.AlarmPatterns,
			Scope:   scope, Field: pod.FieldAlarmPattern,
			value: func(s *pod.Snapshot) any { return sideState(s).Alarm.Pattern },
		},
		{
			Key: "heart_rate", Name: "Heart Rate", Kind: KindSensor, DeviceID: deviceID,
			Unit: "bpm",
			value:     func(s *pod.Snapshot) any { return sideState(s).Vitals.HeartRate },
			available: vitalsPresent,
		},
		{
			Key: "breathing_rate", Name: "Breathing Rate", Kind: KindSensor, DeviceID: deviceID,
			Unit: "breaths/min",
			value:     func(s *pod.Snapshot) any { return sideState(s).Vitals.BreathingRate },
			available: vitalsPresent,
		},
		{
			Key: "hrv", Name: "HRV", Kind: KindSensor, DeviceID: deviceID,
			Unit: "ms",
			value:     func(s *pod.Snapshot) any { return sideState(s).Vitals.HRV },
			available: vitalsPresent,
		},
	}
}
