package pod

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// Side identifies one of the pod's two independently controlled halves.
type Side string

// The two sides of the pod.
const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Scope identifies the target of a command or state field: the shared pod
// unit or one of its sides.
type Scope string

// Command and field scopes.
const (
	ScopePod   Scope = "pod"
	ScopeLeft  Scope = Scope(SideLeft)
	ScopeRight Scope = Scope(SideRight)
)

// Field names the controllable and reported attributes of the pod.
type Field string

// Side-scoped fields.
const (
	FieldTargetTemp   Field = "target_temp"
	FieldSideActive   Field = "side_active"
	FieldAlarmTime    Field = "alarm_time"
	FieldAlarmEnabled Field = "alarm_enabled"
	FieldAlarmPattern Field = "alarm_pattern"
)

// Pod-scoped fields.
const (
	FieldAwayMode      Field = "away_mode"
	FieldPrimeDaily    Field = "prime_daily"
	FieldLEDBrightness Field = "led_brightness"

	// One-shot actions. These have no reported field to confirm against;
	// they clear on device acknowledgment.
	FieldPrime  Field = "prime"
	FieldReboot Field = "reboot"
)

// Temperature limits the pod firmware accepts, in Fahrenheit.
const (
	MinTargetTempF  = 55.0
	MaxTargetTempF  = 110.0
	TargetTempStepF = 0.5
)

// Alarm vibration patterns the firmware accepts.
var AlarmPatterns = []string{"rise", "double"}

// alarmTimeRe matches 24h HH:MM alarm times.
var alarmTimeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Vitals is a device-reported vitals summary for one side.
// Values are passed through as reported; the pod invents no semantics.
type Vitals struct {
	HeartRate     float64   `json:"heart_rate"`
	BreathingRate float64   `json:"breathing_rate"`
	HRV           float64   `json:"hrv"`
	MeasuredAt    time.Time `json:"measured_at"`
}

// AlarmConfig is the alarm configuration for one side.
type AlarmConfig struct {
	// Time is the 24h wake time, "HH:MM".
	Time string `json:"time"`

	Enabled bool `json:"enabled"`

	// Pattern is the vibration pattern, one of AlarmPatterns.
	Pattern string `json:"pattern"`
}

// PodState holds the shared control-unit state.
type PodState struct {
	AwayMode        bool   `json:"away_mode"`
	PrimeDaily      bool   `json:"prime_daily"`
	Priming         bool   `json:"priming"`
	WaterLevelOK    bool   `json:"water_level_ok"`
	LEDBrightness   int    `json:"led_brightness"`
	WiFiStrength    int    `json:"wifi_strength"`
	HubVersion      string `json:"hub_version"`
	FirmwareVersion string `json:"firmware_version"`
}

// SideState holds the state of one side of the bed.
//
// CurrentTempF is device-reported and read-only to adapters. TargetTempF is
// the last device-confirmed value; a pending write may overlay it in views
// until reconciled.
type SideState struct {
	TargetTempF  float64     `json:"target_temp_f"`
	CurrentTempF float64     `json:"current_temp_f"`
	Active       bool        `json:"active"`
	Alarm        AlarmConfig `json:"alarm"`
	Vitals       Vitals      `json:"vitals"`
}

// Snapshot is one internally consistent view of the whole device: pod state
// plus both sides, stamped with the poll time that produced it.
//
// Snapshot contains no reference types, so a struct copy is a deep copy.
// The cache exploits this for its copy-on-write discipline.
type Snapshot struct {
	Pod       PodState  `json:"pod"`
	Left      SideState `json:"left"`
	Right     SideState `json:"right"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SideState returns the state for the named side.
func (s *Snapshot) SideState(side Side) *SideState {
	if side == SideRight {
		return &s.Right
	}
	return &s.Left
}

// PodReport carries the pod-level fields of one fetch. Nil pointers mark
// fields the device omitted; the cache keeps prior values for those.
type PodReport struct {
	AwayMode        *bool
	PrimeDaily      *bool
	Priming         *bool
	WaterLevelOK    *bool
	LEDBrightness   *int
	WiFiStrength    *int
	HubVersion      *string
	FirmwareVersion *string
}

// SideReport carries the per-side fields of one fetch, nil where omitted.
type SideReport struct {
	TargetTempF  *float64
	CurrentTempF *float64
	Active       *bool
	AlarmTime    *string
	AlarmEnabled *bool
	AlarmPattern *string
	Vitals       *Vitals
}

// StateReport is the result of one device fetch: everything the device
// reported this cycle, with omissions explicit. The cache merges it into
// the previous snapshot rather than trusting it as complete.
type StateReport struct {
	Pod       PodReport
	Left      SideReport
	Right     SideReport
	FetchedAt time.Time
}

// SideReport returns the report for the named side.
func (r *StateReport) SideReport(side Side) *SideReport {
	if side == SideRight {
		return &r.Right
	}
	return &r.Left
}

// fieldValue extracts the device-confirmed value of a field from a snapshot.
// Returns false for one-shot fields, which have no reported value.
func fieldValue(snap *Snapshot, scope Scope, field Field) (any, bool) {
	switch scope {
	case ScopePod:
		switch field {
		case FieldAwayMode:
			return snap.Pod.AwayMode, true
		case FieldPrimeDaily:
			return snap.Pod.PrimeDaily, true
		case FieldLEDBrightness:
			return snap.Pod.LEDBrightness, true
		}
	case ScopeLeft, ScopeRight:
		side := snap.SideState(Side(scope))
		switch field {
		case FieldTargetTemp:
			return side.TargetTempF, true
		case FieldSideActive:
			return side.Active, true
		case FieldAlarmTime:
			return side.Alarm.Time, true
		case FieldAlarmEnabled:
			return side.Alarm.Enabled, true
		case FieldAlarmPattern:
			return side.Alarm.Pattern, true
		}
	}
	return nil, false
}

// setFieldValue writes a desired value into a snapshot copy. Used to build
// the pending-overlay view adapters render.
func setFieldValue(snap *Snapshot, scope Scope, field Field, value any) {
	switch scope {
	case ScopePod:
		switch field {
		case FieldAwayMode:
			if v, ok := value.(bool); ok {
				snap.Pod.AwayMode = v
			}
		case FieldPrimeDaily:
			if v, ok := value.(bool); ok {
				snap.Pod.PrimeDaily = v
			}
		case FieldLEDBrightness:
			if v, ok := value.(int); ok {
				snap.Pod.LEDBrightness = v
			}
		}
	case ScopeLeft, ScopeRight:
		side := snap.SideState(Side(scope))
		switch field {
		case FieldTargetTemp:
			if v, ok := value.(float64); ok {
				side.TargetTempF = v
			}
		case FieldSideActive:
			if v, ok := value.(bool); ok {
				side.Active = v
			}
		case FieldAlarmTime:
			if v, ok := value.(string); ok {
				side.Alarm.Time = v
			}
		case FieldAlarmEnabled:
			if v, ok := value.(bool); ok {
				side.Alarm.Enabled = v
			}
		case FieldAlarmPattern:
			if v, ok := value.(string); ok {
				side.Alarm.Pattern = v
			}
		}
	}
}

// tempEpsilon absorbs float drift when comparing temperatures the device
// echoes back. The firmware works in 0.5 degree steps, so anything inside a
// tenth of a step is the same value.
const tempEpsilon = TargetTempStepF / 10

// valuesEqual compares a desired command value with a device-reported one.
func valuesEqual(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return math.Abs(af-bf) < tempEpsilon
	}
	return a == b
}

// ValidateCommand checks that a scope/field/value triple is one the device
// can accept. It normalises numeric values (ints submitted for temperature
// become float64) and returns the normalised value.
func ValidateCommand(scope Scope, field Field, value any) (any, error) {
	switch scope {
	case ScopePod:
		switch field {
		case FieldAwayMode, FieldPrimeDaily:
			if _, ok := value.(bool); !ok {
				return nil, fmt.Errorf("%w: %s wants a boolean", ErrInvalidValue, field)
			}
			return value, nil
		case FieldLEDBrightness:
			n, ok := asInt(value)
			if !ok || n < 0 || n > 100 {
				return nil, fmt.Errorf("%w: %s wants an integer 0-100", ErrInvalidValue, field)
			}
			return n, nil
		case FieldPrime, FieldReboot:
			return nil, nil // one-shot, no value
		}
	case ScopeLeft, ScopeRight:
		switch field {
		case FieldTargetTemp:
			f, ok := asFloat(value)
			if !ok || f < MinTargetTempF || f > MaxTargetTempF {
				return nil, fmt.Errorf("%w: %s wants %.0f-%.0f degrees F",
					ErrInvalidValue, field, MinTargetTempF, MaxTargetTempF)
			}
			// Snap to the firmware's half-degree grid.
			return math.Round(f/TargetTempStepF) * TargetTempStepF, nil
		case FieldSideActive, FieldAlarmEnabled:
			if _, ok := value.(bool); !ok {
				return nil, fmt.Errorf("%w: %s wants a boolean", ErrInvalidValue, field)
			}
			return value, nil
		case FieldAlarmTime:
			s, ok := value.(string)
			if !ok || !alarmTimeRe.MatchString(s) {
				return nil, fmt.Errorf("%w: %s wants HH:MM", ErrInvalidValue, field)
			}
			return s, nil
		case FieldAlarmPattern:
			s, ok := value.(string)
			if ok {
				for _, p := range AlarmPatterns {
					if s == p {
						return s, nil
					}
				}
			}
			return nil, fmt.Errorf("%w: %s wants one of %v", ErrInvalidValue, field, AlarmPatterns)
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrUnknownField, scope, field)
}

// IsOneShot reports whether a field is a fire-and-forget action.
func IsOneShot(field Field) bool {
	return field == FieldPrime || field == FieldReboot
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}
