package pod

import (
	"fmt"
	"math"
)

// DaysOfWeek lists the day names the schedule service accepts, in the
// order the firmware stores them.
var DaysOfWeek = []string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// SideSchedule is one side's nightly program. Times are "HH:MM" on the
// pod's clock; temperatures are degrees Fahrenheit on the same 0.5 degree
// grid as target temperature commands.
type SideSchedule struct {
	// PowerOn and PowerOff bound the nightly heating/cooling window.
	PowerOn  string `json:"power_on"`
	PowerOff string `json:"power_off"`

	// OnTemperatureF is the target when the window opens.
	OnTemperatureF float64 `json:"on_temperature_f"`

	// Temperatures optionally adjusts the target during the window,
	// keyed by "HH:MM".
	Temperatures map[string]float64 `json:"temperatures,omitempty"`
}

// ValidateSchedule checks a schedule and the day names it applies to.
// An empty day list means every day. Temperatures are snapped to the
// firmware's half-degree grid; the returned schedule is the normalised one.
func ValidateSchedule(days []string, sched SideSchedule) ([]string, SideSchedule, error) {
	if len(days) == 0 {
		days = append([]string(nil), DaysOfWeek...)
	}
	for _, day := range days {
		if !validDay(day) {
			return nil, SideSchedule{}, fmt.Errorf("%w: unknown day %q", ErrInvalidValue, day)
		}
	}

	if !alarmTimeRe.MatchString(sched.PowerOn) {
		return nil, SideSchedule{}, fmt.Errorf("%w: power_on wants HH:MM", ErrInvalidValue)
	}
	if !alarmTimeRe.MatchString(sched.PowerOff) {
		return nil, SideSchedule{}, fmt.Errorf("%w: power_off wants HH:MM", ErrInvalidValue)
	}

	temp, err := snapScheduleTemp("on_temperature_f", sched.OnTemperatureF)
	if err != nil {
		return nil, SideSchedule{}, err
	}
	sched.OnTemperatureF = temp

	if len(sched.Temperatures) > 0 {
		normalised := make(map[string]float64, len(sched.Temperatures))
		for at, t := range sched.Temperatures {
			if !alarmTimeRe.MatchString(at) {
				return nil, SideSchedule{}, fmt.Errorf("%w: temperature key %q wants HH:MM", ErrInvalidValue, at)
			}
			snapped, err := snapScheduleTemp("temperatures."+at, t)
			if err != nil {
				return nil, SideSchedule{}, err
			}
			normalised[at] = snapped
		}
		sched.Temperatures = normalised
	}

	// Deduplicate into firmware day order.
	requested := make(map[string]struct{}, len(days))
	for _, day := range days {
		requested[day] = struct{}{}
	}
	unique := make([]string, 0, len(requested))
	for _, canonical := range DaysOfWeek {
		if _, ok := requested[canonical]; ok {
			unique = append(unique, canonical)
		}
	}

	return unique, sched, nil
}

func snapScheduleTemp(name string, f float64) (float64, error) {
	if f < MinTargetTempF || f > MaxTargetTempF {
		return 0, fmt.Errorf("%w: %s wants %.0f-%.0f degrees F",
			ErrInvalidValue, name, MinTargetTempF, MaxTargetTempF)
	}
	return math.Round(f/TargetTempStepF) * TargetTempStepF, nil
}

func validDay(day string) bool {
	return dayIndex(day) >= 0
}

func dayIndex(day string) int {
	for i, d := range DaysOfWeek {
		if d == day {
			return i
		}
	}
	return -1
}
