package pod

import (
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func fullReport(at time.Time) StateReport {
	return StateReport{
		Pod: PodReport{
			AwayMode:        ptr(false),
			PrimeDaily:      ptr(true),
			Priming:         ptr(false),
			WaterLevelOK:    ptr(true),
			LEDBrightness:   ptr(80),
			WiFiStrength:    ptr(-52),
			HubVersion:      ptr("4.1.22"),
			FirmwareVersion: ptr("1.4.0"),
		},
		Left: SideReport{
			TargetTempF:  ptr(72.0),
			CurrentTempF: ptr(71.3),
			Active:       ptr(true),
			AlarmTime:    ptr("06:30"),
			AlarmEnabled: ptr(true),
			AlarmPattern: ptr("rise"),
			Vitals:       &Vitals{HeartRate: 58, BreathingRate: 13.5, HRV: 42, MeasuredAt: at},
		},
		Right: SideReport{
			TargetTempF:  ptr(68.0),
			CurrentTempF: ptr(68.1),
			Active:       ptr(false),
		},
		FetchedAt: at,
	}
}

func TestCacheEmptyBeforeFirstPoll(t *testing.T) {
	c := NewCache()

	if _, ok := c.Snapshot(); ok {
		t.Error("Snapshot should report no data before the first poll")
	}
	if _, ok := c.View(); ok {
		t.Error("View should report no data before the first poll")
	}
	if !c.LastContact().IsZero() {
		t.Error("LastContact should be zero before the first poll")
	}
}

func TestCacheApplyFetched(t *testing.T) {
	c := NewCache()
	at := time.Now().UTC()

	snap := c.ApplyFetched(fullReport(at))

	if snap.Left.TargetTempF != 72.0 || !snap.Left.Active {
		t.Errorf("left side not applied: %+v", snap.Left)
	}
	if snap.Pod.HubVersion != "4.1.22" {
		t.Errorf("pod state not applied: %+v", snap.Pod)
	}
	if !snap.FetchedAt.Equal(at) {
		t.Errorf("FetchedAt = %v, want %v", snap.FetchedAt, at)
	}
	if got := c.LastContact(); !got.Equal(at) {
		t.Errorf("LastContact = %v, want %v", got, at)
	}
}

// A fetch that omits fields keeps the prior values for exactly those
// fields. This is what lets a flaky vitals endpoint fail without blanking
// the heart-rate sensor.
func TestCacheMergeKeepsOmittedFields(t *testing.T) {
	c := NewCache()
	first := time.Now().UTC()
	c.ApplyFetched(fullReport(first))

	second := first.Add(30 * time.Second)
	partial := StateReport{
		Left: SideReport{
			CurrentTempF: ptr(70.9),
			// No Vitals, no target, no alarm: endpoint failed this cycle.
		},
		FetchedAt: second,
	}
	snap := c.ApplyFetched(partial)

	if snap.Left.CurrentTempF != 70.9 {
		t.Errorf("reported field not updated: %v", snap.Left.CurrentTempF)
	}
	if snap.Left.Vitals.HeartRate != 58 {
		t.Errorf("omitted vitals should keep prior value, got %+v", snap.Left.Vitals)
	}
	if snap.Left.TargetTempF != 72.0 || snap.Left.Alarm.Time != "06:30" {
		t.Errorf("omitted fields should keep prior values: %+v", snap.Left)
	}
	if snap.Pod.HubVersion != "4.1.22" {
		t.Errorf("omitted pod fields should keep prior values: %+v", snap.Pod)
	}
	if !snap.FetchedAt.Equal(second) {
		t.Error("FetchedAt should advance even on a partial report")
	}
}

// Snapshot readers get a copy: mutating the returned value must not leak
// into the cache.
func TestCacheSnapshotIsCopy(t *testing.T) {
	c := NewCache()
	c.ApplyFetched(fullReport(time.Now().UTC()))

	snap, _ := c.Snapshot()
	snap.Left.TargetTempF = 99.0

	again, _ := c.Snapshot()
	if again.Left.TargetTempF != 72.0 {
		t.Errorf("cache mutated through a returned snapshot: %v", again.Left.TargetTempF)
	}
}

func TestCacheViewAppliesPendingOverlay(t *testing.T) {
	c := NewCache()
	c.ApplyFetched(fullReport(time.Now().UTC()))

	now := time.Now().UTC()
	c.SetPending(NewPendingCommand(ScopeLeft, FieldTargetTemp, 68.0, now))
	c.SetPending(NewPendingCommand(ScopePod, FieldPrime, nil, now))

	view, ok := c.View()
	if !ok {
		t.Fatal("expected a view")
	}
	if view.Left.TargetTempF != 68.0 {
		t.Errorf("view target = %v, want pending 68.0", view.Left.TargetTempF)
	}
	if view.Left.CurrentTempF != 71.3 {
		t.Error("overlay must not touch read-only fields")
	}

	// Device-confirmed snapshot stays untouched by the overlay.
	snap, _ := c.Snapshot()
	if snap.Left.TargetTempF != 72.0 {
		t.Errorf("Snapshot should stay device-confirmed, got %v", snap.Left.TargetTempF)
	}
}

func TestCachePendingCoalescesLatestWins(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	first := NewPendingCommand(ScopeLeft, FieldTargetTemp, 66.0, now)
	first.Retries = 2
	first.LastSent = now
	c.SetPending(first)

	second := NewPendingCommand(ScopeLeft, FieldTargetTemp, 68.0, now.Add(time.Second))
	c.SetPending(second)

	if c.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", c.PendingCount())
	}
	got := c.PendingCommands()[0]
	if got.ID != second.ID || got.Value != 68.0 {
		t.Errorf("latest command should win: %+v", got)
	}
	if got.Retries != 0 || !got.LastSent.IsZero() {
		t.Errorf("replacement should reset send bookkeeping: %+v", got)
	}
}

func TestCacheUpdatePendingIgnoresStaleID(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()

	old := NewPendingCommand(ScopeLeft, FieldTargetTemp, 66.0, now)
	c.SetPending(old)

	replacement := NewPendingCommand(ScopeLeft, FieldTargetTemp, 68.0, now)
	c.SetPending(replacement)

	// Bookkeeping for the replaced command arrives late.
	old.Retries = 1
	old.LastSent = now
	c.UpdatePending(old)

	got := c.PendingCommands()[0]
	if got.ID != replacement.ID || got.Value != 68.0 {
		t.Errorf("stale bookkeeping clobbered a newer command: %+v", got)
	}
}

func TestCacheClearPending(t *testing.T) {
	c := NewCache()
	cmd := NewPendingCommand(ScopeRight, FieldSideActive, true, time.Now().UTC())
	c.SetPending(cmd)

	cleared, ok := c.ClearPending(cmd.Key())
	if !ok || cleared.ID != cmd.ID {
		t.Fatalf("ClearPending = %+v, %v", cleared, ok)
	}
	if _, ok := c.ClearPending(cmd.Key()); ok {
		t.Error("second clear should report not found")
	}
	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after clear", c.PendingCount())
	}
}
