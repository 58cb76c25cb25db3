package pod

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClient scripts device behaviour for reconciler tests.
type fakeClient struct {
	mu      sync.Mutex
	fetchFn func() (StateReport, error)
	sendFn  func(PendingCommand) error
	sent    []PendingCommand
}

func (f *fakeClient) FetchState(ctx context.Context) (StateReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchFn != nil {
		return f.fetchFn()
	}
	return StateReport{FetchedAt: time.Now().UTC()}, nil
}

func (f *fakeClient) SendCommand(ctx context.Context, cmd PendingCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	if f.sendFn != nil {
		return f.sendFn(cmd)
	}
	return nil
}

func (f *fakeClient) sentCommands() []PendingCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PendingCommand(nil), f.sent...)
}

func testConfig() ReconcilerConfig {
	return ReconcilerConfig{
		PollInterval:   time.Hour, // ticks never fire in tests
		RetryInterval:  0,         // every queued command is always due
		RetryLimit:     3,
		BackoffInitial: 30 * time.Second,
		BackoffMax:     10 * time.Minute,
	}
}

// reportWithLeftTarget builds a report where the device claims the given
// left-side target temperature.
func reportWithLeftTarget(target float64) StateReport {
	r := fullReport(time.Now().UTC())
	r.Left.TargetTempF = &target
	return r
}

func TestReconcilerConfirmsCommandOnStateMatch(t *testing.T) {
	fc := &fakeClient{}
	deviceTarget := 72.0
	fc.fetchFn = func() (StateReport, error) {
		return reportWithLeftTarget(deviceTarget), nil
	}

	r := NewReconciler(fc, NewCache(), testConfig(), nil)

	var confirmed []PendingCommand
	r.OnCommandConfirmed(func(cmd PendingCommand) {
		confirmed = append(confirmed, cmd)
	})

	cmd, err := r.Submit(ScopeLeft, FieldTargetTemp, 68.0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Device still reports the old value: the command goes out but is not
	// confirmed.
	if err := r.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	if len(fc.sentCommands()) != 1 {
		t.Fatalf("sent %d commands, want 1", len(fc.sentCommands()))
	}
	if len(confirmed) != 0 {
		t.Fatal("command confirmed before the device reported the value")
	}

	// Device applies the write; next poll confirms and clears it.
	fc.mu.Lock()
	deviceTarget = 68.0
	fc.mu.Unlock()
	if err := r.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}

	if len(confirmed) != 1 || confirmed[0].ID != cmd.ID {
		t.Fatalf("confirmed = %+v, want command %s", confirmed, cmd.ID)
	}
	if r.Cache().PendingCount() != 0 {
		t.Error("confirmed command should leave the pending set")
	}
	snap, _ := r.Cache().Snapshot()
	if snap.Left.TargetTempF != 68.0 {
		t.Errorf("snapshot target = %v, want 68.0", snap.Left.TargetTempF)
	}
}

// A device that keeps reporting the old value gets the command resent until
// the retry budget runs out, after which the device value stands.
func TestReconcilerRetryExhaustion(t *testing.T) {
	fc := &fakeClient{}
	fc.fetchFn = func() (StateReport, error) {
		return reportWithLeftTarget(72.0), nil
	}

	r := NewReconciler(fc, NewCache(), testConfig(), nil)

	var failedErr error
	r.OnCommandFailed(func(cmd PendingCommand, err error) {
		failedErr = err
	})

	if _, err := r.Submit(ScopeLeft, FieldTargetTemp, 68.0); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if err := r.RefreshNow(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	// RetryLimit 3 allows the initial send plus three retries.
	if got := len(fc.sentCommands()); got != 4 {
		t.Errorf("sent %d times, want 4", got)
	}
	if !errors.Is(failedErr, ErrRetryExhausted) {
		t.Errorf("failure error = %v, want ErrRetryExhausted", failedErr)
	}
	if r.Cache().PendingCount() != 0 {
		t.Error("exhausted command should leave the pending set")
	}

	// The device value is now authoritative, overlay included.
	view, _ := r.Cache().View()
	if view.Left.TargetTempF != 72.0 {
		t.Errorf("view target = %v, want device value 72.0", view.Left.TargetTempF)
	}
}

func TestReconcilerRejectedCommandNotRetried(t *testing.T) {
	fc := &fakeClient{}
	fc.fetchFn = func() (StateReport, error) {
		return reportWithLeftTarget(72.0), nil
	}
	fc.sendFn = func(PendingCommand) error {
		return ErrRejected
	}

	r := NewReconciler(fc, NewCache(), testConfig(), nil)

	var failedErr error
	r.OnCommandFailed(func(cmd PendingCommand, err error) {
		failedErr = err
	})

	if _, err := r.Submit(ScopeLeft, FieldTargetTemp, 68.0); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := r.RefreshNow(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}

	if got := len(fc.sentCommands()); got != 1 {
		t.Errorf("rejected command sent %d times, want 1", got)
	}
	if !errors.Is(failedErr, ErrRejected) {
		t.Errorf("failure error = %v, want ErrRejected", failedErr)
	}
	if r.Cache().PendingCount() != 0 {
		t.Error("rejected command should leave the pending set")
	}
}

func TestReconcilerOneShotClearsOnAck(t *testing.T) {
	fc := &fakeClient{}

	r := NewReconciler(fc, NewCache(), testConfig(), nil)

	var confirmed []PendingCommand
	r.OnCommandConfirmed(func(cmd PendingCommand) {
		confirmed = append(confirmed, cmd)
	})

	if _, err := r.Submit(ScopePod, FieldPrime, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := r.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}

	if len(fc.sentCommands()) != 1 {
		t.Fatalf("sent %d, want 1", len(fc.sentCommands()))
	}
	if len(confirmed) != 1 || confirmed[0].Field != FieldPrime {
		t.Fatalf("one-shot should confirm on ack: %+v", confirmed)
	}
	if r.Cache().PendingCount() != 0 {
		t.Error("acked one-shot should leave the pending set")
	}
}

// Coalescing: two submissions for the same field before a cycle runs result
// in exactly one send carrying the latest value.
func TestReconcilerCoalescesSubmissions(t *testing.T) {
	fc := &fakeClient{}
	fc.fetchFn = func() (StateReport, error) {
		return reportWithLeftTarget(72.0), nil
	}

	r := NewReconciler(fc, NewCache(), testConfig(), nil)

	if _, err := r.Submit(ScopeLeft, FieldTargetTemp, 66.0); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := r.Submit(ScopeLeft, FieldTargetTemp, 68.0); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := r.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}

	sent := fc.sentCommands()
	if len(sent) != 1 {
		t.Fatalf("sent %d commands, want 1", len(sent))
	}
	if sent[0].Value != 68.0 {
		t.Errorf("sent value = %v, want latest 68.0", sent[0].Value)
	}
}

func TestReconcilerBackoffAfterConsecutiveFailures(t *testing.T) {
	fc := &fakeClient{}
	var fetches int
	fc.fetchFn = func() (StateReport, error) {
		fetches++
		return StateReport{}, ErrTimeout
	}

	r := NewReconciler(fc, NewCache(), testConfig(), nil)
	ctx := context.Background()

	// First failure opens a backoff window.
	if err := r.cycle(ctx, false); !errors.Is(err, ErrTimeout) {
		t.Fatalf("cycle error = %v, want ErrTimeout", err)
	}
	h := r.Health()
	if h.ConsecutiveFailures != 1 || h.BackoffDelay != 30*time.Second {
		t.Fatalf("health after first failure: %+v", h)
	}

	// Inside the window, normal cycles leave the device alone.
	if err := r.cycle(ctx, false); err != nil {
		t.Fatalf("backoff cycle should be a no-op, got %v", err)
	}
	if fetches != 1 {
		t.Errorf("fetched %d times, want 1 (backoff must suppress polls)", fetches)
	}

	// A forced refresh bypasses the window and extends the backoff.
	if err := r.cycle(ctx, true); !errors.Is(err, ErrTimeout) {
		t.Fatalf("forced cycle error = %v", err)
	}
	h = r.Health()
	if h.ConsecutiveFailures != 2 || h.BackoffDelay != time.Minute {
		t.Errorf("health after second failure: %+v", h)
	}
	if h.Reachable() {
		t.Error("failing device should not be reachable")
	}
}

// While the device is unreachable, reads keep serving the last good
// snapshot rather than going empty.
func TestReconcilerServesStaleStateDuringOutage(t *testing.T) {
	fc := &fakeClient{}
	healthy := true
	fc.fetchFn = func() (StateReport, error) {
		if healthy {
			return fullReport(time.Now().UTC()), nil
		}
		return StateReport{}, ErrUnreachable
	}

	r := NewReconciler(fc, NewCache(), testConfig(), nil)
	ctx := context.Background()

	if err := r.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}

	fc.mu.Lock()
	healthy = false
	fc.mu.Unlock()
	for i := 0; i < 3; i++ {
		_ = r.cycle(ctx, true)
	}

	snap, ok := r.Cache().Snapshot()
	if !ok {
		t.Fatal("last good snapshot should survive the outage")
	}
	if snap.Left.TargetTempF != 72.0 || snap.Pod.HubVersion != "4.1.22" {
		t.Errorf("stale snapshot corrupted: %+v", snap)
	}
	if r.Health().Reachable() {
		t.Error("health should report unreachable")
	}
}

func TestReconcilerSubmitValidates(t *testing.T) {
	r := NewReconciler(&fakeClient{}, NewCache(), testConfig(), nil)

	if _, err := r.Submit(ScopeLeft, FieldTargetTemp, 200.0); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("out-of-range submit error = %v, want ErrInvalidValue", err)
	}
	if _, err := r.Submit(ScopeLeft, Field("bogus"), 1); !errors.Is(err, ErrUnknownField) {
		t.Errorf("unknown field submit error = %v, want ErrUnknownField", err)
	}
	if r.Cache().PendingCount() != 0 {
		t.Error("invalid submissions must not queue commands")
	}
}

func TestReconcilerStartStop(t *testing.T) {
	fc := &fakeClient{}
	fc.fetchFn = func() (StateReport, error) {
		return fullReport(time.Now().UTC()), nil
	}

	var snapshots int
	var mu sync.Mutex

	r := NewReconciler(fc, NewCache(), testConfig(), nil)
	r.OnSnapshot(func(Snapshot) {
		mu.Lock()
		snapshots++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)
	// The loop polls once immediately on start.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := snapshots
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop() // idempotent

	mu.Lock()
	defer mu.Unlock()
	if snapshots == 0 {
		t.Error("no snapshot observed after Start")
	}
}

func TestReconcilerSubmitBurstCostsOneCycle(t *testing.T) {
	var mu sync.Mutex
	fetches := 0

	fc := &fakeClient{}
	fc.fetchFn = func() (StateReport, error) {
		mu.Lock()
		fetches++
		mu.Unlock()
		return fullReport(time.Now().UTC()), nil
	}

	r := NewReconciler(fc, NewCache(), testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	// Wait for the immediate startup poll so the burst is the only
	// other traffic.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := fetches
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("startup poll never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A burst of submits across distinct fields.
	submits := []struct {
		scope Scope
		field Field
		value any
	}{
		{ScopeLeft, FieldTargetTemp, 65.0},
		{ScopeRight, FieldTargetTemp, 75.0},
		{ScopeLeft, FieldSideActive, false},
		{ScopePod, FieldAwayMode, true},
		{ScopePod, FieldLEDBrightness, 40},
	}
	for _, s := range submits {
		if _, err := r.Submit(s.scope, s.field, s.value); err != nil {
			t.Fatalf("Submit(%s/%s): %v", s.scope, s.field, err)
		}
	}

	// Wait for all of them to reach the device.
	deadline = time.Now().Add(2 * time.Second)
	for {
		if len(fc.sentCommands()) >= len(submits) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d commands sent", len(fc.sentCommands()), len(submits))
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The whole burst settles into a single fetch-and-reconcile pass.
	mu.Lock()
	defer mu.Unlock()
	if fetches != 2 {
		t.Errorf("fetches = %d, want 2 (startup poll + one burst cycle)", fetches)
	}
}

func TestReconcilerHealthChangeCallback(t *testing.T) {
	fc := &fakeClient{}
	healthy := true
	fc.fetchFn = func() (StateReport, error) {
		if healthy {
			return fullReport(time.Now().UTC()), nil
		}
		return StateReport{}, ErrUnreachable
	}

	var events []ConnectionHealth
	r := NewReconciler(fc, NewCache(), testConfig(), nil)
	r.OnHealthChange(func(h ConnectionHealth) {
		events = append(events, h)
	})
	ctx := context.Background()

	// First contact is a transition from "never reached".
	if err := r.cycle(ctx, true); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(events) != 1 || !events[0].Reachable() {
		t.Fatalf("events after first contact = %+v, want one reachable", events)
	}

	// Each failed poll grows the failure count and fires again.
	healthy = false
	for i := 0; i < 2; i++ {
		if err := r.cycle(ctx, true); !errors.Is(err, ErrUnreachable) {
			t.Fatalf("cycle error = %v, want ErrUnreachable", err)
		}
	}
	if len(events) != 3 {
		t.Fatalf("events after two failures = %d, want 3", len(events))
	}
	if events[1].ConsecutiveFailures != 1 || events[2].ConsecutiveFailures != 2 {
		t.Errorf("failure counts = %d, %d, want 1, 2",
			events[1].ConsecutiveFailures, events[2].ConsecutiveFailures)
	}
	if events[2].Reachable() {
		t.Error("failing device must not report reachable")
	}

	// Recovery fires once; a further healthy poll is not a change.
	healthy = true
	for i := 0; i < 2; i++ {
		if err := r.cycle(ctx, true); err != nil {
			t.Fatalf("cycle: %v", err)
		}
	}
	if len(events) != 4 {
		t.Fatalf("events after recovery = %d, want 4 (steady state is quiet)", len(events))
	}
	if !events[3].Reachable() {
		t.Error("recovery event must report reachable")
	}
}
