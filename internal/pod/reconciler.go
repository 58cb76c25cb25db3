package pod

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DeviceClient is the transport the reconciler drives. *Client satisfies
// it; tests substitute a fake.
type DeviceClient interface {
	FetchState(ctx context.Context) (StateReport, error)
	SendCommand(ctx context.Context, cmd PendingCommand) error
}

// Logger is the minimal logging surface the reconciler needs, so the
// package does not depend on the logging infrastructure directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ReconcilerConfig tunes the poll and retry behaviour.
type ReconcilerConfig struct {
	PollInterval   time.Duration
	RetryInterval  time.Duration
	RetryLimit     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Reconciler owns all device communication. A single goroutine polls the
// pod on a fixed cadence, merges each response into the cache, and pushes
// pending commands until the device confirms them or the retry budget runs
// out. Nothing else in the process talks to the device, so there is never a
// concurrent fetch or a read-modify-write race against the firmware.
type Reconciler struct {
	client DeviceClient
	cache  *Cache
	cfg    ReconcilerConfig
	logger Logger

	mu     sync.Mutex
	health ConnectionHealth

	onSnapshot  func(Snapshot)
	onConfirmed func(PendingCommand)
	onFailed    func(PendingCommand, error)
	onHealth    func(ConnectionHealth)

	// kick wakes the loop early after a Submit so a new command goes out
	// without waiting for the next poll tick.
	kick     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewReconciler creates a reconciler over the given client and cache.
//
// Parameters:
//   - client: Device transport; the reconciler is its only caller
//   - cache: Shared state cache the rest of the process reads
//   - cfg: Poll and retry tuning
//   - logger: May be nil
//
// Returns:
//   - *Reconciler: Not yet polling; call Start
func NewReconciler(client DeviceClient, cache *Cache, cfg ReconcilerConfig, logger Logger) *Reconciler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Reconciler{
		client: client,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// OnSnapshot registers a callback invoked after every successful poll with
// the freshly merged snapshot (pending overlay applied). Set before Start.
func (r *Reconciler) OnSnapshot(fn func(Snapshot)) {
	r.onSnapshot = fn
}

// OnCommandConfirmed registers a callback for commands the device has
// confirmed. Set before Start.
func (r *Reconciler) OnCommandConfirmed(fn func(PendingCommand)) {
	r.onConfirmed = fn
}

// OnCommandFailed registers a callback for commands abandoned after
// rejection or retry exhaustion. Set before Start.
func (r *Reconciler) OnCommandFailed(fn func(PendingCommand, error)) {
	r.onFailed = fn
}

// OnHealthChange registers a callback for connection health changes: every
// failed poll (the failure count and backoff grow) and every recovery,
// including the first contact. Set before Start.
func (r *Reconciler) OnHealthChange(fn func(ConnectionHealth)) {
	r.onHealth = fn
}

// Start launches the poll loop. The loop runs until Stop is called or ctx
// is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
	r.logger.Info("reconciler started",
		"poll_interval", r.cfg.PollInterval,
		"retry_limit", r.cfg.RetryLimit)
}

// Stop halts the poll loop and waits for it to exit. Safe to call more
// than once.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

// RefreshNow performs one synchronous fetch-and-reconcile cycle,
// bypassing any backoff window. Used by integration setup to gate on the
// first refresh, and by an explicit refresh request.
//
// Returns:
//   - error: The classified fetch error; nil means the cache now holds a
//     fresh snapshot
func (r *Reconciler) RefreshNow(ctx context.Context) error {
	return r.cycle(ctx, true)
}

// Submit validates and queues a desired value for the device.
//
// The value is normalised (temperatures snap to the half-degree grid) and
// the command replaces any unsent command for the same scope and field:
// only the latest user intent is ever sent. The call returns as soon as
// the command is queued; delivery happens on the reconcile loop.
//
// Parameters:
//   - scope: ScopePod, ScopeLeft, or ScopeRight
//   - field: Which setting or action
//   - value: Raw desired value
//
// Returns:
//   - PendingCommand: The queued command, with its assigned ID
//   - error: ErrUnknownField or ErrInvalidValue
func (r *Reconciler) Submit(scope Scope, field Field, value any) (PendingCommand, error) {
	normalised, err := ValidateCommand(scope, field, value)
	if err != nil {
		return PendingCommand{}, err
	}

	cmd := NewPendingCommand(scope, field, normalised, time.Now().UTC())
	r.cache.SetPending(cmd)
	r.logger.Debug("command queued",
		"command_id", cmd.ID, "scope", scope, "field", field, "value", normalised)

	// Wake the loop; drop the kick if one is already queued.
	select {
	case r.kick <- struct{}{}:
	default:
	}
	return cmd, nil
}

// Health returns the current connection health.
func (r *Reconciler) Health() ConnectionHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.health
}

// Cache returns the state cache the reconciler maintains.
func (r *Reconciler) Cache() *Cache {
	return r.cache
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	// First cycle immediately rather than waiting a full interval. Setup
	// normally did a RefreshNow already, which makes this a cheap repeat.
	if err := r.cycle(ctx, false); err != nil {
		r.logger.Warn("initial poll failed", "error", err)
	}

	for {
		select {
		case <-r.done:
			r.logger.Info("reconciler stopped")
			return
		case <-ctx.Done():
			r.logger.Info("reconciler stopped", "reason", "context cancelled")
			return
		case <-ticker.C:
			if err := r.cycle(ctx, false); err != nil {
				r.logger.Warn("poll cycle failed", "error", err)
			}
		case <-r.kick:
			if !r.settleKicks(ctx) {
				r.logger.Info("reconciler stopped")
				return
			}
			if err := r.cycle(ctx, false); err != nil {
				r.logger.Warn("command cycle failed", "error", err)
			}
		}
	}
}

// kickSettle is how long the loop waits after a kick before cycling, so a
// burst of submits costs one fetch instead of one per command.
const kickSettle = 100 * time.Millisecond

// settleKicks absorbs further kicks until the burst goes quiet. Returns
// false when the loop should exit instead of cycling.
func (r *Reconciler) settleKicks(ctx context.Context) bool {
	timer := time.NewTimer(kickSettle)
	defer timer.Stop()
	for {
		select {
		case <-r.kick:
			// Still arriving; the timer keeps running so a steady stream
			// of submits cannot postpone the cycle forever.
		case <-timer.C:
			return true
		case <-r.done:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// cycle performs one fetch-merge-reconcile pass. When the connection is in
// a backoff window and force is false, the device is left alone entirely:
// no poll, no command sends. Reads continue to be served from the cache.
func (r *Reconciler) cycle(ctx context.Context, force bool) error {
	now := time.Now().UTC()

	r.mu.Lock()
	inBackoff := r.health.InBackoff(now)
	r.mu.Unlock()
	if inBackoff && !force {
		r.logger.Debug("in backoff, skipping poll")
		return nil
	}

	report, err := r.client.FetchState(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.recordFailure(now, err)
		return err
	}

	snap := r.cache.ApplyFetched(report)
	r.recordSuccess(now)

	r.reconcilePending(ctx, &snap)

	if r.onSnapshot != nil {
		if view, ok := r.cache.View(); ok {
			r.onSnapshot(view)
		}
	}
	return nil
}

// reconcilePending walks the pending set against the latest snapshot:
// confirms commands the device now reports, retires commands out of
// retries, and sends or resends whatever is due.
func (r *Reconciler) reconcilePending(ctx context.Context, snap *Snapshot) {
	now := time.Now().UTC()

	for _, cmd := range r.cache.PendingCommands() {
		// One-shot actions have no corresponding state field; they are
		// confirmed by the device acknowledging the request itself.
		if !cmd.OneShot {
			if current, ok := fieldValue(snap, cmd.Scope, cmd.Field); ok && valuesEqual(current, cmd.Value) {
				if cleared, ok := r.cache.ClearPending(cmd.Key()); ok {
					r.logger.Info("command confirmed",
						"command_id", cleared.ID, "scope", cleared.Scope,
						"field", cleared.Field, "retries", cleared.Retries)
					if r.onConfirmed != nil {
						r.onConfirmed(cleared)
					}
				}
				continue
			}
		}

		// A command already sent RetryLimit+1 times and still not
		// confirmed loses the tie: the device value stands.
		if !cmd.LastSent.IsZero() && cmd.Retries > r.cfg.RetryLimit {
			if cleared, ok := r.cache.ClearPending(cmd.Key()); ok {
				err := fmt.Errorf("%w: %s/%s after %d attempts",
					ErrRetryExhausted, cleared.Scope, cleared.Field, cleared.Retries)
				r.logger.Warn("command abandoned",
					"command_id", cleared.ID, "scope", cleared.Scope,
					"field", cleared.Field, "error", err)
				if r.onFailed != nil {
					r.onFailed(cleared, err)
				}
			}
			continue
		}

		if !cmd.Due(now, r.cfg.RetryInterval) {
			continue
		}

		if err := r.sendPending(ctx, cmd, now); err != nil {
			// A transport failure here counts against connection health
			// and ends the pass; remaining commands wait for the next
			// cycle rather than hammering a device that just went away.
			if errors.Is(err, ErrUnreachable) || errors.Is(err, ErrTimeout) {
				r.recordFailure(now, err)
				return
			}
		}
	}
}

// sendPending delivers one command and updates its bookkeeping.
func (r *Reconciler) sendPending(ctx context.Context, cmd PendingCommand, now time.Time) error {
	err := r.client.SendCommand(ctx, cmd)

	switch {
	case err == nil && cmd.OneShot:
		if cleared, ok := r.cache.ClearPending(cmd.Key()); ok {
			r.logger.Info("action acknowledged",
				"command_id", cleared.ID, "field", cleared.Field)
			if r.onConfirmed != nil {
				r.onConfirmed(cleared)
			}
		}
		return nil

	case err == nil:
		cmd.LastSent = now
		cmd.Retries++
		r.cache.UpdatePending(cmd)
		r.logger.Debug("command sent",
			"command_id", cmd.ID, "scope", cmd.Scope,
			"field", cmd.Field, "attempt", cmd.Retries)
		return nil

	case errors.Is(err, ErrRejected):
		// The device understood and refused; retrying the same value
		// cannot succeed.
		if cleared, ok := r.cache.ClearPending(cmd.Key()); ok {
			r.logger.Warn("command rejected",
				"command_id", cleared.ID, "scope", cleared.Scope,
				"field", cleared.Field, "error", err)
			if r.onFailed != nil {
				r.onFailed(cleared, err)
			}
		}
		return err

	default:
		// Transport failure: the attempt still spends a retry so a dead
		// device cannot pin a command forever.
		cmd.LastSent = now
		cmd.Retries++
		r.cache.UpdatePending(cmd)
		return err
	}
}

func (r *Reconciler) recordSuccess(now time.Time) {
	r.mu.Lock()
	wasDown := !r.health.Reachable() && !r.health.LastSuccess.IsZero()
	firstContact := r.health.LastSuccess.IsZero()
	failures := r.health.ConsecutiveFailures
	r.health.recordSuccess(now)
	h := r.health
	r.mu.Unlock()

	if wasDown || failures > 0 {
		r.logger.Info("device reachable", "after_failures", failures)
	}
	if (wasDown || failures > 0 || firstContact) && r.onHealth != nil {
		r.onHealth(h)
	}
}

func (r *Reconciler) recordFailure(now time.Time, err error) {
	r.mu.Lock()
	r.health.recordFailure(now, r.cfg.BackoffInitial, r.cfg.BackoffMax)
	h := r.health
	r.mu.Unlock()

	r.logger.Warn("device unreachable",
		"consecutive_failures", h.ConsecutiveFailures,
		"backoff", h.BackoffDelay,
		"error", err)
	if r.onHealth != nil {
		r.onHealth(h)
	}
}
