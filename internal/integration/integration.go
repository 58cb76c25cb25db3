package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freesleephq/freesleep-core/internal/entity"
	"github.com/freesleephq/freesleep-core/internal/history"
	"github.com/freesleephq/freesleep-core/internal/infrastructure/config"
	"github.com/freesleephq/freesleep-core/internal/infrastructure/influxdb"
	"github.com/freesleephq/freesleep-core/internal/pod"
)

// ErrSetupRetry wraps setup failures that are worth retrying later: the
// pod exists but did not answer. Permanent problems (bad config) are
// returned without this marker.
var ErrSetupRetry = errors.New("integration: setup failed, retry later")

// Logger mirrors the logging surface used across the bridge.
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

// Deps carries everything SetupEntry wires together. Broker, Snapshots,
// Commands, and Influx are optional; a nil dependency disables that
// output without affecting reconciliation.
type Deps struct {
	Config *config.Config
	Logger Logger

	// Client overrides the device client. Nil builds a real HTTP client
	// from Config.Pod; tests inject fakes here.
	Client pod.DeviceClient

	// Broker receives retained entity state and command subscriptions.
	Broker entity.Broker

	// Snapshots persists poll history.
	Snapshots history.SnapshotRepository

	// Commands persists the command audit trail.
	Commands history.CommandLogRepository

	// Influx receives time-series writes.
	Influx *influxdb.Client

	// OnSnapshot, when set, is called with each fresh snapshot after the
	// built-in outputs run. The WebSocket hub hangs off this.
	OnSnapshot func(pod.Snapshot)

	// OnCommand, when set, receives every command lifecycle step:
	// submitted, confirmed, failed.
	OnCommand func(CommandEvent)

	// OnHealth, when set, receives connection health changes.
	OnHealth func(pod.ConnectionHealth)
}

// CommandEvent is one step of a command's lifecycle, for streaming
// consumers. Status values match the command log's.
type CommandEvent struct {
	Command pod.PendingCommand `json:"command"`
	Status  string             `json:"status"`
	Detail  string             `json:"detail,omitempty"`
}

// Entry is one set-up bridge instance.
type Entry struct {
	Reconciler *pod.Reconciler
	Cache      *pod.Cache
	Binder     *entity.Binder

	publisher *entity.Publisher
	health    *entity.HealthReporter
	logger    Logger
	commands  history.CommandLogRepository
	onCommand func(CommandEvent)
	executor  executor
	scheduler scheduler

	cancel context.CancelFunc
}

// SetupEntry builds and starts the bridge.
//
// The sequence mirrors a device integration's setup: construct everything,
// perform one synchronous refresh, and only then start the background loop
// and outputs. A pod that does not answer the first refresh fails setup
// with ErrSetupRetry; nothing is left running.
//
// Parameters:
//   - ctx: Bounds the setup work (first refresh included)
//   - deps: Configuration and optional outputs
//
// Returns:
//   - *Entry: Running bridge; call Unload to tear it down
//   - error: ErrSetupRetry when the pod did not answer
func SetupEntry(ctx context.Context, deps Deps) (*Entry, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("integration: config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	podCfg := deps.Config.Pod
	client := deps.Client
	if client == nil {
		client = pod.NewClient(podCfg.Host, podCfg.RequestTimeoutDuration())
	}

	cache := pod.NewCache()
	rec := pod.NewReconciler(client, cache, pod.ReconcilerConfig{
		PollInterval:   podCfg.PollIntervalDuration(),
		RetryInterval:  podCfg.Command.RetryIntervalDuration(),
		RetryLimit:     podCfg.Command.RetryLimit,
		BackoffInitial: podCfg.Backoff.InitialDelayDuration(),
		BackoffMax:     podCfg.Backoff.MaxDelayDuration(),
	}, logger)

	e := &Entry{
		Reconciler: rec,
		Cache:      cache,
		logger:     logger,
		commands:   deps.Commands,
		onCommand:  deps.OnCommand,
	}
	// Raw command pass-through and schedule writes are only available
	// when the transport supports them. The real HTTP client does; test
	// fakes need not.
	if ex, ok := client.(executor); ok {
		e.executor = ex
	}
	if sc, ok := client.(scheduler); ok {
		e.scheduler = sc
	}
	// The binder sinks into the entry, not the reconciler directly, so
	// MQTT commands share the audit trail with API submissions.
	e.Binder = entity.NewBinder(e)

	if deps.Broker != nil {
		e.publisher = entity.NewPublisher(deps.Broker, e.Binder, logger)
		e.health = entity.NewHealthReporter(e.publisher, rec, cache, podCfg.PollIntervalDuration())
	}

	e.wireCallbacks(deps)

	// First refresh gate: the cache must hold a real snapshot before any
	// entity is visible.
	if err := rec.RefreshNow(ctx); err != nil {
		return nil, fmt.Errorf("%w: first refresh: %w", ErrSetupRetry, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	rec.Start(runCtx)
	if e.publisher != nil {
		if err := e.publisher.Start(); err != nil {
			cancel()
			rec.Stop()
			return nil, fmt.Errorf("starting entity publisher: %w", err)
		}
		e.health.Start(runCtx)

		// Late subscribers get the first snapshot without waiting a poll.
		if snap, ok := cache.View(); ok {
			e.publisher.PublishSnapshot(snap)
		}
	}

	logger.Info("bridge ready",
		"pod", podCfg.Host,
		"poll_interval", podCfg.PollIntervalDuration(),
		"entities", len(e.Binder.Entities()))
	return e, nil
}

// wireCallbacks connects reconciler events to the configured outputs.
func (e *Entry) wireCallbacks(deps Deps) {
	e.Reconciler.OnSnapshot(func(snap pod.Snapshot) {
		if e.publisher != nil {
			e.publisher.PublishSnapshot(snap)
		}
		if deps.Snapshots != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := deps.Snapshots.Record(ctx, snap); err != nil {
				e.logger.Warn("snapshot history write failed", "error", err)
			}
			cancel()
		}
		if deps.Influx != nil {
			writeTimeSeries(deps.Influx, snap)
		}
		if deps.OnSnapshot != nil {
			deps.OnSnapshot(snap)
		}
	})

	e.Reconciler.OnCommandConfirmed(func(cmd pod.PendingCommand) {
		if deps.Commands != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := deps.Commands.RecordConfirmed(ctx, cmd); err != nil {
				e.logger.Warn("command log write failed", "command_id", cmd.ID, "error", err)
			}
			cancel()
		}
		if deps.OnCommand != nil {
			deps.OnCommand(CommandEvent{Command: cmd, Status: history.CommandStatusConfirmed})
		}
	})

	e.Reconciler.OnCommandFailed(func(cmd pod.PendingCommand, cmdErr error) {
		if deps.Commands != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := deps.Commands.RecordFailed(ctx, cmd, cmdErr.Error()); err != nil {
				e.logger.Warn("command log write failed", "command_id", cmd.ID, "error", err)
			}
			cancel()
		}
		if deps.OnCommand != nil {
			deps.OnCommand(CommandEvent{Command: cmd, Status: history.CommandStatusFailed, Detail: cmdErr.Error()})
		}
	})

	if deps.OnHealth != nil {
		e.Reconciler.OnHealthChange(deps.OnHealth)
	}
}

// writeTimeSeries pushes one snapshot's numeric series to InfluxDB.
func writeTimeSeries(influx *influxdb.Client, snap pod.Snapshot) {
	for _, side := range []pod.Side{pod.SideLeft, pod.SideRight} {
		s := snap.SideState(side)
		influx.WriteTemperature(string(side), s.CurrentTempF, s.TargetTempF)
		if !s.Vitals.MeasuredAt.IsZero() || s.Vitals.HeartRate > 0 {
			influx.WriteVitals(string(side), s.Vitals.HeartRate, s.Vitals.BreathingRate, s.Vitals.HRV)
		}
	}
	influx.WritePodTelemetry(snap.Pod.WiFiStrength, snap.Pod.WaterLevelOK, snap.Pod.Priming)
}

// SubmitCommand validates and queues a command for the device. Both API
// callers and the MQTT command subscription land here.
func (e *Entry) SubmitCommand(scope pod.Scope, field pod.Field, value any) (pod.PendingCommand, error) {
	cmd, err := e.Reconciler.Submit(scope, field, value)
	if err != nil {
		return cmd, err
	}
	if e.commands != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if logErr := e.commands.RecordSubmitted(ctx, cmd); logErr != nil {
			e.logger.Warn("command log write failed", "command_id", cmd.ID, "error", logErr)
		}
	}
	if e.onCommand != nil {
		e.onCommand(CommandEvent{Command: cmd, Status: history.CommandStatusSubmitted})
	}
	return cmd, nil
}

// Submit implements entity.CommandSink.
func (e *Entry) Submit(scope pod.Scope, field pod.Field, value any) (pod.PendingCommand, error) {
	return e.SubmitCommand(scope, field, value)
}

// executor is the optional raw pass-through capability of the transport.
type executor interface {
	Execute(ctx context.Context, command, value string) (map[string]any, error)
}

// ErrExecuteUnsupported is returned when the underlying transport has no
// raw command channel.
var ErrExecuteUnsupported = errors.New("integration: execute not supported by transport")

// Execute forwards an arbitrary firmware command and returns the raw
// response. It bypasses the pending queue entirely; the caller owns the
// consequences.
func (e *Entry) Execute(ctx context.Context, command, value string) (map[string]any, error) {
	if e.executor == nil {
		return nil, ErrExecuteUnsupported
	}
	e.logger.Info("executing raw pod command", "command", command)
	return e.executor.Execute(ctx, command, value)
}

// scheduler is the optional schedule-write capability of the transport.
type scheduler interface {
	SetSchedule(ctx context.Context, side pod.Side, days []string, sched pod.SideSchedule) error
}

// ErrScheduleUnsupported is returned when the underlying transport cannot
// write schedules.
var ErrScheduleUnsupported = errors.New("integration: schedule not supported by transport")

// SetSchedule validates a nightly program and writes it to the given
// sides for the given days of the week. Empty sides means both; empty
// days means every day. Schedule writes are synchronous: the firmware
// stores them itself, so there is no state field to reconcile against.
func (e *Entry) SetSchedule(ctx context.Context, sides []pod.Side, days []string, sched pod.SideSchedule) error {
	if e.scheduler == nil {
		return ErrScheduleUnsupported
	}

	normDays, normSched, err := pod.ValidateSchedule(days, sched)
	if err != nil {
		return err
	}

	if len(sides) == 0 {
		sides = []pod.Side{pod.SideLeft, pod.SideRight}
	}
	for _, side := range sides {
		if side != pod.SideLeft && side != pod.SideRight {
			return fmt.Errorf("%w: unknown side %q", pod.ErrInvalidValue, side)
		}
	}

	for _, side := range sides {
		if err := e.scheduler.SetSchedule(ctx, side, normDays, normSched); err != nil {
			return fmt.Errorf("writing %s schedule: %w", side, err)
		}
		e.logger.Info("schedule written", "side", side, "days", len(normDays))
	}
	return nil
}

// Unload stops the bridge: background loops first, then outputs. The
// caller owns shared infrastructure (DB, broker) and closes it separately.
func (e *Entry) Unload() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.health != nil {
		e.health.Stop()
	}
	e.Reconciler.Stop()
	e.logger.Info("bridge unloaded")
}
