package entity

import (
	"context"
	"sync"
	"time"

	"github.com/freesleephq/freesleep-core/internal/pod"
)

// defaultHealthInterval is how often health is published when the config
// does not say otherwise.
const defaultHealthInterval = 30 * time.Second

// HealthSource provides the connection health the reporter publishes.
// The reconciler satisfies it.
type HealthSource interface {
	Health() pod.ConnectionHealth
}

// ContactSource provides the last successful device contact time.
// The state cache satisfies it.
type ContactSource interface {
	LastContact() time.Time
}

// HealthReporter periodically publishes pod connection health to the
// bridge health topic, so consumers can tell a healthy-but-idle bridge
// from one that lost its pod.
type HealthReporter struct {
	publisher *Publisher
	source    HealthSource
	contact   ContactSource
	interval  time.Duration

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a health reporter.
//
// Parameters:
//   - publisher: Where health payloads go
//   - source: Connection health provider (the reconciler)
//   - contact: Last-contact provider (the state cache)
//   - interval: Publish cadence; zero means the 30 second default
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(publisher *Publisher, source HealthSource, contact ContactSource, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		publisher: publisher,
		source:    source,
		contact:   contact,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting.
// Must be called after creation. Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation (will stop reporting when cancelled)
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
	h.wg.Wait()
}

// PublishNow publishes the current health immediately.
// Useful for forcing an update after a significant event.
func (h *HealthReporter) PublishNow() {
	h.publisher.PublishHealth(h.source.Health(), h.contact.LastContact())
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Publish initial status
	h.PublishNow()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.PublishNow()
		}
	}
}
