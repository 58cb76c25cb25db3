package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/freesleephq/freesleep-core/internal/infrastructure/mqtt"
	"github.com/freesleephq/freesleep-core/internal/pod"
)

// Broker is the MQTT surface the publisher needs. *mqtt.Client satisfies
// it; tests substitute a fake.
type Broker interface {
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

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

// statePayload is the JSON published to each entity state topic.
type statePayload struct {
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Publisher renders entity state onto retained MQTT topics and feeds
// inbound command topics into the binder.
//
// One retained message per entity keeps late subscribers current without
// a poll: the broker replays the last state the moment they subscribe.
type Publisher struct {
	broker Broker
	binder *Binder
	logger Logger
	topics mqtt.Topics
}

// NewPublisher creates a publisher over the given broker and binder.
func NewPublisher(broker Broker, binder *Binder, logger Logger) *Publisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Publisher{
		broker: broker,
		binder: binder,
		logger: logger,
	}
}

// Start subscribes to the entity command topics. Call once after the
// broker is connected; the subscription survives reconnects.
func (p *Publisher) Start() error {
	err := p.broker.Subscribe(p.topics.AllEntityCommands(), 1, p.handleCommandMessage)
	if err != nil {
		return fmt.Errorf("subscribing to entity commands: %w", err)
	}
	p.logger.Info("entity command subscription active",
		"topic", p.topics.AllEntityCommands())
	return nil
}

// handleCommandMessage routes one inbound command topic to the binder.
func (p *Publisher) handleCommandMessage(topic string, payload []byte) error {
	deviceID, key, ok := mqtt.ParseEntityCommand(topic)
	if !ok {
		return fmt.Errorf("unroutable command topic %q", topic)
	}

	cmd, err := p.binder.HandleCommand(deviceID, key, payload)
	if err != nil {
		p.logger.Warn("entity command dropped",
			"device", deviceID, "entity", key, "error", err)
		return err
	}

	p.logger.Debug("entity command accepted",
		"device", deviceID, "entity", key, "command_id", cmd.ID)
	return nil
}

// PublishSnapshot publishes retained state and availability for every
// entity from one snapshot. Called by the reconciler's snapshot callback.
func (p *Publisher) PublishSnapshot(snap pod.Snapshot) {
	if !p.broker.IsConnected() {
		return
	}

	for _, e := range p.binder.Entities() {
		if e.Kind == KindButton {
			continue
		}

		availability := "offline"
		if e.Available(&snap) {
			availability = "online"
		}
		if err := p.broker.PublishRetained(
			p.topics.EntityAvailability(e.DeviceID, e.Key), []byte(availability)); err != nil {
			p.logger.Warn("availability publish failed",
				"device", e.DeviceID, "entity", e.Key, "error", err)
			continue
		}

		if availability == "offline" {
			continue
		}

		payload, err := json.Marshal(statePayload{
			Value:     e.Value(&snap),
			UpdatedAt: snap.FetchedAt,
		})
		if err != nil {
			p.logger.Error("state payload encoding failed",
				"device", e.DeviceID, "entity", e.Key, "error", err)
			continue
		}
		if err := p.broker.PublishRetained(
			p.topics.EntityState(e.DeviceID, e.Key), payload); err != nil {
			p.logger.Warn("state publish failed",
				"device", e.DeviceID, "entity", e.Key, "error", err)
		}
	}
}

// healthPayload is the JSON published to the bridge health topic.
type healthPayload struct {
	Status              string    `json:"status"`
	Reason              string    `json:"reason,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	BackoffSeconds      float64   `json:"backoff_seconds,omitempty"`
	LastContact         time.Time `json:"last_contact,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// PublishHealth publishes the pod connection health to the bridge health
// topic.
func (p *Publisher) PublishHealth(h pod.ConnectionHealth, lastContact time.Time) {
	if !p.broker.IsConnected() {
		return
	}

	status := "healthy"
	reason := ""
	switch {
	case h.LastSuccess.IsZero():
		status = "starting"
	case !h.Reachable():
		status = "degraded"
		reason = "pod unreachable"
	}

	payload, err := json.Marshal(healthPayload{
		Status:              status,
		Reason:              reason,
		ConsecutiveFailures: h.ConsecutiveFailures,
		BackoffSeconds:      h.BackoffDelay.Seconds(),
		LastContact:         lastContact,
		Timestamp:           time.Now().UTC(),
	})
	if err != nil {
		p.logger.Error("health payload encoding failed", "error", err)
		return
	}

	if err := p.broker.PublishRetained(p.topics.BridgeHealth(), payload); err != nil {
		p.logger.Warn("health publish failed", "error", err)
	}
}
