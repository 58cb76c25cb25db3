package influxdb

import (
	"context"
	"errors"
	"testing"

	"github.com/freesleephq/freesleep-core/internal/infrastructure/config"
)

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("error = %v, want ErrDisabled", err)
	}
}

func TestDisconnectedClientIsSafe(t *testing.T) {
	// A zero client behaves like a disabled integration: every write is a
	// silent no-op and health checks fail cleanly.
	c := &Client{}

	c.WriteVitals("left", 58, 13.5, 42)
	c.WriteTemperature("left", 71.3, 72.0)
	c.WritePodTelemetry(-52, true, false)
	c.WritePoint("custom", nil, map[string]interface{}{"v": 1})
	c.Flush()

	if c.IsConnected() {
		t.Error("zero client should not report connected")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on zero client: %v", err)
	}
}
