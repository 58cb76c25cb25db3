package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
pod:
  host: "http://10.0.0.42:3000"
  name: "Bedroom Pod"
  poll_interval: 60
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
api:
  host: "0.0.0.0"
  port: 8093
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pod.Host != "http://10.0.0.42:3000" {
		t.Errorf("Pod.Host = %q, want %q", cfg.Pod.Host, "http://10.0.0.42:3000")
	}
	if cfg.Pod.Name != "Bedroom Pod" {
		t.Errorf("Pod.Name = %q, want %q", cfg.Pod.Name, "Bedroom Pod")
	}
	if cfg.Pod.PollInterval != 60 {
		t.Errorf("Pod.PollInterval = %d, want 60", cfg.Pod.PollInterval)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
}

func TestLoad_Defaults(t *testing.T) {
	content := `
pod:
  host: "http://pod.local"
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pod.PollInterval != 30 {
		t.Errorf("default Pod.PollInterval = %d, want 30", cfg.Pod.PollInterval)
	}
	if cfg.Pod.Command.RetryLimit != 3 {
		t.Errorf("default Command.RetryLimit = %d, want 3", cfg.Pod.Command.RetryLimit)
	}
	if cfg.Pod.Backoff.MaxDelay != 600 {
		t.Errorf("default Backoff.MaxDelay = %d, want 600", cfg.Pod.Backoff.MaxDelay)
	}
	if got := cfg.Pod.Backoff.MaxDelayDuration(); got != 10*time.Minute {
		t.Errorf("Backoff.MaxDelayDuration() = %v, want 10m", got)
	}
	if cfg.MQTT.Broker.ClientID != "freesleep-core" {
		t.Errorf("default MQTT.Broker.ClientID = %q", cfg.MQTT.Broker.ClientID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
pod:
  host: "http://pod.local"
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	t.Setenv("FREESLEEP_POD_HOST", "http://other-pod.local")
	t.Setenv("FREESLEEP_POD_POLL_INTERVAL", "120")

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pod.Host != "http://other-pod.local" {
		t.Errorf("Pod.Host = %q, env override not applied", cfg.Pod.Host)
	}
	if cfg.Pod.PollInterval != 120 {
		t.Errorf("Pod.PollInterval = %d, env override not applied", cfg.Pod.PollInterval)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing pod host",
			mutate:  func(c *Config) { c.Pod.Host = "" },
			wantErr: "pod.host is required",
		},
		{
			name:    "host without scheme",
			mutate:  func(c *Config) { c.Pod.Host = "10.0.0.42:3000" },
			wantErr: "pod.host must start with",
		},
		{
			name:    "poll interval too small",
			mutate:  func(c *Config) { c.Pod.PollInterval = 1 },
			wantErr: "pod.poll_interval",
		},
		{
			name:    "poll interval too large",
			mutate:  func(c *Config) { c.Pod.PollInterval = 900 },
			wantErr: "pod.poll_interval",
		},
		{
			name:    "backoff max below initial",
			mutate:  func(c *Config) { c.Pod.Backoff.MaxDelay = 5 },
			wantErr: "pod.backoff",
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: "security.jwt.secret is required",
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "at least 32 characters",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Pod.Host = "http://pod.local"
			cfg.Security.JWT.Secret = "test-secret-key-at-least-32-chars!"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

// The shipped sample config must pass validation once the secrets it
// leaves blank are supplied through the environment.
func TestLoad_SampleConfig(t *testing.T) {
	t.Setenv("FREESLEEP_JWT_SECRET", "sample-secret-key-at-least-32-chars")

	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Load(configs/config.yaml) error = %v", err)
	}

	if !strings.HasPrefix(cfg.Pod.Host, "http://") {
		t.Errorf("sample pod.host = %q, want an http:// URL", cfg.Pod.Host)
	}
	if cfg.MQTT.Enabled || cfg.InfluxDB.Enabled {
		t.Error("sample config should ship with optional outputs disabled")
	}
}
