package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Free Sleep Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Pod       PodConfig       `yaml:"pod"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// PodConfig contains the Free Sleep pod connection and reconciliation settings.
//
// The host is fixed for the lifetime of the process; changing it requires a
// restart, mirroring how the device is adopted once and then polled forever.
type PodConfig struct {
	// Host is the base URL of the pod's firmware API (e.g., "http://10.0.0.42:3000").
	// This is the single required input for the integration.
	Host string `yaml:"host"`

	// Name is the display name used for the pod device and entity prefixes.
	// Default: "Free Sleep Pod"
	Name string `yaml:"name"`

	// PollInterval is the reconciliation cadence in seconds.
	// Clamped to 5-300. Default: 30.
	PollInterval int `yaml:"poll_interval"`

	// RequestTimeout bounds each device HTTP call in seconds. Default: 10.
	RequestTimeout int `yaml:"request_timeout"`

	// Command contains pending-command retry settings.
	Command CommandConfig `yaml:"command"`

	// Backoff contains poll-failure backoff settings.
	Backoff BackoffConfig `yaml:"backoff"`
}

// CommandConfig contains pending-command retry settings.
type CommandConfig struct {
	// RetryInterval is how long a sent command waits for device confirmation
	// before being re-sent, in seconds. Default: 15.
	RetryInterval int `yaml:"retry_interval"`

	// RetryLimit is how many sends a command gets before it is discarded and
	// surfaced as failed. Default: 3.
	RetryLimit int `yaml:"retry_limit"`
}

// BackoffConfig contains exponential backoff settings for poll failures.
type BackoffConfig struct {
	// InitialDelay is the first backoff delay in seconds. Default: 30.
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay caps the backoff delay in seconds. Default: 600.
	MaxDelay int `yaml:"max_delay"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for vitals telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT  JWTConfig     `yaml:"jwt"`
	User APIUserConfig `yaml:"user"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// APIUserConfig contains the single provisioned API user.
//
// A one-device bridge does not carry a user registry; the API authenticates
// against one configured credential pair.
type APIUserConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// Poll interval bounds, matching the range the pod firmware tolerates.
const (
	MinPollIntervalSeconds = 5
	MaxPollIntervalSeconds = 300
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FREESLEEP_SECTION_KEY
// For example: FREESLEEP_POD_HOST, FREESLEEP_JWT_SECRET
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := Default()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
// The pod host and JWT secret have no defaults and must be provided.
func Default() *Config {
	return &Config{
		Pod: PodConfig{
			Name:           "Free Sleep Pod",
			PollInterval:   30,
			RequestTimeout: 10,
			Command: CommandConfig{
				RetryInterval: 15,
				RetryLimit:    3,
			},
			Backoff: BackoffConfig{
				InitialDelay: 30,
				MaxDelay:     600,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/freesleep.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "freesleep-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8093,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FREESLEEP_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Pod
	if v := os.Getenv("FREESLEEP_POD_HOST"); v != "" {
		cfg.Pod.Host = v
	}
	if v := os.Getenv("FREESLEEP_POD_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pod.PollInterval = n
		}
	}

	// Database
	if v := os.Getenv("FREESLEEP_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FREESLEEP_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FREESLEEP_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FREESLEEP_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FREESLEEP_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("FREESLEEP_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("FREESLEEP_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Pod validation - host is the one required input
	if c.Pod.Host == "" {
		errs = append(errs, "pod.host is required (set FREESLEEP_POD_HOST environment variable)")
	} else if !strings.HasPrefix(c.Pod.Host, "http://") && !strings.HasPrefix(c.Pod.Host, "https://") {
		errs = append(errs, "pod.host must start with http:// or https://")
	}
	if c.Pod.PollInterval < MinPollIntervalSeconds || c.Pod.PollInterval > MaxPollIntervalSeconds {
		errs = append(errs, fmt.Sprintf("pod.poll_interval must be between %d and %d seconds",
			MinPollIntervalSeconds, MaxPollIntervalSeconds))
	}
	if c.Pod.RequestTimeout < 1 {
		errs = append(errs, "pod.request_timeout must be at least 1 second")
	}
	if c.Pod.Command.RetryLimit < 1 {
		errs = append(errs, "pod.command.retry_limit must be at least 1")
	}
	if c.Pod.Backoff.InitialDelay < 1 || c.Pod.Backoff.MaxDelay < c.Pod.Backoff.InitialDelay {
		errs = append(errs, "pod.backoff delays must be positive with max_delay >= initial_delay")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - JWT secret is REQUIRED
	// A weak secret lets anyone on the LAN forge a token and drive the bed.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set FREESLEEP_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PollIntervalDuration returns the reconciliation cadence as a Duration.
func (p PodConfig) PollIntervalDuration() time.Duration {
	return time.Duration(p.PollInterval) * time.Second
}

// RequestTimeoutDuration returns the per-call device timeout as a Duration.
func (p PodConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(p.RequestTimeout) * time.Second
}

// RetryIntervalDuration returns the command retry interval as a Duration.
func (c CommandConfig) RetryIntervalDuration() time.Duration {
	return time.Duration(c.RetryInterval) * time.Second
}

// InitialDelayDuration returns the initial backoff delay as a Duration.
func (b BackoffConfig) InitialDelayDuration() time.Duration {
	return time.Duration(b.InitialDelay) * time.Second
}

// MaxDelayDuration returns the capped backoff delay as a Duration.
func (b BackoffConfig) MaxDelayDuration() time.Duration {
	return time.Duration(b.MaxDelay) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
