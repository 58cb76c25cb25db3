// Free Sleep Core - local bridge for the Free Sleep pod.
//
// This is the main entry point for the Free Sleep Core application.
// The bridge polls the pod firmware over its local HTTP API, keeps a
// reconciled state cache, and exposes the device through MQTT entity
// topics, a REST API, and WebSocket push. Designed for:
//   - Fully local operation (no cloud dependency)
//   - Single always-on process next to the pod (Pi, NAS, home server)
//   - Surviving pod reboots and network drops without operator help
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/freesleephq/freesleep-core/migrations"

	"github.com/freesleephq/freesleep-core/internal/api"
	"github.com/freesleephq/freesleep-core/internal/auth"
	"github.com/freesleephq/freesleep-core/internal/history"
	"github.com/freesleephq/freesleep-core/internal/infrastructure/config"
	"github.com/freesleephq/freesleep-core/internal/infrastructure/database"
	"github.com/freesleephq/freesleep-core/internal/infrastructure/influxdb"
	"github.com/freesleephq/freesleep-core/internal/infrastructure/logging"
	"github.com/freesleephq/freesleep-core/internal/infrastructure/mqtt"
	"github.com/freesleephq/freesleep-core/internal/integration"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// setupRetryDelay is how long to wait before retrying integration setup
// when the pod did not answer the first refresh.
const setupRetryDelay = 30 * time.Second

// historyRetention is how long state and command history rows are kept.
const historyRetention = 30 * 24 * time.Hour

// prunePeriod is how often the history pruning pass runs.
const prunePeriod = 24 * time.Hour

func main() {
	// The hash-password subcommand runs standalone: it produces the
	// Argon2id hash operators paste into the config file.
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := runHashPassword(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Free Sleep Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// History repositories
	snapshots := history.NewSQLiteSnapshotRepository(db.DB)
	commands := history.NewSQLiteCommandLogRepository(db.DB)
	go pruneHistoryLoop(ctx, log, snapshots, commands)

	// Connect to MQTT broker (optional: the REST API and WebSocket still
	// work without it)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub is created before the integration so snapshot
	// broadcasts can be wired into the entry's callbacks.
	hub := api.NewHub(cfg.WebSocket, log)

	deps := integration.Deps{
		Config:     cfg,
		Logger:     log,
		Snapshots:  snapshots,
		Commands:   commands,
		Influx:     influxClient,
		OnSnapshot: hub.BroadcastSnapshot,
		OnCommand: func(ev integration.CommandEvent) {
			hub.Broadcast(api.ChannelCommands, ev)
		},
		OnHealth: hub.BroadcastHealth,
	}
	if mqttClient != nil {
		deps.Broker = mqttClient
	}

	// Set up the pod integration, retrying while the pod is unreachable.
	// A pod mid-reboot should not keep the whole bridge from starting.
	entry, err := setupWithRetry(ctx, deps, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("unloading pod integration")
		entry.Unload()
	}()

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Cache:       entry.Cache,
		Reconciler:  entry.Reconciler,
		Binder:      entry.Binder,
		Commander:   entry,
		Executor:    entry,
		Scheduler:   entry,
		Snapshots:   snapshots,
		Commands:    commands,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Pod integration
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Database

	log.Info("Free Sleep Core stopped")
	return nil
}

// setupWithRetry runs integration setup, retrying transient failures
// (pod unreachable) until the context is cancelled. Permanent failures
// (bad config) return immediately.
func setupWithRetry(ctx context.Context, deps integration.Deps, log *logging.Logger) (*integration.Entry, error) {
	for {
		entry, err := integration.SetupEntry(ctx, deps)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, integration.ErrSetupRetry) {
			return nil, fmt.Errorf("setting up pod integration: %w", err)
		}

		log.Warn("pod did not answer, retrying setup",
			"error", err,
			"retry_in", setupRetryDelay,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("setting up pod integration: %w", ctx.Err())
		case <-time.After(setupRetryDelay):
		}
	}
}

// pruneHistoryLoop removes aged history rows once a day.
func pruneHistoryLoop(ctx context.Context, log *logging.Logger, snapshots history.SnapshotRepository, commands history.CommandLogRepository) {
	ticker := time.NewTicker(prunePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapped, err := snapshots.Prune(ctx, historyRetention)
			if err != nil {
				log.Error("pruning state history", "error", err)
			}
			cmds, err := commands.Prune(ctx, historyRetention)
			if err != nil {
				log.Error("pruning command history", "error", err)
			}
			if snapped > 0 || cmds > 0 {
				log.Info("history pruned", "snapshots", snapped, "commands", cmds)
			}
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses FREESLEEP_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FREESLEEP_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Pod reachability is not a startup gate here: setupWithRetry already
	// confirmed one successful refresh.

	return nil
}

// runHashPassword reads a password and prints its Argon2id PHC hash.
// Usage: freesleep hash-password [password]
// Without an argument the password is read from stdin.
func runHashPassword() error {
	var password string
	if len(os.Args) > 2 {
		password = os.Args[2]
	} else {
		fmt.Fprint(os.Stderr, "Password: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return fmt.Errorf("reading password: %w", scanner.Err())
		}
		password = scanner.Text()
	}

	if password == "" {
		return fmt.Errorf("password must not be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	fmt.Println(hash)
	return nil
}
