// Hearth Core - Smart Home Automation Engine
//
// This is the main entry point for the Hearth Core daemon. Hearth Core is
// a local-first home automation controller:
//   - Device state ingest over MQTT
//   - Rule engine with state, schedule and manual triggers
//   - Scene activation with per-device command ordering
//   - REST API and WebSocket event feed for UI clients
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/hearthd/hearth-core/migrations"

	"github.com/hearthd/hearth-core/internal/api"
	"github.com/hearthd/hearth-core/internal/audit"
	"github.com/hearthd/hearth-core/internal/automation"
	"github.com/hearthd/hearth-core/internal/device"
	"github.com/hearthd/hearth-core/internal/engine"
	"github.com/hearthd/hearth-core/internal/gateway"
	"github.com/hearthd/hearth-core/internal/infrastructure/config"
	"github.com/hearthd/hearth-core/internal/infrastructure/database"
	"github.com/hearthd/hearth-core/internal/infrastructure/influxdb"
	"github.com/hearthd/hearth-core/internal/infrastructure/logging"
	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthd/hearth-core/internal/room"
	"github.com/hearthd/hearth-core/internal/state"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Hearth Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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

	// Open database and apply migrations
	db, err := database.Open(database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Registries and stores
	roomRepo := room.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	deviceRegistry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	deviceRegistry.SetLogger(log)
	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	ruleRegistry := automation.NewRegistry(automation.NewSQLiteRepository(db.DB))
	ruleRegistry.SetLogger(log)
	if refreshErr := ruleRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading automation registry: %w", refreshErr)
	}

	stateStore := state.NewStore(state.NewSQLiteRepository(db.DB))
	stateStore.SetLogger(log)
	if loadErr := stateStore.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device states: %w", loadErr)
	}

	execRepo := automation.NewSQLiteExecutionRepository(db.DB)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional telemetry sink)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		stateStore.SetTelemetry(influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// State ingest: device reports flow from MQTT into the store
	ingestor := state.NewIngestor(stateStore)
	ingestor.SetLogger(log)
	if startErr := ingestor.Start(mqttClient); startErr != nil {
		return fmt.Errorf("starting state ingest: %w", startErr)
	}

	// Command gateway: engine commands flow out over MQTT, acks flow back
	gw := gateway.New(mqttClient)
	gw.SetLogger(log)
	if startErr := gw.Start(); startErr != nil {
		return fmt.Errorf("starting command gateway: %w", startErr)
	}

	// Engine assembly
	dispatcher := engine.NewDispatcher(gw, deviceRegistry, execRepo, engine.DispatcherConfig{
		MaxRetries:     cfg.Engine.MaxRetries,
		BackoffBase:    cfg.Engine.BackoffBase,
		GatewayTimeout: cfg.Engine.GatewayTimeout,
	})
	dispatcher.SetLogger(log)

	evaluator := engine.NewEvaluator(stateStore, execRepo, engine.SystemClock())

	recorder := engine.NewRecorder(execRepo, engine.SystemClock())
	recorder.SetLogger(log)
	recorder.SetPublisher(mqttClient)

	if influxClient != nil {
		dispatcher.SetTelemetry(influxClient)
		recorder.SetTelemetry(influxClient)
	}

	eng := engine.New(ruleRegistry, stateStore, evaluator, dispatcher, recorder,
		engine.Config{RecordConditionFailures: cfg.Engine.RecordConditionFailures},
		engine.SystemClock(),
	)
	eng.SetLogger(log)

	scheduler := engine.NewScheduler(ruleRegistry, eng.ScheduleFired, engine.SystemClock(), cfg.Engine.TickInterval)
	scheduler.SetLogger(log)

	// API server
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Rooms:      roomRepo,
		Devices:    deviceRegistry,
		States:     stateStore,
		Rules:      ruleRegistry,
		Executions: execRepo,
		Activator:  eng,
		Dispatcher: dispatcher,
		Audit:      auditRepo,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Finalized executions fan out to WebSocket clients
	recorder.SetNotifier(server.Hub())

	go eng.Run(ctx)
	go scheduler.Run(ctx)

	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Database

	log.Info("Hearth Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HEARTH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HEARTH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
