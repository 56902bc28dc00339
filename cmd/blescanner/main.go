// BLE Scanner Core - MQTT-fed BLE advertisement pipeline
//
// This is the main entry point for the scanner. It ingests BLE
// advertisement reports published by ESP32 proxies onto an MQTT broker,
// normalizes and classifies them, maintains a persisted device registry,
// and republishes discovery/state information for the home-automation
// platform.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/fernvale/ble-scanner-core/migrations"

	"github.com/fernvale/ble-scanner-core/internal/api"
	"github.com/fernvale/ble-scanner-core/internal/ble"
	"github.com/fernvale/ble-scanner-core/internal/device"
	"github.com/fernvale/ble-scanner-core/internal/discovery"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/config"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/database"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/influxdb"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/logging"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/mqtt"
	"github.com/fernvale/ble-scanner-core/internal/ingest"
	"github.com/fernvale/ble-scanner-core/internal/scan"
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
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting BLE Scanner Core",
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

	// Open database. A corrupt store fails here (ErrCorruptState) and is
	// surfaced to the operator rather than silently treated as empty.
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}

	// Scan controller: stopped until started via API or auto_start.
	controller := scan.NewController()

	// Device registry backed by SQLite, restored from the store.
	deviceRepo := device.NewSQLiteRepository(db)
	registry := device.NewRegistry(deviceRepo, controller, log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}

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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
	)

	// Discovery publisher and status plumbing
	publisher := discovery.NewPublisher(mqttClient, byte(cfg.MQTT.QoS), cfg.Scanner.Discovery.Retain)

	publishStatus := func() {
		if err := publisher.PublishStatus(controller.Running(), registry.Count(), registry.ProxyCount()); err != nil {
			log.Warn("status publish failed", "error", err)
		}
	}
	controller.OnChange(func(running bool) {
		log.Info("scan state changed", "running", running)
		publishStatus()
	})
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connection established")
		publishStatus()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Ingestion pipeline
	matcher, err := ble.NewTopicMatcher(cfg.Scanner.TopicFilters)
	if err != nil {
		return fmt.Errorf("parsing topic filters: %w", err)
	}
	pipeline := ingest.NewPipeline(matcher, registry, publisher, log)

	// Optional RSSI history sink
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB, log)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			influxClient.Close()
		}()
		pipeline.SetHistoryWriter(influxClient)
	} else {
		log.Info("InfluxDB history disabled")
	}

	// HTTP API + WebSocket event stream
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Registry:   registry,
		Controller: controller,
		Publisher:  publisher,
		MQTT:       mqttClient,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	pipeline.SetEventSink(server.Hub())

	// Subscribe advertisement topics. Subscriptions stay active across
	// scan stop/start; the registry gate decides what is applied.
	if subErr := pipeline.Subscribe(mqttClient, cfg.Scanner.TopicFilters, byte(cfg.MQTT.QoS)); subErr != nil {
		return fmt.Errorf("subscribing advertisement topics: %w", subErr)
	}

	if cfg.Scanner.AutoStart {
		controller.Start()
		log.Info("scanning auto-started")
	}

	// Periodic scanner status publishing
	if interval := cfg.GetStatusInterval(); interval > 0 {
		go statusLoop(ctx, interval, publishStatus)
	}
	publishStatus()

	log.Info("initialisation complete, waiting for shutdown signal",
		"devices", registry.Count(),
		"filters", len(cfg.Scanner.TopicFilters),
	)

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	controller.Stop()

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (publishes graceful offline status)
	// 4. Database

	log.Info("BLE Scanner Core stopped")
	return nil
}

// statusLoop republishes the scanner status at the configured interval.
func statusLoop(ctx context.Context, interval time.Duration, publish func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publish()
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses BLESCAN_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BLESCAN_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
