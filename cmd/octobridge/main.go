// octobridge connects an OctoPrint 3D printer server to an MQTT-based home
// automation stack.
//
// It discovers the printer's temperature slots, polls the printer's REST
// API on a fixed interval, publishes every value over MQTT, InfluxDB and a
// WebSocket feed, and forwards commands from MQTT or the REST API to the
// printer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/octoprint-bridge/migrations"

	"github.com/nerrad567/octoprint-bridge/internal/api"
	"github.com/nerrad567/octoprint-bridge/internal/bridges/octoprint"
	"github.com/nerrad567/octoprint-bridge/internal/channel"
	"github.com/nerrad567/octoprint-bridge/internal/host"
	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/config"
	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/database"
	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/octoprint-bridge/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/octobridge.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// SIGHUP reloads the printer connection from the config file.
func run(ctx context.Context) error {
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)

	return serve(ctx, reload)
}

// serve starts every component, then waits for ctx while handling reload
// requests. Deferred teardown runs in reverse start order.
func serve(ctx context.Context, reload <-chan os.Signal) error { //nolint:gocognit,funlen // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting octobridge",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	store := channel.NewStore(channel.NewSQLiteRepository(db.DB), cfg.Bridge.ID)
	store.SetLogger(log.Component("channel"))
	if loadErr := store.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading channels: %w", loadErr)
	}
	log.Info("channel store initialised", "channels", store.Count())

	// MQTT (optional). Interface values stay nil when disabled so the
	// host adapter and API skip them.
	var mqttClient *mqtt.Client
	var publisher host.Publisher
	var busStatus api.ConnectionStatus
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Bridge.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		publisher = mqttClient
		busStatus = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	var series host.TimeSeries
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
		series = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// The hub is shared: the host adapter broadcasts, the API serves clients.
	var hub *api.Hub
	var broadcaster host.Broadcaster
	if cfg.API.Enabled {
		hubCtx, hubCancel := context.WithCancel(ctx)
		defer hubCancel()
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		go hub.Run(hubCtx)
		broadcaster = hub
	}

	adapter, err := host.New(host.Options{
		Store:  store,
		MQTT:   publisher,
		Influx: series,
		Hub:    broadcaster,
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating host adapter: %w", err)
	}

	bridge, err := octoprint.NewBridge(octoprint.BridgeOptions{
		Connection:      printerConnection(cfg.Printer),
		PollInterval:    cfg.GetPollInterval(),
		RequestTimeout:  cfg.GetRequestTimeout(),
		PollConcurrency: cfg.Printer.PollConcurrency,
		Host:            adapter,
	})
	if err != nil {
		return fmt.Errorf("creating OctoPrint bridge: %w", err)
	}
	bridge.SetLogger(log.Component("octoprint"))
	adapter.SetExecutor(bridge)

	if initErr := bridge.Initialize(ctx); initErr != nil {
		return fmt.Errorf("initialising OctoPrint bridge: %w", initErr)
	}
	defer func() {
		log.Info("disposing OctoPrint bridge")
		bridge.Dispose()
	}()
	log.Info("OctoPrint bridge initialised", "printer", cfg.Printer.Host)

	if startErr := adapter.Start(ctx); startErr != nil {
		return fmt.Errorf("starting host adapter: %w", startErr)
	}
	defer adapter.Stop()

	if mqttClient != nil {
		health := octoprint.NewHealthReporter(octoprint.HealthReporterConfig{
			BridgeID:  cfg.Bridge.ID,
			Version:   version,
			Topic:     mqttClient.Topics().Health(),
			Interval:  cfg.GetHealthInterval(),
			Publisher: mqttClient,
			Source:    bridge,
		})
		health.SetLogger(log.Component("health"))
		if pubErr := health.PublishStarting(); pubErr != nil {
			log.Warn("failed to publish starting health", "error", pubErr)
		}
		health.Start(ctx)
		defer health.Stop()
	}

	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log.Component("api"),
			Bridge:      bridge,
			Channels:    store,
			States:      adapter,
			MQTT:        busStatus,
			DB:          db,
			ExternalHub: hub,
			Version:     version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received, cleaning up")
			return nil
		case <-reload:
			reloadPrinter(ctx, log, bridge)
		}
	}
}

// printerConnection builds the bridge connection from the printer section.
func printerConnection(p config.PrinterConfig) octoprint.Connection {
	return octoprint.Connection{
		Endpoint: p.Host,
		APIKey:   p.APIKey,
		Username: p.Username,
	}
}

// reloadPrinter re-reads the config file and reconnects the bridge when the
// printer connection changed. Other settings need a restart.
func reloadPrinter(ctx context.Context, log *logging.Logger, bridge *octoprint.Bridge) {
	path := getConfigPath()
	log.Info("reload requested", "path", path)

	cfg, err := config.Load(path)
	if err != nil {
		log.Error("reload failed, keeping current printer", "error", err)
		return
	}

	conn := printerConnection(cfg.Printer)
	if conn == bridge.Connection() {
		log.Info("printer connection unchanged")
		return
	}
	if err := bridge.Reconfigure(ctx, conn); err != nil {
		log.Error("reconfiguring OctoPrint bridge failed", "error", err)
		return
	}
	log.Info("OctoPrint bridge reconfigured", "printer", conn.Endpoint)
}

// getConfigPath returns the configuration file path.
// Uses OCTOBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("OCTOBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
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

	return nil
}
