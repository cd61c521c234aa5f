package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/proflame-bridge/migrations"

	"github.com/nerrad567/proflame-bridge/internal/api"
	"github.com/nerrad567/proflame-bridge/internal/bridges/proflame"
	"github.com/nerrad567/proflame-bridge/internal/history"
	"github.com/nerrad567/proflame-bridge/internal/infrastructure/config"
	"github.com/nerrad567/proflame-bridge/internal/infrastructure/database"
	"github.com/nerrad567/proflame-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/proflame-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/proflame-bridge/internal/infrastructure/mqtt"
)

// dotEnvFiles are loaded, if present, before the config file is read.
var dotEnvFiles = []string{".env", ".env.local"}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the fireplace bridge service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(*configPath))
		},
	}
}

// run is the service body, separated from the command for testability.
// It blocks until ctx is cancelled, then shuts components down in reverse
// start order.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting proflame bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := config.LoadDotEnv(dotEnvFiles...); err != nil {
		return fmt.Errorf("loading env files: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"device_id", cfg.Device.ID,
		"level", cfg.Logging.Level,
	)

	// History journal (optional)
	var repo *history.SQLiteRepository
	var db *database.DB
	if cfg.History.Enabled {
		db, err = database.Open(ctx, database.ConfigFrom(cfg.Database))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		applied, migrateErr := db.Migrate(ctx)
		if migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", db.Path(), "migrations_applied", len(applied))

		repo = history.NewSQLiteRepository(db.DB)
		go history.RunPruner(ctx, repo,
			time.Duration(cfg.History.RetentionDays)*24*time.Hour,
			time.Duration(cfg.History.PruneInterval)*time.Second,
			log.With("component", "history"))
	} else {
		log.Info("history disabled")
	}

	// Fireplace client
	client := proflame.NewClient(clientConfigFrom(cfg.Device))
	client.SetLogger(log.With("component", "proflame"))
	fireplace := proflame.NewFireplace(client)

	// InfluxDB telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	recorder, telemetry := sinks(repo, influxClient)

	// MQTT bridge (optional). Without it, changes are journalled directly.
	var mqttClient *mqtt.Client
	var bridge *proflame.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, bridge, err = startBridge(ctx, cfg, client, fireplace, recorder, telemetry, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
		if recorder != nil || telemetry != nil {
			j := newJournal(cfg.Device.ID, recorder, telemetry, log.With("component", "journal"))
			j.Start(client)
			defer j.Stop()
		}
	}

	// HTTP API (optional). Started before the client so its hub is
	// subscribed to the first delta.
	if cfg.API.Enabled {
		srv, apiErr := api.New(apiDeps(cfg, log, client, fireplace, repo, db, influxClient, mqttClient, bridge))
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	// Open only once every subscriber is registered so no change is missed.
	if openErr := client.Open(); openErr != nil {
		return fmt.Errorf("opening fireplace client: %w", openErr)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing fireplace client", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal", "url", client.URL())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// clientConfigFrom maps the device section onto the client config.
// Values are seconds in the file.
func clientConfigFrom(d config.DeviceConfig) proflame.ClientConfig {
	return proflame.ClientConfig{
		Host:                 d.Host,
		Port:                 d.Port,
		ConnectTimeout:       d.GetConnectTimeout(),
		ReadTimeout:          d.GetReadTimeout(),
		WriteTimeout:         d.GetWriteTimeout(),
		PingInterval:         d.GetPingInterval(),
		HandshakeTimeout:     d.GetHandshakeTimeout(),
		ReconnectInterval:    d.GetReconnectInterval(),
		MaxReconnectInterval: d.GetMaxReconnectInterval(),
	}
}

// sinks converts the optional stores into interface values, leaving them
// nil (not typed-nil) when disabled.
func sinks(repo *history.SQLiteRepository, influxClient *influxdb.Client) (proflame.ChangeRecorder, proflame.Telemetry) {
	var recorder proflame.ChangeRecorder
	if repo != nil {
		recorder = repo
	}
	var telemetry proflame.Telemetry
	if influxClient != nil {
		telemetry = &influxTelemetry{client: influxClient}
	}
	return recorder, telemetry
}

// startBridge connects to the broker and starts the MQTT bridge.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	client *proflame.Client,
	fireplace *proflame.Fireplace,
	recorder proflame.ChangeRecorder,
	telemetry proflame.Telemetry,
	log *logging.Logger,
) (*mqtt.Client, *proflame.Bridge, error) {
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
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

	bridge, err := proflame.NewBridge(proflame.BridgeOptions{
		DeviceID:       cfg.Device.ID,
		Version:        version,
		HealthInterval: time.Duration(cfg.MQTT.HealthInterval) * time.Second,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Client:         client,
		Fireplace:      fireplace,
		URL:            client.URL(),
		Recorder:       recorder,
		Telemetry:      telemetry,
		Logger:         log.With("component", "bridge"),
	})
	if err != nil {
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	log.Info("MQTT bridge started", "device_id", cfg.Device.ID)

	return mqttClient, bridge, nil
}

// apiDeps assembles the API dependencies, leaving optional ones unset when
// their component is disabled.
func apiDeps(
	cfg *config.Config,
	log *logging.Logger,
	client *proflame.Client,
	fireplace *proflame.Fireplace,
	repo *history.SQLiteRepository,
	db *database.DB,
	influxClient *influxdb.Client,
	mqttClient *mqtt.Client,
	bridge *proflame.Bridge,
) api.Deps {
	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log.With("component", "api"),
		Version:    version,
		DeviceID:   cfg.Device.ID,
		DeviceName: cfg.Device.Name,
		Client:     client,
		Fireplace:  fireplace,
	}
	if repo != nil {
		deps.History = repo
	}
	if db != nil {
		deps.DBStats = func(ctx context.Context) api.DatabaseMetrics {
			return databaseMetrics(ctx, db, log)
		}
	}
	if influxClient != nil {
		deps.Telemetry = influxClient
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if bridge != nil {
		deps.Bridge = bridge
	}
	return deps
}

// databaseMetrics reports pool statistics and the schema version. A failed
// status query leaves the schema fields empty.
func databaseMetrics(ctx context.Context, db *database.DB, log *logging.Logger) api.DatabaseMetrics {
	s := db.Stats()
	m := api.DatabaseMetrics{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		WaitCount:       s.WaitCount,
	}
	status, err := db.Status(ctx)
	if err != nil {
		log.Warn("reading migration status", "error", err)
		return m
	}
	m.SchemaVersion = status.Current()
	m.PendingMigrations = len(status.Pending)
	return m
}
