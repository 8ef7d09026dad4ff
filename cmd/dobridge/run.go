package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/directout-bridge/internal/api"
	"github.com/nerrad567/directout-bridge/internal/audit"
	"github.com/nerrad567/directout-bridge/internal/bridge"
	"github.com/nerrad567/directout-bridge/internal/directout"
	"github.com/nerrad567/directout-bridge/internal/infrastructure/config"
	"github.com/nerrad567/directout-bridge/internal/infrastructure/database"
	"github.com/nerrad567/directout-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/directout-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/directout-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/directout-bridge/internal/metrics"
	"github.com/nerrad567/directout-bridge/internal/recording"
	"github.com/nerrad567/directout-bridge/migrations"
)

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled and returns nil on clean shutdown.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting DirectOut bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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

	// Open database (optional)
	var (
		db        *database.DB
		repo      *recording.Repository
		auditRepo audit.Repository
	)
	if cfg.Recording.Persist {
		db, err = database.Open(database.Config{
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

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		repo = recording.NewRepository(db.DB)
		repo.SetLogger(log)
		if startErr := repo.Start(); startErr != nil {
			return fmt.Errorf("starting recording repository: %w", startErr)
		}
		defer repo.Stop()

		auditRepo = audit.NewSQLiteRepository(db.DB)
	} else {
		log.Info("recorded actions kept in memory only, audit trail disabled")
	}

	m := metrics.New()

	hub := api.NewHub(cfg.WebSocket, log)
	hub.SetGauge(m.WSClients)

	// The recording service and the MQTT bridge both need the session,
	// and the session needs their hooks. hooks is filled in below and
	// read by the forwarding closures on every event.
	var hooks directout.Hooks
	session, err := directout.NewSession(directout.SessionConfig{
		Transport: transportConfig(cfg.Device),
		Hooks:     forwardHooks(&hooks),
	}, log)
	if err != nil {
		return fmt.Errorf("creating device session: %w", err)
	}

	recorder := recording.NewService(session, repo, log)

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

	chain := directout.Hooks{OnRecorded: recorder.Handle}
	if influxClient != nil {
		chain.OnVariable = variableWriter(influxClient, cfg.Site.ID, session.DeviceType)
	}
	chain = hub.Hooks(chain)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, mqtt.Topics{Site: cfg.Site.ID})
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
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		br, brErr := bridge.New(bridge.Options{
			Site:    cfg.Site.ID,
			Version: version,
			QoS:     byte(cfg.MQTT.QoS), //nolint:gosec // validated 0-2
			OnPublish: func(kind string, err error) {
				status := "ok"
				if err != nil {
					status = "error"
				}
				m.MQTTPublished.WithLabelValues(kind, status).Inc()
			},
		}, mqttClient, session, log)
		if brErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", brErr)
		}
		chain = br.Hooks(chain)
		if startErr := br.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			br.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
	}

	hooks = m.Hooks(chain)

	if cfg.Recording.StartEnabled {
		recorder.Start()
	}

	if err := session.Start(); err != nil {
		return fmt.Errorf("connecting to device: %w", err)
	}
	defer func() {
		log.Info("closing device session")
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing device session", "error", closeErr)
		}
	}()
	log.Info("device session started",
		"host", cfg.Device.Host,
		"port", cfg.Device.Port,
	)

	apiServer, err := api.New(api.Deps{
		Config:         cfg.API,
		WS:             cfg.WebSocket,
		Security:       cfg.Security,
		Metrics:        cfg.Metrics,
		Logger:         log,
		Device:         session,
		Recorder:       recorder,
		Audit:          auditRepo,
		MetricsHandler: m.Handler(),
		Hub:            hub,
		Version:        version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API, device session,
	// MQTT bridge and client, InfluxDB, recording repository, database.

	log.Info("DirectOut bridge stopped")
	return nil
}

// transportConfig converts the device section (seconds) into transport
// settings.
func transportConfig(c config.DeviceConfig) directout.TransportConfig {
	return directout.TransportConfig{
		Host:                 c.Host,
		Port:                 c.Port,
		ConnectTimeout:       time.Duration(c.ConnectTimeout) * time.Second,
		ReconnectInterval:    time.Duration(c.ReconnectInterval) * time.Second,
		MaxReconnectInterval: time.Duration(c.MaxReconnectInterval) * time.Second,
		AutoReconnect:        c.AutoReconnect,
	}
}

// forwardHooks returns hooks that call whatever *h holds at event time.
// A hook left nil in *h is skipped.
func forwardHooks(h *directout.Hooks) directout.Hooks {
	return directout.Hooks{
		OnVariable: func(name string, value any) {
			if fn := h.OnVariable; fn != nil {
				fn(name, value)
			}
		},
		OnRecorded: func(a directout.RecordedAction) {
			if fn := h.OnRecorded; fn != nil {
				fn(a)
			}
		},
		OnFeedbacks: func(ids []string) {
			if fn := h.OnFeedbacks; fn != nil {
				fn(ids)
			}
		},
		OnReady: func(info directout.DeviceInfo) {
			if fn := h.OnReady; fn != nil {
				fn(info)
			}
		},
		OnConnState: func(state directout.ConnState, err error) {
			if fn := h.OnConnState; fn != nil {
				fn(state, err)
			}
		},
		OnMessage: func(msgType string, patches int) {
			if fn := h.OnMessage; fn != nil {
				fn(msgType, patches)
			}
		},
		OnDropped: func(reason string) {
			if fn := h.OnDropped; fn != nil {
				fn(reason)
			}
		},
		OnSent: func(cmdType string) {
			if fn := h.OnSent; fn != nil {
				fn(cmdType)
			}
		},
	}
}

// variableSink is the part of the InfluxDB client that stores variables.
type variableSink interface {
	WriteVariable(site, deviceType, name string, value float64, at time.Time)
}

// variableWriter returns an OnVariable hook that stores numeric and
// boolean variable values. Strings and subtrees are skipped.
func variableWriter(sink variableSink, site string, deviceType func() directout.DeviceType) func(string, any) {
	return func(name string, value any) {
		v, ok := numericValue(value)
		if !ok {
			return
		}
		sink.WriteVariable(site, string(deviceType()), name, v, time.Now())
	}
}

// numericValue converts a variable value to a float. Booleans map to 0
// and 1.
func numericValue(value any) (float64, bool) {
	s, ok := value.(directout.Scalar)
	if !ok {
		return 0, false
	}
	if n, ok := s.Num(); ok {
		return n, true
	}
	if b, ok := s.Bool(); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// healthCheck verifies the optional infrastructure connections. Nil
// clients are skipped. The device link is not checked: the session keeps
// reconnecting in the background and the API reports it as degraded.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
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
