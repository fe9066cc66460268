// SDR Gateway
//
// sdrgateway bridges SDR control units on an MQTT broker to the relational
// store and to the applications that manage them. It receives device
// publishes through the broker's webhook (and optionally a direct
// subscription), buffers telemetry into batched writes, answers setup and
// rule-sync requests, and exposes the management API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/sdr-gateway/internal/api"
	"github.com/nerrad567/sdr-gateway/internal/audit"
	"github.com/nerrad567/sdr-gateway/internal/auth"
	"github.com/nerrad567/sdr-gateway/internal/batch"
	"github.com/nerrad567/sdr-gateway/internal/broker"
	"github.com/nerrad567/sdr-gateway/internal/codec"
	"github.com/nerrad567/sdr-gateway/internal/dispatch"
	"github.com/nerrad567/sdr-gateway/internal/egress"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/config"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/database"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/sdr-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/sdr-gateway/internal/ingress"
	"github.com/nerrad567/sdr-gateway/internal/retry"
	"github.com/nerrad567/sdr-gateway/internal/store"
	"github.com/nerrad567/sdr-gateway/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds the final batch flush and the pool drain.
	shutdownTimeout     = 15 * time.Second
	poolMonitorInterval = time.Minute
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the gateway and blocks until ctx is cancelled. Deferred
// cleanups run in reverse start order: the API stops accepting webhooks,
// the pool drains, the buffer flushes, then connections close.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting SDR gateway",
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

	var reg *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg = metrics.New()
	}

	db, err := openLocalDB(ctx, cfg)
	if err != nil {
		return err
	}
	repo, err := openStore(ctx, cfg, db, reg)
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return err
	}
	defer func() {
		log.Info("closing store")
		if closeErr := repo.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
		// The SQLite store owns the local database; Postgres leaves it to us.
		if cfg.Database.Driver == config.DriverPostgres {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing local database", "error", closeErr)
			}
		}
	}()
	auditLog := audit.NewSQLiteRepository(db)
	log.Info("store connected", "driver", cfg.Database.Driver)

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		ApplicationSecret: cfg.Security.JWT.Secret,
		BrokerSecret:      cfg.Security.JWT.BrokerSecret,
		ApplicationTTL:    time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute,
		DeviceTTL:         time.Duration(cfg.Security.JWT.DeviceTokenTTL) * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}

	topics := mqtt.Topics{Prefix: cfg.Egress.TopicPrefix}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, topics)
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
	} else {
		log.Info("MQTT disabled")
	}

	sink := &batch.Fanout{Primary: repo, Logger: log}
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
		sink.Mirrors = append(sink.Mirrors, influxClient)
		log.Info("InfluxDB mirror connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	hub := api.NewHub(cfg.WebSocket, log)

	buffer, err := batch.New(sink, batch.Config{
		Interval:     time.Duration(cfg.Batch.Interval) * time.Second,
		MinBatchSize: cfg.Batch.MinBatchSize,
		Grace:        time.Duration(cfg.Batch.GraceMS) * time.Millisecond,
		MaxPending:   cfg.Batch.MaxPending,
		Retry: retry.Config{
			MaxAttempts:  cfg.Batch.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Batch.Retry.InitialDelayMS) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Batch.Retry.MaxDelayMS) * time.Millisecond,
			Multiplier:   cfg.Batch.Retry.Multiplier,
			Jitter:       true,
		},
	},
		batch.WithLogger(log),
		batch.WithMetrics(reg),
		batch.WithAppendListener(hub.PublishReadings),
		batch.WithFlushListener(hub.PublishFlush),
		batch.WithErrorHandler(func(err error) {
			log.Error("telemetry batch write failed", "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("creating batch buffer: %w", err)
	}

	codecTimeout := time.Duration(cfg.API.Timeouts.Codec) * time.Second
	egressSvc := egress.New(repo, newPublisher(cfg, mqttClient), egress.Config{
		Topics:  topics,
		QoS:     byte(cfg.Egress.QoS),
		Retain:  cfg.Egress.Retain,
		Timeout: codecTimeout,
	}, egress.WithLogger(log), egress.WithMetrics(reg))

	ingressSvc := ingress.New(buffer, repo, issuer, egressSvc, ingress.Config{
		Topics:  topics,
		Timeout: codecTimeout,
	}, ingress.WithLogger(log), ingress.WithMetrics(reg), ingress.WithAuditor(auditLog))

	cdc := codec.New(
		codec.WithQuality(cfg.Codec.Quality),
		codec.WithLogger(log),
		codec.WithObserver(reg),
	)
	pool, err := dispatch.New(cdc, dispatch.Config{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
		Block:     cfg.Dispatch.Block,
	}, dispatch.Callbacks{
		OnCompressed:   egressSvc.HandleCompressed,
		OnDecompressed: ingressSvc.HandleDecompressed,
	}, dispatch.WithLogger(log), dispatch.WithMetrics(reg))
	if err != nil {
		return fmt.Errorf("creating dispatch pool: %w", err)
	}
	egressSvc.SetDispatcher(pool)
	ingressSvc.SetDispatcher(pool)

	if err := buffer.Start(ctx); err != nil {
		return fmt.Errorf("starting batch buffer: %w", err)
	}
	defer func() {
		log.Info("flushing telemetry buffer", "pending", buffer.Pending())
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if stopErr := buffer.Stop(stopCtx); stopErr != nil {
			log.Error("error stopping batch buffer", "error", stopErr)
		}
	}()

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatch pool: %w", err)
	}
	defer func() {
		log.Info("stopping dispatch pool")
		if stopErr := pool.Stop(shutdownTimeout); stopErr != nil {
			log.Error("error stopping dispatch pool", "error", stopErr)
		}
	}()
	log.Info("dispatch pool started", "workers", cfg.Dispatch.Workers)

	checks := map[string]api.HealthChecker{}
	if mqttClient != nil {
		checks["mqtt"] = mqttClient
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Metrics:  cfg.Metrics,
		Logger:   log,
		Registry: reg,
		Tokens:   issuer,
		Store:    repo,
		Ingress:  ingressSvc,
		Egress:   egressSvc,
		Checks:   checks,
		Hub:      hub,
		Audit:    auditLog,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return ingressSvc.Run(gctx)
	})
	if pg, ok := repo.(*store.PostgresRepository); ok {
		g.Go(func() error {
			pg.MonitorPool(gctx, poolMonitorInterval, log)
			return nil
		})
	}

	if mqttClient != nil && cfg.MQTT.Subscribe {
		if err := mqttClient.Subscribe(topics.IngressWildcard(), byte(cfg.MQTT.QoS), ingressSvc.Receive); err != nil {
			return fmt.Errorf("subscribing to ingress topics: %w", err)
		}
		log.Info("subscribed to ingress topics", "topic", topics.IngressWildcard())
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SDRGW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SDRGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openLocalDB opens and migrates the gateway's own SQLite database. It
// holds the audit trail for every driver and the provisioning store when
// the driver is sqlite.
func openLocalDB(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.Source()); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// openStore connects the configured relational store. The Postgres schema
// belongs to the web application and is not migrated here.
func openStore(ctx context.Context, cfg *config.Config, db *database.DB, obs store.Observer) (store.Repository, error) {
	if cfg.Database.Driver != config.DriverPostgres {
		return store.NewSQLiteRepository(db, obs), nil
	}
	pg := cfg.Database.Postgres
	repo, err := store.NewPostgresRepository(ctx, store.PostgresConfig{
		DSN:             pg.DSN,
		MaxConns:        pg.MaxConns,
		MinConns:        pg.MinConns,
		MaxConnLifetime: time.Duration(pg.MaxConnLifetime) * time.Second,
	}, obs)
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}
	return repo, nil
}

// newPublisher selects the egress transport. The HTTP transport reports
// whether any subscriber matched; MQTT cannot.
func newPublisher(cfg *config.Config, client *mqtt.Client) broker.Publisher {
	if cfg.Egress.Transport == config.TransportMQTT && client != nil {
		return broker.NewMQTTPublisher(client)
	}
	return broker.NewHTTPPublisher(broker.HTTPConfig{
		URL:       cfg.BrokerAPI.URL,
		APIKey:    cfg.BrokerAPI.APIKey,
		APISecret: cfg.BrokerAPI.APISecret,
		Timeout:   time.Duration(cfg.BrokerAPI.Timeout) * time.Second,
	}, nil)
}
