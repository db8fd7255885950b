// Atlas - Real-time transaction risk scoring and explanation
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/atlasrisk/atlas/internal/alert"
	"github.com/atlasrisk/atlas/internal/audit"
	"github.com/atlasrisk/atlas/internal/automation"
	"github.com/atlasrisk/atlas/internal/circuitbreaker"
	"github.com/atlasrisk/atlas/internal/config"
	"github.com/atlasrisk/atlas/internal/demo"
	"github.com/atlasrisk/atlas/internal/health"
	"github.com/atlasrisk/atlas/internal/logging"
	"github.com/atlasrisk/atlas/internal/model"
	"github.com/atlasrisk/atlas/internal/pattern"
	"github.com/atlasrisk/atlas/internal/profile"
	"github.com/atlasrisk/atlas/internal/risk"
	"github.com/atlasrisk/atlas/internal/scoring"
	"github.com/atlasrisk/atlas/internal/server"
	"github.com/atlasrisk/atlas/internal/stream"
	"github.com/atlasrisk/atlas/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	dbPingTimeout    = 5 * time.Second
	breakerThreshold = 5
	breakerOpenFor   = 30 * time.Second
	replayCadence    = 2 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	format := "text"
	if cfg.IsProduction() {
		format = "json"
	}
	logger := logging.New(cfg.LogLevel, format)
	slog.SetDefault(logger)

	logger.Info("starting atlasd",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
	)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("atlasd exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("atlasd stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Tracing is a no-op when OTEL_EXPORTER_OTLP_ENDPOINT is unset.
	shutdownTraces, err := traces.Init(ctx, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), logger)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTraces(c); err != nil {
			logger.Warn("trace shutdown failed", "error", err)
		}
	}()

	checks := health.NewRegistry()

	// Storage: Postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		profiles   profile.Store
		auditSink  audit.Sink
		alertStore alert.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		pgProfiles := profile.NewPostgresStore(db)
		pgAudit := audit.NewPostgresSink(db)
		pgAlerts := alert.NewPostgresStore(db)
		if err := pgProfiles.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate user profiles: %w", err)
		}
		if err := pgAudit.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate audit log: %w", err)
		}
		if err := pgAlerts.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate alerts: %w", err)
		}
		profiles = pgProfiles
		auditSink = pgAudit
		alertStore = pgAlerts
		checks.Register("database", health.FromPing("database", db.PingContext))
		logger.Info("postgres storage ready")
	} else {
		profiles = profile.NewMemoryStore()
		auditSink = audit.NewMemorySink()
		alertStore = alert.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, using in-memory storage")
	}

	// Profile reads go through Redis when configured, and always through a
	// breaker so a struggling store degrades scoring instead of failing it.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
		profiles = profile.NewRedisCache(profiles, rdb, cfg.ProfileCacheTTL)
		checks.Register("redis", health.FromPing("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
		logger.Info("profile cache enabled", "ttl", cfg.ProfileCacheTTL.String())
	}
	profiles = profile.NewBreakerStore(profiles, circuitbreaker.New(breakerThreshold, breakerOpenFor))

	// Model artifact: MODEL_PATH may name a file or a publish directory
	// (newest artifact wins); built-in otherwise. SIGHUP reloads without
	// a restart.
	registry := model.RegistryFor(cfg.ModelPath)
	if cfg.ModelPath == "" {
		logger.Info("MODEL_PATH not set, using built-in model")
	}
	handle := model.NewHandle(nil)
	if err := handle.Reload(ctx, registry); err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	logger.Info("model loaded", "model_version", handle.Version())
	checks.Register("model", health.FromPing("model", func(ctx context.Context) error {
		_, err := handle.Current()
		return err
	}))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			if err := handle.Reload(context.Background(), registry); err != nil {
				logger.Error("model reload failed", "error", err)
				continue
			}
			logger.Info("model reloaded", "model_version", handle.Version())
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Audit records flow through an async writer so scoring never waits on
	// durability. Kafka fanout mirrors the trail when brokers are set.
	sink := auditSink
	if len(cfg.KafkaBrokers) > 0 {
		ks := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		defer func() { _ = ks.Close() }()
		sink = audit.NewFanoutSink(auditSink, ks)
	}
	auditWriter := audit.NewWriter(sink,
		audit.WithLogger(logger),
		audit.WithQueueSize(cfg.AuditQueueSize),
	)
	go auditWriter.Start(runCtx)
	defer auditWriter.Stop()

	engine := scoring.NewEngine(profiles, handle,
		scoring.WithLogger(logger),
		scoring.WithAuditor(auditWriter),
		scoring.WithLatencyBudget(cfg.LatencyBudget()),
		scoring.WithTopFactors(cfg.TopFactors),
	)

	alerts := alert.NewManager(alertStore, alert.WithLogger(logger))
	rules := automation.NewEngine(automation.DefaultRules(), automation.WithLogger(logger))
	proc := stream.NewProcessor(engine,
		stream.WithAlerts(alerts),
		stream.WithPatterns(pattern.NewDetector()),
		stream.WithAutomation(rules),
		stream.WithLogger(logger),
	)

	// Event intake: Kafka when brokers are configured. Development runs
	// without brokers replay synthetic traffic so the pipeline stays warm.
	var stopConsumer func() error
	if len(cfg.KafkaBrokers) > 0 {
		consumer := stream.NewConsumer(stream.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaEventsTopic,
			GroupID: cfg.KafkaGroupID,
		}, proc, logger)
		consumer.Start(runCtx)
		stopConsumer = consumer.Stop
	} else if cfg.IsDevelopment() {
		gen := demo.NewGenerator(time.Now().UnixNano())
		go proc.Replay(runCtx, func() *risk.Event {
			ev := gen.Next()
			ev.Timestamp = time.Now().UTC()
			return ev
		}, replayCadence)
		logger.Info("no Kafka brokers configured, replaying synthetic events",
			"cadence", replayCadence.String())
	}

	srv := server.New(cfg, checks,
		server.WithLogger(logger),
		server.WithModelVersion(handle.Version),
	)
	srv.SetReady(true)

	err = srv.Run(runCtx)
	cancel()
	if stopConsumer != nil {
		if cerr := stopConsumer(); cerr != nil {
			logger.Warn("consumer shutdown", "error", cerr)
		}
	}
	return err
}
