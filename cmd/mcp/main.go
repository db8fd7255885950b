// Atlas MCP Server - Exposes the risk engine as MCP tools for LLM analysts
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/mark3labs/mcp-go/server"

	"github.com/atlasrisk/atlas/internal/alert"
	"github.com/atlasrisk/atlas/internal/audit"
	"github.com/atlasrisk/atlas/internal/automation"
	"github.com/atlasrisk/atlas/internal/circuitbreaker"
	"github.com/atlasrisk/atlas/internal/config"
	"github.com/atlasrisk/atlas/internal/logging"
	"github.com/atlasrisk/atlas/internal/mcpserver"
	"github.com/atlasrisk/atlas/internal/model"
	"github.com/atlasrisk/atlas/internal/pattern"
	"github.com/atlasrisk/atlas/internal/profile"
	"github.com/atlasrisk/atlas/internal/scoring"
	"github.com/atlasrisk/atlas/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Stdout carries the protocol stream, so all logging goes to stderr.
	logger := logging.NewWithWriter(os.Stderr, cfg.LogLevel, "text")

	ctx := context.Background()
	deps, cleanup, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build dependencies: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	s := mcpserver.NewMCPServer(deps)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

// buildDeps assembles the same in-process pipeline the daemon runs. With
// DATABASE_URL set the tools share the daemon's profiles, alerts and audit
// trail; without it the session is self-contained in memory.
func buildDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (mcpserver.Deps, func(), error) {
	var (
		profiles   profile.Store
		auditSink  audit.Sink
		trail      mcpserver.TrailReader
		alertStore alert.Store
		closers    []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return mcpserver.Deps{}, cleanup, fmt.Errorf("failed to open database: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			return mcpserver.Deps{}, cleanup, fmt.Errorf("failed to connect to database: %w", err)
		}

		pgProfiles := profile.NewPostgresStore(db)
		pgAudit := audit.NewPostgresSink(db)
		pgAlerts := alert.NewPostgresStore(db)
		if err := pgProfiles.Migrate(ctx); err != nil {
			return mcpserver.Deps{}, cleanup, fmt.Errorf("failed to migrate user profiles: %w", err)
		}
		if err := pgAudit.Migrate(ctx); err != nil {
			return mcpserver.Deps{}, cleanup, fmt.Errorf("failed to migrate audit log: %w", err)
		}
		if err := pgAlerts.Migrate(ctx); err != nil {
			return mcpserver.Deps{}, cleanup, fmt.Errorf("failed to migrate alerts: %w", err)
		}
		profiles = pgProfiles
		auditSink = pgAudit
		trail = pgAudit
		alertStore = pgAlerts
	} else {
		mem := audit.NewMemorySink()
		profiles = profile.NewMemoryStore()
		auditSink = mem
		trail = mem
		alertStore = alert.NewMemoryStore()
		logger.Warn("DATABASE_URL not set, session state is in-memory only")
	}

	handle := model.NewHandle(nil)
	if err := handle.Reload(ctx, model.RegistryFor(cfg.ModelPath)); err != nil {
		return mcpserver.Deps{}, cleanup, fmt.Errorf("failed to load model: %w", err)
	}

	writer := audit.NewWriter(auditSink, audit.WithLogger(logger))
	writerCtx, stopWriter := context.WithCancel(ctx)
	go writer.Start(writerCtx)
	closers = append(closers, stopWriter)

	breaker := profile.NewBreakerStore(profiles, circuitbreaker.New(5, 30*time.Second))
	engine := scoring.NewEngine(breaker, handle,
		scoring.WithLogger(logger),
		scoring.WithAuditor(writer),
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

	return mcpserver.Deps{
		Pipeline: proc,
		Profiles: breaker,
		Alerts:   alerts,
		Rules:    rules,
		Audit:    auditSink,
		Trail:    trail,
		Model:    handle,
	}, cleanup, nil
}
