package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/notas/internal/api"
	"github.com/opensource-finance/notas/internal/audit"
	"github.com/opensource-finance/notas/internal/bus"
	"github.com/opensource-finance/notas/internal/cache"
	"github.com/opensource-finance/notas/internal/catalog"
	"github.com/opensource-finance/notas/internal/domain"
	"github.com/opensource-finance/notas/internal/graph"
	"github.com/opensource-finance/notas/internal/repository"
	"github.com/opensource-finance/notas/internal/rules"
	"github.com/opensource-finance/notas/internal/service"
	"github.com/opensource-finance/notas/internal/worker"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the REST and GraphQL server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// app holds the wired components shared by serve and seed.
type app struct {
	catalog *domain.Catalog
	repo    *repository.SQLRepository
	cache   domain.Cache
	counts  *cache.CountCache
	bus     domain.EventBus
	engine  *rules.Engine
	svc     *service.Service
	closers []io.Closer
}

// newApp wires storage, caching, messaging and the service layer.
func newApp(ctx context.Context, cfg *domain.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	cat, err := catalog.New(cfg.Query.TextFields)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	a.catalog = cat

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	a.cache = cacheImpl
	a.closers = append(a.closers, cacheImpl)
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	a.bus = busImpl
	a.closers = append(a.closers, busImpl)
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	auditor, sqlLog := newAuditor(cfg, busImpl)
	a.closers = append(a.closers, sqlLog)

	repo, err := repository.New(ctx, cfg.Repository, cat, auditor)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	a.repo = repo
	a.closers = append(a.closers, repo)
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	engine, err := rules.NewEngine(100)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	if err := engine.LoadRules(catalog.DefaultRules()); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	a.engine = engine
	a.closers = append(a.closers, engine)
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	a.counts = cache.NewCountCache(cacheImpl, cfg.Cache.CountTTL, slog.Default())
	a.svc = service.New(repo, cat, cfg.Query,
		service.WithCountCache(a.counts),
		service.WithRules(engine),
		service.WithEventBus(busImpl),
		service.WithLogger(slog.Default()),
	)

	ok = true
	return a, nil
}

// newAuditor builds the statement auditor and its sql channel logger.
func newAuditor(cfg *domain.Config, eventBus domain.EventBus) (*audit.Auditor, io.Closer) {
	sqlLogger, closer := audit.NewLogger(cfg.Audit, cfg.Logging)
	sqlLogger = sqlLogger.With("logger", "sql")

	var sinks []audit.Sink
	if cfg.Audit.Enabled {
		sinks = append(sinks, audit.NewLogSink(sqlLogger), audit.TraceSink{})
	}
	if cfg.Audit.PublishSlow {
		sinks = append(sinks, audit.NewBusSink(eventBus))
	}
	return audit.New(cfg.Audit.SlowThreshold(), audit.WithSinks(sinks...), audit.WithLogger(sqlLogger)), closer
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("failed to close component", "error", err)
		}
	}
	a.closers = nil
}

func serve(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting notas",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"ceiling", cfg.Query.Ceiling,
	)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Other nodes' writes reach this node's count cache through change events.
	w := worker.NewWorker(a.bus, a.counts, slog.Default())
	if err := w.Start(worker.Config{WatchSlowQueries: cfg.Audit.PublishSlow}); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	gql, err := graph.NewHandler(a.svc, slog.Default())
	if err != nil {
		return err
	}
	srv := api.NewServer(cfg, a.svc, a.cache, gql, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("notas is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, a.catalog, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		w.Stop()
		return err
	}

	if err := w.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("notas shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, cat *domain.Catalog, version string) {
	fmt.Println()
	fmt.Println("  NOTAS")
	fmt.Println("  Fiscal records, one query layer.")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	for _, name := range cat.Names() {
		fmt.Printf("    GET|POST        /%s\n", name)
		fmt.Printf("    GET|PUT|DELETE  /%s/{id}\n", name)
	}
	fmt.Println("    POST            /graphql")
	fmt.Println("    GET             /health, /ready")
	fmt.Println()
}
