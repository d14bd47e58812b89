// Package app provides the application lifecycle of the planmentor service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/planmentor/internal/advisor"
	httpapi "github.com/arkilian/planmentor/internal/api/http"
	"github.com/arkilian/planmentor/internal/automode"
	"github.com/arkilian/planmentor/internal/config"
	"github.com/arkilian/planmentor/internal/daemon"
	"github.com/arkilian/planmentor/internal/engine"
	"github.com/arkilian/planmentor/internal/heuristic"
	"github.com/arkilian/planmentor/internal/namespace"
	"github.com/arkilian/planmentor/internal/observability"
	"github.com/arkilian/planmentor/internal/server"
	"github.com/arkilian/planmentor/internal/snapshot"
	"github.com/arkilian/planmentor/internal/stats"
	"github.com/arkilian/planmentor/internal/storage"
	"github.com/arkilian/planmentor/internal/telemetry"
	"github.com/arkilian/planmentor/internal/worker"
)

// App owns the namespaces of every scope and the services around them.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *namespace.Registry
	rules     *heuristic.Rules
	decisions *observability.DecisionStats

	advisorsMu sync.RWMutex
	advisors   map[string]*advisor.Advisor

	// Shared resources
	source   *telemetry.SQLiteSource
	storage  storage.ObjectStorage
	exporter *snapshot.Exporter
	shutdown *server.ShutdownManager

	// Service components
	daemon     *daemon.Daemon
	httpServer *http.Server
	listener   net.Listener

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an App and attaches the configured scopes.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		registry: namespace.NewRegistry(stats.Options{
			Shards:       cfg.Stats.Shards,
			RingCapacity: cfg.Stats.RingCapacity,
		}),
		rules: heuristic.New(heuristic.Thresholds{
			StableCV:         cfg.Heuristic.StableCV,
			UnstableCV:       cfg.Heuristic.UnstableCV,
			RegressionFactor: cfg.Heuristic.RegressionFactor,
			PinOnRevert:      cfg.Heuristic.PinOnRevert,
		}),
		decisions: observability.NewDecisionStats(cfg.Observability.DecisionWindow),
		advisors:  make(map[string]*advisor.Advisor),
		shutdown:  server.NewShutdownManager(server.DefaultShutdownConfig(), logger),
	}

	if path := cfg.Telemetry.SQLitePath; path != "" {
		src, err := telemetry.OpenSQLite(path, cfg.Telemetry.Table)
		if err != nil {
			return nil, fmt.Errorf("failed to open telemetry source: %w", err)
		}
		a.source = src
		logger.Info("telemetry source opened",
			zap.String("path", path),
			zap.String("table", cfg.Telemetry.Table))
	}
	return a, nil
}

// Attach returns the advisor of scope, creating its namespace on first use.
func (a *App) Attach(scope string) *advisor.Advisor {
	a.advisorsMu.Lock()
	defer a.advisorsMu.Unlock()

	if adv, ok := a.advisors[scope]; ok {
		return adv
	}
	ns, _ := a.registry.Attach(scope)
	opts := advisor.Options{
		Rules:            a.rules,
		FetchConcurrency: a.cfg.Telemetry.FetchConcurrency,
		Reap: stats.ReapPolicy{
			IdleTTL:    a.cfg.Reaper.IdleTTL,
			MaxEntries: a.cfg.Reaper.MaxEntries,
		},
		Decisions: a.decisions,
		Logger:    a.logger,
	}
	// A nil *SQLiteSource must not become a non-nil interface.
	if a.source != nil && a.cfg.Heuristic.UseExternal {
		opts.Source = a.source
	}
	adv := advisor.New(ns, opts)
	a.advisors[scope] = adv
	a.logger.Info("scope attached", zap.String("scope", scope))
	return adv
}

// Advisor returns the advisor of an attached scope.
func (a *App) Advisor(scope string) (*advisor.Advisor, bool) {
	a.advisorsMu.RLock()
	defer a.advisorsMu.RUnlock()
	adv, ok := a.advisors[scope]
	return adv, ok
}

// Scopes lists the attached scopes in order.
func (a *App) Scopes() []string {
	a.advisorsMu.RLock()
	defer a.advisorsMu.RUnlock()
	out := make([]string, 0, len(a.advisors))
	for s := range a.advisors {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Advisors returns every attached advisor ordered by scope.
func (a *App) Advisors() []*advisor.Advisor {
	scopes := a.Scopes()
	out := make([]*advisor.Advisor, 0, len(scopes))
	for _, s := range scopes {
		if adv, ok := a.Advisor(s); ok {
			out = append(out, adv)
		}
	}
	return out
}

// AttachWorker attaches a host worker running on eng to scope. The caller
// must call Exit on the worker when the host worker ends.
func (a *App) AttachWorker(scope, id string, eng engine.Engine) *worker.Worker {
	adv := a.Attach(scope)
	return worker.New(adv.Namespace(), eng, worker.Options{
		ID:       id,
		Logger:   a.logger,
		Strict:   a.cfg.Consistency.Strict,
		AutoMode: a.cfg.AutoMode.Enabled,
		Meter: automode.Config{
			MinMeterings: a.cfg.AutoMode.MinMeterings,
			MaxMeterings: a.cfg.AutoMode.MaxMeterings,
		},
	})
}

// Start initializes shared resources and starts the daemon and admin API.
func (a *App) Start(ctx context.Context) (err error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	defer func() {
		if err != nil {
			cancel()
			a.mu.Lock()
			a.running = false
			a.mu.Unlock()
		}
	}()

	if err := a.initSharedResources(ctx); err != nil {
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	for _, scope := range a.cfg.Scopes {
		a.Attach(scope)
	}

	a.daemon = daemon.New(daemon.Config{
		ReconsiderInterval: a.cfg.Daemon.ReconsiderInterval,
		ReapInterval:       a.cfg.Daemon.ReapInterval,
		SnapshotInterval:   a.cfg.Daemon.SnapshotInterval,
	}, a.Advisors, a.exporter, a.logger)
	if err := a.daemon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	if err := a.startHTTP(); err != nil {
		a.daemon.Stop()
		return fmt.Errorf("failed to start admin API: %w", err)
	}

	a.logger.Info("planmentor started",
		zap.String("http_addr", a.Addr()),
		zap.Strings("scopes", a.Scopes()),
		zap.String("storage", a.cfg.Storage.Type),
		zap.Bool("telemetry", a.source != nil))
	return nil
}

// initSharedResources opens snapshot storage.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		if a.cfg.Storage.S3.Endpoint != "" {
			s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		}
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		err = fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.logger.Info("storage initialized",
		zap.String("type", a.cfg.Storage.Type),
		zap.String("path", a.cfg.Storage.Path),
		zap.String("bucket", a.cfg.Storage.S3.Bucket))

	a.exporter = snapshot.NewExporter(a.storage, snapshot.Options{
		Retain: a.cfg.Daemon.SnapshotRetain,
		Logger: a.logger,
	})
	return nil
}

func (a *App) startHTTP() error {
	mux := http.NewServeMux()
	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.DefaultMiddleware(a.logger),
	)
	mux.Handle("/v1/", middleware(httpapi.NewAdminHandler(a, httpapi.AdminOptions{
		Exporter:  a.exporter,
		Decisions: a.decisions,
		Logger:    a.logger,
	})))
	mux.HandleFunc("/health", a.healthHandler)

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.listener = ln
	a.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	a.shutdown.RegisterCloser("http", server.CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	}))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("admin HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the admin API listen address, or "" before Start.
func (a *App) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop stops the daemon and admin API and closes the telemetry source.
// Workers still attached keep working against their namespaces.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		a.closeSource()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	a.logger.Info("initiating graceful shutdown")

	if a.cancel != nil {
		a.cancel()
	}
	if a.daemon != nil {
		if err := a.daemon.Stop(); err != nil {
			a.logger.Warn("daemon stop error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// No-op when a signal already ran the shutdown.
	err := a.shutdown.Shutdown(shutdownCtx, "stop requested")

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("shutdown timeout, some goroutines may not have finished")
	}
	a.closeSource()

	a.logger.Info("planmentor stopped")
	return err
}

func (a *App) closeSource() {
	a.advisorsMu.Lock()
	src := a.source
	a.source = nil
	a.advisorsMu.Unlock()

	if src == nil {
		return
	}
	if err := src.Close(); err != nil {
		a.logger.Warn("telemetry close error", zap.Error(err))
	}
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"planmentor","scopes":%d}`, len(a.Scopes()))
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}
