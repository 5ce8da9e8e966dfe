package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mathgaling/tutor/internal/api"
	"github.com/mathgaling/tutor/internal/curriculum"
	"github.com/mathgaling/tutor/internal/platform/cache"
	"github.com/mathgaling/tutor/internal/platform/config"
	"github.com/mathgaling/tutor/internal/platform/database"
	"github.com/mathgaling/tutor/internal/platform/logging"
	"github.com/mathgaling/tutor/internal/tracing"
	"github.com/mathgaling/tutor/internal/tutor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.Log))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	app, err := setup(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

// application is the wired server and the resources it holds.
type application struct {
	handler http.Handler
	engine  *tutor.Engine
	closers []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// setup loads the curriculum and wires the engine onto the configured store.
func setup(ctx context.Context, cfg *config.Config) (*application, error) {
	app := &application{}

	loader, err := curriculum.NewLoader(cfg.CurriculumPath)
	if err != nil {
		return nil, fmt.Errorf("load curriculum: %w", err)
	}

	hub := tutor.NewHub(0)
	checks := map[string]api.Check{}
	engineCfg := tutor.EngineConfig{
		Catalog:        loader,
		Roster:         loader,
		Events:         hub,
		Threshold:      cfg.Mastery.Threshold,
		MaxRetries:     cfg.Mastery.MaxRetries,
		DedupeWindow:   cfg.Mastery.DedupeWindow,
		SequentialSize: cfg.Quiz.SequentialSize,
		BookSize:       cfg.Quiz.BookSize,
		PracticeSize:   cfg.Quiz.PracticeSize,
	}

	if cfg.Store == config.StorePostgres {
		if err := wirePostgres(ctx, cfg, app, loader, hub, checks, &engineCfg); err != nil {
			app.close()
			return nil, err
		}
	}

	engineCfg.Guard = tutor.NewMemoryGuard()
	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		app.closers = append(app.closers, func() { c.Close() })
		engineCfg.Guard = c
		checks["cache"] = c.HealthCheck
		slog.Info("duplicate guard backed by cache")
	}

	app.engine = tutor.NewEngine(engineCfg)
	app.handler = api.NewHandler(api.Config{
		Engine: app.engine,
		Hub:    hub,
		Checks: checks,
	})
	return app, nil
}

func wirePostgres(ctx context.Context, cfg *config.Config, app *application, loader *curriculum.Loader, hub *tutor.Hub, checks map[string]api.Check, engineCfg *tutor.EngineConfig) error {
	db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	app.closers = append(app.closers, db.Close)
	checks["database"] = db.HealthCheck

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, db.Pool); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	catalog, err := curriculum.NewPostgresCatalog(db.Pool)
	if err != nil {
		return err
	}
	if err := catalog.Sync(ctx, loader); err != nil {
		return err
	}
	states, err := tracing.NewPostgresStore(db.Pool)
	if err != nil {
		return err
	}
	responses, err := tutor.NewPostgresResponseLog(db.Pool)
	if err != nil {
		return err
	}
	sessions, err := tutor.NewPostgresSessionStore(db.Pool)
	if err != nil {
		return err
	}
	tx, err := database.NewTransactor(db.Pool)
	if err != nil {
		return err
	}

	engineCfg.Catalog = catalog
	engineCfg.Roster = catalog
	engineCfg.States = states
	engineCfg.Responses = responses
	engineCfg.Sessions = sessions
	engineCfg.Tx = tx
	engineCfg.Events = tutor.MultiEventLogger{tutor.NewPostgresEventLogger(db.Pool), hub}

	slog.Info("using postgres store")
	return nil
}
