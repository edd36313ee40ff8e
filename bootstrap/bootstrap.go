// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatewise/fatewise/adapters/auth"
	"github.com/fatewise/fatewise/adapters/clock"
	apihttp "github.com/fatewise/fatewise/adapters/http"
	"github.com/fatewise/fatewise/adapters/idgen"
	"github.com/fatewise/fatewise/adapters/metrics"
	"github.com/fatewise/fatewise/adapters/sqlite"
	"github.com/fatewise/fatewise/app"
	"github.com/fatewise/fatewise/config"
	"github.com/rs/zerolog"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Holder     *config.Holder
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	Entitlements *app.EntitlementService
	Ledger       *app.Ledger
	Transitions  *app.Transitioner
}

// New creates and initializes the application from an already-validated
// config. cfgPath may be empty when the config came from defaults; hot
// reload is then unavailable.
func New(cfg *config.Config, cfgPath string, hotReload bool) (*App, error) {
	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing fatewise")

	holder, err := config.NewHolder(cfg, cfgPath, logger)
	if err != nil {
		return nil, fmt.Errorf("config holder: %w", err)
	}
	if hotReload && cfgPath != "" {
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("config hot reload unavailable")
		}
	}

	a := &App{Logger: logger, Holder: holder}

	if err := a.initDatabase(cfg.Database.Path); err != nil {
		holder.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	}

	a.initServices(cfg)
	a.initHTTPServer(cfg)

	return a, nil
}

func (a *App) initDatabase(path string) error {
	db, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	a.DB = db
	a.Logger.Info().Str("path", path).Msg("database initialized")
	return nil
}

func (a *App) initServices(cfg *config.Config) {
	clk := clock.Real{}
	memberships := sqlite.NewMembershipStore(a.DB)
	events := sqlite.NewBillingEventStore(a.DB)

	a.Entitlements = app.NewEntitlementService(memberships, a.Holder, clk, a.Logger)
	a.Ledger = app.NewLedger(memberships, a.Holder, clk, cfg.Engine.ConsumeMaxRetries, a.Logger)
	a.Transitions = app.NewTransitioner(
		memberships,
		events,
		a.Holder,
		clk,
		idgen.UUID{},
		cfg.Engine.ConsumeMaxRetries,
		cfg.Engine.SweepBatchSize,
		a.Logger,
	)
}

func (a *App) initHTTPServer(cfg *config.Config) {
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, 0)
	handler := apihttp.New(
		a.Entitlements,
		a.Ledger,
		a.Transitions,
		a.Holder,
		tokens,
		cfg.Auth.WebhookSecret,
		a.Logger,
		a.Metrics,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.Holder != nil {
		if err := a.Holder.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("config holder close error")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
