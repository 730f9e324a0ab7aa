package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/automation"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/behavior"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/config"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/delivery"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/engine"
	httpserver "github.com/favouriweala/Task-Manager-App-sub000/internal/http"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/logging"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/notify"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/oracle"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/store"
	"github.com/favouriweala/Task-Manager-App-sub000/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the behaviord service",
	Long: `Start the HTTP API, the delivery scheduler and the config watcher.

Examples:
  # Start with the default config file
  behaviord serve

  # Override settings through the environment
  BEHAVIORD_SERVER_HTTP_PORT=9090 BEHAVIORD_STORE_DRIVER=postgres behaviord serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		go func() {
			select {
			case sig := <-sigCh:
				fmt.Fprintf(cmd.ErrOrStderr(), "Received signal %v, shutting down gracefully...\n", sig)
				cancel()
			case <-ctx.Done():
			}
		}()

		return run(ctx, configPath)
	},
}

// run starts the service and blocks until ctx is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Connects the store, delivery transport and oracle
//  4. Builds the engine and watches the config file
//  5. Serves HTTP until ctx is done, then shuts down in reverse order
func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	log, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logger := log.Underlying()
	defer func() {
		_ = log.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("starting behaviord",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("telemetry", cfg.Observability.EnableTelemetry))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	eng, err := engine.New(cfg, deps.engineDeps(logger, tel.Tracer("behaviord")))
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer eng.Stop()

	stopWatch := watchConfig(ctx, path, eng, logger)
	defer stopWatch()

	srv, err := httpserver.NewServer(eng, logger, &httpserver.Config{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		Health: tel.Health,
		Meter:  tel.Meter("behaviord/http"),
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	logger.Info("behaviord stopped")
	return nil
}

// initLogger builds the zap logger from the logging section, bridged to
// OpenTelemetry when telemetry is enabled.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lcfg, err := logging.FromSettings(cfg.Logging, cfg.Observability.EnableTelemetry)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(lcfg, tel.LoggerProvider())
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	events   behavior.EventStore
	rules    automation.RuleStore
	prefs    notify.PreferenceStore
	queue    delivery.Queue
	channel  delivery.Channel
	gateway  oracle.Gateway
	natsConn *nats.Conn
	postgres *store.PostgresStore
}

func (d *dependencies) engineDeps(logger *zap.Logger, tracer trace.Tracer) engine.Deps {
	return engine.Deps{
		Events:  d.events,
		Rules:   d.rules,
		Prefs:   d.prefs,
		Queue:   d.queue,
		Channel: d.channel,
		Gateway: d.gateway,
		Tracer:  tracer,
		Logger:  logger,
	}
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.postgres != nil {
		_ = d.postgres.Close()
	}
}

// initDependencies connects the configured store, delivery transport and
// oracle.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pg, err := store.NewPostgresStore(store.PostgresConfig{
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password.Value(),
			SSLMode:         cfg.Postgres.SSLMode,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime.Duration(),
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Ping(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("connecting to postgres at %s:%d: %w", cfg.Postgres.Host, cfg.Postgres.Port, err)
		}
		if err := pg.CreateTables(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("creating tables: %w", err)
		}
		deps.postgres = pg
		deps.events, deps.rules, deps.prefs, deps.queue = pg, pg, pg, pg
		logger.Info("connected to postgres",
			zap.String("host", cfg.Postgres.Host),
			zap.String("database", cfg.Postgres.Database),
			logging.Secret("password", cfg.Postgres.Password))
	default:
		mem := store.NewMemoryStore()
		deps.events, deps.rules, deps.prefs, deps.queue = mem, mem, mem, mem
		logger.Warn("using in-memory store; data is lost on restart")
	}

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.NATS.Name),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.NATS.URL, err)
		}
		ch, err := delivery.NewNATSChannel(nc, logger)
		if err != nil {
			nc.Close()
			deps.Close()
			return nil, err
		}
		deps.natsConn = nc
		deps.channel = ch
		logger.Info("connected to NATS", zap.String("url", cfg.NATS.URL))
	} else {
		deps.channel = delivery.NewLogChannel(logger)
	}

	gw, err := initGateway(cfg.Oracle, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.gateway = gw
	return deps, nil
}

// initGateway returns the LLM-backed oracle when enabled, otherwise the no-op
// gateway that makes every caller fall back to local logic.
func initGateway(cfg config.OracleConfig, logger *zap.Logger) (oracle.Gateway, error) {
	if !cfg.Enabled {
		return oracle.NoopGateway{}, nil
	}
	completer, err := oracle.NewOpenAICompleter(oracle.OpenAIConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		APIKey:  cfg.APIKey.Value(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating oracle client: %w", err)
	}
	gw, err := oracle.NewLLMGateway(completer,
		oracle.WithTimeout(cfg.Timeout.Duration()),
		oracle.WithRateLimit(cfg.RateLimit, cfg.Burst),
		oracle.WithMaxEvents(cfg.MaxEvents),
		oracle.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating oracle gateway: %w", err)
	}
	logger.Info("oracle enabled",
		zap.String("model", cfg.Model),
		zap.Float64("rate_limit", cfg.RateLimit),
		logging.Secret("api_key", cfg.APIKey))
	return gw, nil
}

// watchConfig reloads tuning on config file changes. Watching is best effort;
// a missing config directory only disables hot reload.
func watchConfig(ctx context.Context, path string, eng *engine.Engine, logger *zap.Logger) func() {
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return func() {}
		}
		path = p
	}
	w, err := config.NewWatcher(path, func(cfg *config.Config) {
		if err := eng.Reconfigure(cfg); err != nil {
			logger.Error("applying reloaded config failed", zap.Error(err))
		}
	}, logger)
	if err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
		return func() {}
	}
	if err := w.Start(ctx); err != nil {
		logger.Warn("config hot reload disabled", zap.String("path", path), zap.Error(err))
		w.Stop()
		return func() {}
	}
	return w.Stop
}
