package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/switchboard/pkg/switchboard/config"
	"github.com/tsarna/switchboard/pkg/switchboard/events"
	"github.com/tsarna/switchboard/pkg/switchboard/gateway"
	"github.com/tsarna/switchboard/pkg/switchboard/o11y"
	"github.com/tsarna/switchboard/pkg/switchboard/otel"
	"github.com/tsarna/switchboard/pkg/switchboard/rpc"
	"github.com/tsarna/switchboard/pkg/switchboard/runtime"
	"github.com/tsarna/switchboard/pkg/switchboard/schedule"
	"github.com/tsarna/switchboard/pkg/switchboard/server"
	"github.com/tsarna/switchboard/pkg/switchboard/session"
	"github.com/tsarna/switchboard/pkg/switchboard/store"
	"go.uber.org/zap"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server [config-file]",
	Short: "Start the switchboard gateway",
	Long: `Start the switchboard gateway.

The configuration file may be HCL (.hcl), JSON (.json) or TOML (.toml).
Without an argument the file named by $SWITCHBOARD_CONFIG is used, or
gateway.hcl in the current directory. If that default file does not exist
the built-in defaults are used.

Examples:
  switchboard server
  switchboard server gateway.hcl
  SWITCHBOARD_CONFIG=/etc/switchboard/gateway.toml switchboard server`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServer,
}

var shutdownTimeout time.Duration

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for connections to close on shutdown")
}

func runServer(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(args, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	app.Start()
	return app.server.ListenAndServe(ctx, shutdownTimeout)
}

// loadConfig loads the file named on the command line or by the
// environment. A missing default file falls back to the built-in defaults;
// a missing file that was asked for is an error.
func loadConfig(args []string, logger *zap.Logger) (*config.Config, error) {
	path, explicit := config.PathFromEnv(), os.Getenv(config.EnvVar) != ""
	if len(args) > 0 {
		path, explicit = args[0], true
	}

	cfg, err := config.Load(path)
	if errors.Is(err, config.ErrNotFound) && !explicit {
		logger.Info("No config file found, using defaults", zap.String("path", path))
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded config", zap.String("path", path))
	return cfg, nil
}

// app is a fully wired gateway.
type app struct {
	logger    *zap.Logger
	bus       events.EventBus
	metrics   *events.StandaloneMetricsProvider
	store     *store.Store
	agent     *runtime.Agent
	registry  *rpc.Registry
	scheduler *schedule.Scheduler
	listener  *server.Listener
	server    *server.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	var metrics o11y.MetricsProvider
	var tracing o11y.TracingProvider
	if cfg.Telemetry.Enabled {
		provider := otel.NewProvider(cfg.Telemetry.ServiceName, Version)
		metrics, tracing = provider, provider
	}

	var standalone *events.StandaloneMetricsProvider
	if interval := cfg.Telemetry.PublishInterval.Std(); interval > 0 {
		standalone = events.NewStandaloneMetricsProvider(&events.StandaloneMetricsConfig{
			Interval:    interval,
			ServiceName: cfg.Telemetry.ServiceName,
		})
		metrics = standalone
	}

	bus, err := events.NewEventBus().
		WithLogger(logger).
		WithMetrics(metrics).
		WithTracing(tracing).
		Build()
	if err != nil {
		return nil, fmt.Errorf("creating event bus: %w", err)
	}
	if standalone != nil {
		standalone.SetEventBus(bus)
	}
	if verbose || debug {
		bus.Subscribe(events.NewLoggingSubscriber(nil, logger, zap.DebugLevel))
	}

	st, err := store.Open(ctx, cfg.Store.DSN, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		logger:   logger,
		bus:      bus,
		metrics:  standalone,
		store:    st,
		agent:    runtime.NewAgent(bus, st, logger),
		registry: rpc.NewRegistry(),
	}

	if err := gateway.NewHandlers(bus, st, a.agent, logger).Register(a.registry); err != nil {
		st.Close()
		return nil, fmt.Errorf("registering handlers: %w", err)
	}

	entries := make([]schedule.Entry, len(cfg.Crons))
	for i, c := range cfg.Crons {
		entries[i] = schedule.Entry{
			Name:     c.Name,
			Schedule: c.Schedule,
			Timezone: c.Timezone,
			Topic:    c.Topic,
			Data:     c.Data,
		}
	}
	if a.scheduler, err = schedule.New(bus, logger, entries...); err != nil {
		st.Close()
		return nil, err
	}

	sessionConfig := session.NewConfig().
		WithEventBus(bus).
		WithRegistry(a.registry).
		WithLogger(logger).
		WithMetrics(session.NewMetrics(metrics)).
		WithTracing(tracing).
		WithQueueSize(cfg.Connection.QueueSize).
		WithPingInterval(cfg.Connection.PingInterval.Std()).
		WithReadTimeout(cfg.Connection.ReadTimeout.Std()).
		WithWriteTimeout(cfg.Connection.WriteTimeout.Std()).
		WithReadLimit(cfg.Connection.ReadLimit)

	if a.listener, err = server.NewListener(sessionConfig); err != nil {
		st.Close()
		return nil, err
	}
	a.server = server.New(cfg, a.listener, logger)

	return a, nil
}

// Start begins the background jobs: scheduled events and metric snapshots.
func (a *app) Start() {
	a.scheduler.Start()
	if a.metrics != nil {
		a.metrics.Start()
	}
}

// Close stops the background jobs, waits for runs in flight and closes the
// store.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.scheduler.Stop(ctx); err != nil {
		a.logger.Warn("Scheduler did not stop cleanly", zap.Error(err))
	}
	if a.metrics != nil {
		a.metrics.Stop()
	}
	a.agent.Wait()
	return a.store.Close()
}
