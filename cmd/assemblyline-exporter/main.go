// Package main runs the Assemblyline exporter: it follows the Assemblyline
// status feed and serves the latest values as Prometheus gauges.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kryptoslogic/assemblyline-exporter/config"
	"github.com/kryptoslogic/assemblyline-exporter/errors"
	"github.com/kryptoslogic/assemblyline-exporter/health"
	"github.com/kryptoslogic/assemblyline-exporter/metric"
	"github.com/kryptoslogic/assemblyline-exporter/natsclient"
	"github.com/kryptoslogic/assemblyline-exporter/pkg/tlsutil"
	"github.com/kryptoslogic/assemblyline-exporter/socketio"
	"github.com/kryptoslogic/assemblyline-exporter/status"
)

// Build information, overridden with -ldflags at release time
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "assemblyline-exporter"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Exporter failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat, stdout)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	if cli.Validate {
		logger.Info("Configuration is valid", "feed", cfg.Feed, "config", cfg.String())
		return nil
	}

	logger.Info("Starting exporter",
		"build_time", BuildTime,
		"feed", cfg.Feed,
		"config_path", cli.ConfigPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	return app.Run(ctx, cli)
}

// loadConfig layers the config file, .env file and environment, then applies
// flag overrides before validating.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.AddLayer(cli.ConfigPath)
	loader.SetEnvFile(cli.EnvFile)

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if cli.Port > 0 {
		cfg.Server.Port = cli.Port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app wires the registry, router, health tracker, exposition server and the
// configured feed together.
type app struct {
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	tracker  *health.Tracker
	router   *status.Router
	server   *metric.Server
	feed     status.Feed
}

func newApp(cfg *config.Config, logger *slog.Logger, registryOpts ...metric.RegistryOption) (*app, error) {
	registry := metric.NewMetricsRegistry(registryOpts...)
	tracker := health.NewTracker(health.WithStaleAfter(cfg.Health.StaleAfter))

	router, err := status.NewRouter(registry,
		status.WithCompat(cfg.Compat),
		status.WithLogger(logger.With("component", "status")),
		status.WithObserver(tracker),
	)
	if err != nil {
		return nil, err
	}

	feed, err := newFeed(cfg, registry.CoreMetrics(), tracker, logger)
	if err != nil {
		return nil, err
	}

	serverTLS, err := tlsutil.LoadServerTLSConfig(cfg.Server.TLS)
	if err != nil {
		return nil, err
	}

	server := metric.NewServer(cfg.Server.Port, cfg.Server.MetricsPath, registry,
		metric.WithHealthSource(tracker),
		metric.WithLogger(logger.With("component", "metrics")),
		metric.WithBindAddress(cfg.Server.BindAddress),
		metric.WithTLSConfig(serverTLS),
	)

	return &app{
		logger:   logger,
		registry: registry,
		tracker:  tracker,
		router:   router,
		server:   server,
		feed:     feed,
	}, nil
}

// newFeed builds the transport selected by cfg.Feed
func newFeed(cfg *config.Config, core *metric.Metrics, tracker *health.Tracker, logger *slog.Logger) (status.Feed, error) {
	switch cfg.Feed {
	case config.FeedNATS:
		var clientOpts []natsclient.ClientOption
		if cfg.NATS.Username != "" {
			clientOpts = append(clientOpts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
		}
		if cfg.NATS.Token != "" {
			clientOpts = append(clientOpts, natsclient.WithToken(cfg.NATS.Token))
		}
		if cfg.NATS.TLSEnabled() {
			clientOpts = append(clientOpts, natsclient.WithTLS(cfg.NATS.CertFile, cfg.NATS.KeyFile, cfg.NATS.CAFile))
		}
		return natsclient.NewFeed(natsclient.FeedConfig{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			Stream:        cfg.NATS.Stream,
			Name:          appName,
		},
			natsclient.WithFeedLogger(logger),
			natsclient.WithFeedMetrics(core),
			natsclient.WithFeedObserver(tracker),
			natsclient.WithClientOptions(clientOpts...),
		)
	case config.FeedSocketIO:
		return socketio.NewClient(cfg.Upstream.Host, cfg.Upstream.Username, cfg.Upstream.APIKey,
			socketio.WithLogger(logger),
			socketio.WithInsecureSkipVerify(!cfg.Upstream.Verify),
			socketio.WithCAFiles(cfg.Upstream.CAFile),
			socketio.WithMetrics(core),
			socketio.WithConnectionObserver(tracker),
		)
	default:
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: unknown feed %q", errors.ErrInvalidConfig, cfg.Feed),
			"main", "newFeed", "select feed")
	}
}

// Run serves metrics, then follows the feed until ctx is cancelled or the
// feed fails. The server is up before the first message so scrapes succeed
// with empty gauges.
func (a *app) Run(ctx context.Context, cli *CLIConfig) error {
	if err := a.server.Start(); err != nil {
		return err
	}
	a.logger.Info("Exporter started", "metrics", a.server.Address())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.feed.Listen(gctx, a.router.Callbacks()); err != nil {
			return err
		}
		if gctx.Err() == nil {
			return errors.WrapFatal(errors.ErrConnectionLost, "main", "Run", "feed stopped")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
		defer cancel()
		return a.server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("Exporter shutdown complete")
	return nil
}
