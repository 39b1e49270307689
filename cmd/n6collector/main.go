// Package main implements the n6collector binary. It loads the feed
// descriptor table, runs one collector component per feed, and publishes
// fresh feed rows to the bus at the raw stage.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CERT-Polska/n6-sub011/bus"
	"github.com/CERT-Polska/n6-sub011/collector"
	"github.com/CERT-Polska/n6-sub011/component"
	"github.com/CERT-Polska/n6-sub011/config"
	"github.com/CERT-Polska/n6-sub011/health"
	"github.com/CERT-Polska/n6-sub011/metric"
	"github.com/CERT-Polska/n6-sub011/natsclient"
	"github.com/CERT-Polska/n6-sub011/statestore"
)

const (
	Version = "0.1.0"
	appName = "n6collector"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Collector failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger, err := component.NewSlogLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath, cliCfg.OverridePath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("Starting n6 collector",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"feeds_file", cfg.Collector.FeedsFile,
		"once", cliCfg.Once)

	descriptors, err := loadFeeds(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, err := connectBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close(ctx) }()

	states, err := statestore.Open(ctx, client, logger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor(appName)
	deps := component.Dependencies{
		NATSClient:      client,
		MetricsRegistry: registry,
		Logger:          logger,
	}

	manager := component.NewManager(logger)
	publisher := bus.NewPublisher(client, logger)
	runners := make([]*collector.Runner, 0, len(descriptors))
	for _, desc := range descriptors {
		if cliCfg.Once {
			desc.Interval = 0
		}
		runner, err := collector.NewRunner(desc, deps, publisher, states)
		if err != nil {
			return fmt.Errorf("create collector for %s: %w", desc.Source, err)
		}
		manager.Add(runner)
		runners = append(runners, runner)
		monitor.Update(runner.Name(), health.Healthy, "")
	}

	metricsServer := startMetrics(cfg, registry, monitor, logger)
	defer func() {
		if metricsServer != nil {
			_ = metricsServer.Stop()
		}
	}()

	if cliCfg.Once {
		return runOnce(ctx, manager, runners)
	}
	return runUntilSignal(ctx, manager, monitor, cliCfg.ShutdownTimeout)
}

func loadConfig(path, overridePath string) (*config.Config, error) {
	loader := config.NewLoader()
	loader.AddLayer(path)
	if overridePath != "" {
		loader.AddLayer(overridePath)
	}
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// loadFeeds reads the descriptor table and applies the optional source
// allowlist.
func loadFeeds(cfg *config.Config) ([]*collector.Descriptor, error) {
	if cfg.Collector.FeedsFile == "" {
		return nil, fmt.Errorf("collector.feeds_file is required")
	}
	descriptors, err := collector.LoadDescriptors(cfg.Collector.FeedsFile)
	if err != nil {
		return nil, fmt.Errorf("load feed descriptors: %w", err)
	}

	if len(cfg.Collector.Sources) == 0 {
		return descriptors, nil
	}
	allowed := make(map[string]bool, len(cfg.Collector.Sources))
	for _, source := range cfg.Collector.Sources {
		allowed[source] = true
	}
	selected := make([]*collector.Descriptor, 0, len(descriptors))
	for _, desc := range descriptors {
		if allowed[desc.Source] {
			selected = append(selected, desc)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no feed descriptors match collector.sources")
	}
	return selected, nil
}

func connectBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithClientName(appName),
		natsclient.WithReconnect(cfg.NATS.MaxReconnects, cfg.NATS.ReconnectWait),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	} else if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(cfg.NATS.URLs[0], opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}

	if err := bus.EnsureStreams(ctx, client); err != nil {
		return nil, fmt.Errorf("ensure streams: %w", err)
	}
	return client, nil
}

func startMetrics(
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) *metric.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}
	server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	server.SetHealthHandler(monitor)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	return server
}

// runOnce drives a single collection cycle per feed sequentially and
// reports the first failure. Meant for cron-style deployments.
func runOnce(ctx context.Context, manager *component.Manager, runners []*collector.Runner) error {
	if err := manager.Initialize(); err != nil {
		return err
	}

	var firstErr error
	for _, runner := range runners {
		if err := runner.RunOnce(ctx); err != nil {
			slog.Error("Collection cycle failed", "component", runner.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func runUntilSignal(
	ctx context.Context,
	manager *component.Manager,
	monitor *health.Monitor,
	shutdownTimeout time.Duration,
) error {
	if err := manager.Initialize(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := manager.Start(signalCtx); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	slog.Info("Collector started")

	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case err := <-manager.Failures():
		monitor.Update(appName, health.Unhealthy, err.Error())
		slog.Error("Component failed, shutting down", "error", err)
		_ = manager.Stop(shutdownTimeout)
		return err
	}

	if err := manager.Stop(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	slog.Info("Collector shutdown complete")
	return nil
}
