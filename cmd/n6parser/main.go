// Package main implements the n6parser binary. It consumes raw feed
// snippets from the bus, normalizes them into events with the schema
// bound to each source, and republishes at the parsed stage.
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
	"github.com/CERT-Polska/n6-sub011/component"
	"github.com/CERT-Polska/n6-sub011/config"
	"github.com/CERT-Polska/n6-sub011/health"
	"github.com/CERT-Polska/n6-sub011/metric"
	"github.com/CERT-Polska/n6-sub011/natsclient"
	"github.com/CERT-Polska/n6-sub011/normalize"
)

const (
	Version = "0.1.0"
	appName = "n6parser"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Parser failed", "error", err)
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

	if cfg.Parser.SchemasFile == "" {
		return fmt.Errorf("parser.schemas_file is required")
	}
	registry, err := normalize.LoadSchemas(cfg.Parser.SchemasFile)
	if err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid",
			"config_path", cliCfg.ConfigPath,
			"schema_sources", len(registry.Sources()))
		return nil
	}

	slog.Info("Starting n6 parser",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"schemas_file", cfg.Parser.SchemasFile,
		"schema_sources", len(registry.Sources()))

	ctx := context.Background()
	client, err := connectBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close(ctx) }()

	metricsRegistry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor(appName)
	deps := component.Dependencies{
		NATSClient:      client,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	}

	parser, err := normalize.NewParser(registry, deps,
		bus.NewConsumer(client, logger), bus.NewPublisher(client, logger))
	if err != nil {
		return fmt.Errorf("create parser: %w", err)
	}

	manager := component.NewManager(logger)
	manager.Add(parser)
	monitor.Update(parser.Name(), health.Healthy, "")

	metricsServer := startMetrics(cfg, metricsRegistry, monitor, logger)
	defer func() {
		if metricsServer != nil {
			_ = metricsServer.Stop()
		}
	}()

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
	slog.Info("Parser started")

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
	slog.Info("Parser shutdown complete")
	return nil
}
