package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath      string
	OverridePath    string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("N6_CONFIG", "/etc/n6/filter.json"),
		"Path to configuration file (env: N6_CONFIG)")
	flag.StringVar(&cfg.OverridePath, "override",
		getEnv("N6_CONFIG_OVERRIDE", ""),
		"Optional config layer merged over the base file (env: N6_CONFIG_OVERRIDE)")
	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("N6_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: N6_LOG_LEVEL)")
	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("N6_LOG_FORMAT", "json"),
		"Log format: json, text (env: N6_LOG_FORMAT)")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("N6_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: N6_SHUTDOWN_TIMEOUT)")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Parse()
	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}
	if cfg.OverridePath != "" {
		if _, err := os.Stat(cfg.OverridePath); err != nil {
			return fmt.Errorf("override file not found: %s", cfg.OverridePath)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
