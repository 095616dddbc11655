package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kryptoslogic/assemblyline-exporter/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	EnvFile         string
	LogLevel        string
	LogFormat       string
	Port            int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

// parseFlags parses args with environment variable fallbacks for defaults
func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("EXPORTER_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: EXPORTER_CONFIG)")

	fs.StringVar(&cfg.EnvFile, "env-file",
		getEnv("EXPORTER_ENV_FILE", config.DefaultEnvFile),
		"Path to a .env file, -env-file= to disable (env: EXPORTER_ENV_FILE)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("EXPORTER_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: EXPORTER_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("EXPORTER_LOG_FORMAT", "json"),
		"Log format: json, text (env: EXPORTER_LOG_FORMAT)")

	fs.IntVar(&cfg.Port, "port", 0,
		"Metrics port, overrides configuration when set")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("EXPORTER_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: EXPORTER_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs, output)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := validateFlags(cfg); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - Assemblyline status to Prometheus exporter

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Environment:
  ASSEMBLYLINE_HOST, ASSEMBLYLINE_USERNAME, ASSEMBLYLINE_APIKEY  upstream credentials
  ASSEMBLYLINE_VERIFY                                          TLS verification (default true)
  EXPORTER_PORT, EXPORTER_METRICS_PATH, EXPORTER_FEED           see the config package

Examples:
  # Run against an Assemblyline instance
  export ASSEMBLYLINE_HOST=https://assemblyline.local
  export ASSEMBLYLINE_USERNAME=admin ASSEMBLYLINE_APIKEY=name:secret
  %s

  # Validate configuration only
  %s --config=exporter.yaml --validate

Version: %s
Build: %s
`, appName, appName, Version, BuildTime)
}

// Environment variable helper functions
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
