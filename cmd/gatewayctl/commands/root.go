// Package commands implements the gatewayctl CLI using cobra.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/xalo2100/alfatechflow-sub001/internal/application"
	"github.com/xalo2100/alfatechflow-sub001/internal/ports"
)

const tracerName = "github.com/xalo2100/alfatechflow-sub001/cmd/gatewayctl"

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gatewayctl",
		Short: "AI provider invocation gateway",
		Long: `gatewayctl sends prompts to a local or cloud AI provider through the
gateway, with credential resolution, model discovery and fallback.

Examples:
  gatewayctl invoke "Summarize ticket 42"
  gatewayctl invoke --provider local --json "Return a JSON diagnosis"
  gatewayctl models --provider cloud
  gatewayctl serve --addr :8080
  gatewayctl secret put gemini_api_key AIza...`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if err := loadEnvFile(envFile); err != nil {
				return err
			}
			level, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			logger, err := newLogger(cmd.ErrOrStderr(), level, format)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	rootCmd.AddCommand(
		newInvokeCmd(),
		newModelsCmd(),
		newServeCmd(),
		newSecretCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the gateway YAML configuration")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json, logfmt)")

	return rootCmd
}

// loadEnvFile loads path without overriding variables already set. A
// missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// newLogger returns a slog.Logger backed by a charmbracelet console
// handler.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}

	var formatter log.Formatter
	switch strings.ToLower(format) {
	case "text", "":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("invalid --log-format %q: want text, json or logfmt", format)
	}

	handler := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
	return slog.New(handler), nil
}

// loadConfig reads --config, falling back to the built-in defaults.
func loadConfig(cmd *cobra.Command) (application.GatewayConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		cfg := application.DefaultGatewayConfig()
		return cfg, cfg.Validate()
	}
	return application.LoadConfig(path)
}

// buildRuntime wires the gateway from the configuration and the process
// environment.
func buildRuntime(ctx context.Context, cmd *cobra.Command, metrics ports.MetricsCollector) (*application.Runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return application.Build(ctx, cfg, application.BuildOptions{
		EncryptionSecret: os.Getenv(cfg.Credentials.SecretEnv),
		DSN:              os.Getenv(cfg.Credentials.DSNEnv),
		Metrics:          metrics,
		Tracer:           otel.Tracer(tracerName),
		Logger:           slog.Default(),
	})
}
