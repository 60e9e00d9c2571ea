// Package main is the aiflash command: the scheduler service plus on-demand jobs and queries.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"AIFlash/internal/app"
	"AIFlash/internal/config"
	"AIFlash/internal/logging"
)

var (
	version = "dev"

	logLevel string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aiflash",
	Short: "AI research news pipeline",
	Long: `aiflash ingests AI research feeds, filters them for relevance, synthesizes cards
and serves briefs and topic feeds from the result.

Configuration is read from the YAML file named by AIFLASH_CONFIG, then environment overrides.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job scheduler and the metrics endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(ctx, os.Stdout, func(ctx context.Context, a *app.Application) error {
			return a.Serve(ctx)
		})
	},
}

// withApp builds the application for one command and closes it afterwards.
func withApp(ctx context.Context, logOut io.Writer, fn func(context.Context, *app.Application) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Load()
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger := logging.NewWriter(logOut, cfg.Logging.Level)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start aiflash: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close", "error", err)
		}
	}()

	return fn(ctx, application)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
