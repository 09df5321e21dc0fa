// Command conduit runs the multi-platform chatbot middleware.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conduitbot/conduit/internal/app"
	"github.com/conduitbot/conduit/internal/config"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conduit",
		Short: "Conduit - multi-platform chatbot middleware",
		Long: `Conduit routes chat platform messages through configurable LLM
pipelines with tool calling, knowledge retrieval and plugin hooks.

Supported platforms: Telegram, Discord, WebChat
Supported providers: OpenAI-compatible APIs, Anthropic`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the middleware",
		Long: `Start the middleware with all configured platform adapters and
pipelines. Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  # Start with the default config
  conduit serve

  # Start with a custom config
  conduit serve --config /etc/conduit/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Path to the YAML configuration file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, configPath)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	return application.Run(ctx)
}
