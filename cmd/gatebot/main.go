package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sglre6355/gatebot/internal/bot"
	"github.com/sglre6355/gatebot/internal/logging"
	_ "github.com/sglre6355/gatebot/internal/modules/core"
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0" ./cmd/gatebot
var version = "dev"

var (
	envFile string
	cfg     *bot.Config
)

var rootCmd = &cobra.Command{
	Use:   "gatebot",
	Short: "Discord interaction engine",
	Long: `gatebot serves Discord commands and components through a gate chain
and keeps the registered commands in sync with the loaded definitions.

Running gatebot without a subcommand is the same as "gatebot serve".`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := bot.LoadConfig(envFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded

		slog.SetDefault(logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout))
		return nil
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file applied before reading the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
}

func main() {
	// Configure JSON logging until the configured logger is installed
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := rootCmd.Execute(); err != nil {
		slog.Error("exited with error", "error", err)
		os.Exit(1)
	}
}
