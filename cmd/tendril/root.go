package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/tendril/internal/config"
	"github.com/aretw0/tendril/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tendril",
	Short: "Tendril is a graph-driven tool-calling agent",
	Long: `Tendril runs a conversational agent that answers through a language model and
executes the tools the model asks for. Serve it over WebSocket and HTTP, expose it
to MCP clients, or ask it a single question from the terminal.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to the config file (default: ./tendril.yaml, ~/.config/tendril/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

// loadConfig resolves the config file, applies flag overrides and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewWithFormat(os.Stderr, level, cfg.Log.Format)
	slog.SetDefault(logger)

	if path != "" {
		logger.Debug("config loaded", "path", path)
	}
	return cfg, logger, nil
}
