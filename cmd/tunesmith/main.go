package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/tunesmith/internal/config"
	"github.com/ent0n29/tunesmith/internal/logging"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "tunesmith",
	Short: "Conversational music, cover art and video studio",
	Long: `tunesmith turns chat messages into songs.

Available commands:
  serve    - Run the HTTP service (web chat, WhatsApp webhook, API)
  session  - Inspect or reset a session on a running service
  personas - Manage saved personas directly in the persona store`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd, sessionCmd, personasCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the process logger.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config error: %w", err)
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(level)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
