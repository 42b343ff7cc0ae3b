package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/firewatch/internal/config"
	"github.com/rewired-gh/firewatch/internal/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "firewatch",
	Short: "Fire risk sensor monitor",
	Long: `firewatch - environmental fire risk monitoring

Classifies temperature, humidity, CO2, CO and H2 snapshots into safe,
warning or danger, serves the live state and builds history reports.`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "Path to configuration file (empty for defaults and environment only)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(reportCmd)
}

// loadConfig loads and validates the configuration and initializes logging.
// A missing default config file falls back to defaults and environment.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if !rootCmd.PersistentFlags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if path != "" {
		logger.Debug("Configuration loaded from %s", path)
	} else {
		logger.Debug("No configuration file, using defaults and environment")
	}
	return cfg, nil
}
