package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/navble/pkg/config"
)

// loadConfig reads --config and applies the logging flags on top of it.
// --log-level takes precedence over --verbose.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		switch logLevelStr {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = logLevelStr
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

// configureLogger creates the process logger. Log output goes to the
// command's error stream so that results on stdout stay parseable.
func configureLogger(cmd *cobra.Command, cfg *config.Config) *logrus.Logger {
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger
}

// setupOutput disables colors unless stdout is a terminal.
func setupOutput(cmd *cobra.Command, _ []string) error {
	f, ok := cmd.OutOrStdout().(*os.File)
	color.NoColor = !ok || !term.IsTerminal(int(f.Fd()))
	return nil
}
