package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "navble",
	Short: "Turn-by-turn navigation display over Bluetooth Low Energy",
	Long: `navble connects to a phone running a navigation app that exposes its
instructions over BLE and shows them on the console.

- Scan for nearby BLE devices and spot the navigation phone
- Inspect GATT services, characteristics, and descriptors
- Read a single characteristic value
- Follow navigation instructions until interrupted`,
	Version:           formatVersion(version),
	PersistentPreRunE: setupOutput,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("navble {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(navCmd)

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
}
