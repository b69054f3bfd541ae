package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/navble/internal/gattc"
	"github.com/srg/navble/internal/navigation"
	"github.com/srg/navble/internal/radio"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for Bluetooth Low Energy devices in the vicinity and list the
first advertisement seen from each address.

Devices advertising the configured navigation signature are highlighted.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration   time.Duration
	scanFormat     string
	scanTargetOnly bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 5*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanTargetOnly, "target-only", false, "Only list devices advertising the navigation signature")
}

// scanEntry is one row of the scan output.
type scanEntry struct {
	Address     string `json:"address"`
	AddressType string `json:"address_type"`
	RSSI        int8   `json:"rssi"`
	Connectable bool   `json:"connectable"`
	Name        string `json:"name,omitempty"`
	Target      bool   `json:"target"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}
	if scanDuration <= 0 {
		return fmt.Errorf("scan duration must be positive, got %s", scanDuration)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	target, err := cfg.NavigationTarget()
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	logger := configureLogger(cmd, cfg)
	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer closeClient(client, logger)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	table, err := client.Scan(ctx, scanDuration)
	if err != nil {
		return err
	}

	entries := scanEntries(table, target, scanTargetOnly)
	if scanFormat == "json" {
		return displayScanJSON(cmd.OutOrStdout(), entries)
	}
	return displayScanTable(cmd.OutOrStdout(), entries)
}

func scanEntries(table *gattc.ScanTable, target navigation.Target, targetOnly bool) []scanEntry {
	entries := make([]scanEntry, 0, table.Len())
	for _, r := range table.Results() {
		isTarget := target.Matches(r.Data)
		if targetOnly && !isTarget {
			continue
		}
		entries = append(entries, scanEntry{
			Address:     r.Address(),
			AddressType: r.AddrType.String(),
			RSSI:        r.RSSI,
			Connectable: r.Connectable,
			Name:        advertisedName(r),
			Target:      isTarget,
		})
	}
	return entries
}

// advertisedName prefers the complete local name over the shortened one.
func advertisedName(r gattc.ScanResult) string {
	adv, err := r.Advertisement()
	if err != nil {
		return ""
	}
	if name, ok := adv.Get(radio.ADCompleteLocalName); ok {
		return string(name)
	}
	if name, ok := adv.Get(radio.ADShortLocalName); ok {
		return string(name)
	}
	return ""
}

func displayScanTable(out io.Writer, entries []scanEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	highlight := color.New(color.FgGreen, color.Bold)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tTYPE\tRSSI\tCONNECTABLE\tNAME")

	for _, e := range entries {
		name := e.Name
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		if e.Target {
			name = highlight.Sprint(strings.TrimSpace(name + " [navigation]"))
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%t\t%s\n", e.Address, e.AddressType, e.RSSI, e.Connectable, name)
	}
	return w.Flush()
}

func displayScanJSON(out io.Writer, entries []scanEntry) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(entries)
}
