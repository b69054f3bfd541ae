package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/go-ble/ble"
	"github.com/spf13/cobra"

	"github.com/srg/navble/internal/gattc"
	"github.com/srg/navble/internal/radio"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "Show the GATT database of a device",
	Long: `Connects to a device, discovers all services, characteristics and
descriptors, and prints them as a tree.

Examples:
  # Show the attribute tree
  navble inspect c0:ff:ee:00:00:01

  # Also read every readable characteristic
  navble inspect 5a:11:22:33:44:55 --address-type random --read`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectAddrType string
	inspectRead     bool
)

func init() {
	inspectCmd.Flags().StringVar(&inspectAddrType, "address-type", "public", "Address type (public, random)")
	inspectCmd.Flags().BoolVar(&inspectRead, "read", false, "Read the value of every readable characteristic")
}

func runInspect(cmd *cobra.Command, args []string) error {
	addr, err := radio.ParseAddress(args[0])
	if err != nil {
		return err
	}
	addrType, err := parseAddrType(inspectAddrType)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
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

	p, err := client.Connect(ctx, addrType, addr)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Disconnect(ctx); err != nil {
			logger.WithError(err).Warn("Failed to disconnect")
		}
	}()

	return printPeripheral(ctx, cmd.OutOrStdout(), p, inspectRead)
}

func printPeripheral(ctx context.Context, out io.Writer, p *gattc.Peripheral, readValues bool) error {
	title := color.New(color.Bold)
	svcColor := color.New(color.FgCyan)
	charColor := color.New(color.FgGreen)

	services, err := p.DiscoverServices(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s (%s)\n", title.Sprint("Peripheral"), p.Addr(), p.AddrType())
	if len(services) == 0 {
		fmt.Fprintln(out, "  no services")
		return nil
	}

	for _, svc := range services {
		fmt.Fprintf(out, "%s %s (handles %d-%d)\n", svcColor.Sprint("Service"), svc.UUID(), svc.Start(), svc.End())

		chars, err := svc.DiscoverCharacteristics(ctx)
		if err != nil {
			return err
		}
		for _, ch := range chars {
			fmt.Fprintf(out, "  %s %s (handle %d, %s)\n",
				charColor.Sprint("Characteristic"), ch.UUID(), ch.ValueHandle(), propertyNames(ch.Properties()))

			if readValues && ch.Properties()&ble.CharRead != 0 {
				data, ok, err := ch.Read(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "    Value: %s\n", formatValue(data, ok))
			}

			descs, err := ch.DiscoverDescriptors(ctx)
			if err != nil {
				return err
			}
			for _, d := range descs {
				fmt.Fprintf(out, "    Descriptor %s (handle %d)\n", d.UUID(), d.Handle())
			}
		}
	}
	return nil
}

var propertyOrder = []struct {
	prop ble.Property
	name string
}{
	{ble.CharBroadcast, "broadcast"},
	{ble.CharRead, "read"},
	{ble.CharWriteNR, "write-without-response"},
	{ble.CharWrite, "write"},
	{ble.CharNotify, "notify"},
	{ble.CharIndicate, "indicate"},
	{ble.CharSignedWrite, "signed-write"},
	{ble.CharExtended, "extended"},
}

func propertyNames(p ble.Property) string {
	var names []string
	for _, po := range propertyOrder {
		if p&po.prop != 0 {
			names = append(names, po.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// formatValue renders a read result as hex, with the text form when printable.
func formatValue(data []byte, ok bool) string {
	if !ok {
		return "<no data>"
	}
	if len(data) == 0 {
		return "<empty>"
	}
	s := hex.EncodeToString(data)
	if isPrintable(data) {
		s += fmt.Sprintf(" %q", string(data))
	}
	return s
}

func isPrintable(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, r := range string(data) {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
