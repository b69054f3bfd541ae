package main

import (
	"encoding/hex"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/spf13/cobra"

	"github.com/srg/navble/internal/radio"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <service-uuid> <characteristic-uuid>",
	Short: "Read a characteristic value",
	Long: `Connects to a device and reads one characteristic.

Examples:
  # Read the battery level
  navble read c0:ff:ee:00:00:01 180f 2a19

  # Print the value as text
  navble read c0:ff:ee:00:00:01 1800 2a00 --text`,
	Args: cobra.ExactArgs(3),
	RunE: runRead,
}

var (
	readAddrType string
	readText     bool
)

func init() {
	readCmd.Flags().StringVar(&readAddrType, "address-type", "public", "Address type (public, random)")
	readCmd.Flags().BoolVar(&readText, "text", false, "Print the value as text instead of hex")
}

func runRead(cmd *cobra.Command, args []string) error {
	addr, err := radio.ParseAddress(args[0])
	if err != nil {
		return err
	}
	svcUUID, err := ble.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", args[1], err)
	}
	charUUID, err := ble.Parse(args[2])
	if err != nil {
		return fmt.Errorf("invalid characteristic UUID %q: %w", args[2], err)
	}
	addrType, err := parseAddrType(readAddrType)
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

	svcs, err := p.GetService(ctx, svcUUID, false)
	if err != nil {
		return err
	}
	chars, err := svcs[0].GetCharacteristic(ctx, charUUID, false)
	if err != nil {
		return err
	}

	data, ok, err := chars[0].Read(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoData, chars[0])
	}

	if readText {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
	}
	return nil
}
