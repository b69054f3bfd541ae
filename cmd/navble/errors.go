package main

import (
	"errors"
	"fmt"

	"github.com/srg/navble/internal/gattc"
	"github.com/srg/navble/internal/navigation"
	"github.com/srg/navble/internal/radio/goble"
)

// Command-level errors
var (
	// ErrNoData indicates the peripheral answered a read without a value.
	ErrNoData = errors.New("no data")
)

// FormatUserError turns an error into a message for the terminal.
func FormatUserError(err error) string {
	var (
		notFound *gattc.NotFoundError
		status   *gattc.StatusError
		desync   *gattc.DesyncError
	)
	switch {
	case errors.Is(err, goble.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, goble.ErrNoAdapter):
		return "No Bluetooth adapter found. On Linux the command needs CAP_NET_ADMIN or root."
	case errors.Is(err, gattc.ErrTimeout):
		return fmt.Sprintf("the device did not respond in time (%v)", err)
	case errors.Is(err, gattc.ErrConnectionFailed):
		return fmt.Sprintf("could not connect: %v", err)
	case errors.Is(err, gattc.ErrNotConnected), errors.Is(err, gattc.ErrSuperseded), errors.Is(err, goble.ErrNotConnected):
		return fmt.Sprintf("connection lost: %v", err)
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.As(err, &status):
		return fmt.Sprintf("the device rejected the request: %s", status.Status)
	case errors.As(err, &desync):
		return fmt.Sprintf("internal error, BLE state is out of sync: %v", err)
	case errors.Is(err, navigation.ErrHalted):
		return fmt.Sprintf("%v. Restart navble to try again.", err)
	case errors.Is(err, navigation.ErrTargetNotFound):
		return "no phone running the navigation app is advertising nearby"
	default:
		return err.Error()
	}
}
