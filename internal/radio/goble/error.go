package goble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/navble/internal/radio"
)

var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrNoAdapter    = errors.New("no bluetooth adapter")
	ErrNotConnected = errors.New("device not connected")
	ErrInactive     = errors.New("stack is not active")
)

// NormalizeError maps known go-ble error strings to sentinel errors.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "can't init hci"), containsIgnoreCase(msg, "no devices available"):
		return fmt.Errorf("%w: %v", ErrNoAdapter, err)
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}

// statusOf converts the outcome of a go-ble GATT call into an ATT status.
func statusOf(err error) radio.Status {
	if err == nil {
		return radio.StatusSuccess
	}
	var attErr ble.ATTError
	if errors.As(err, &attErr) {
		if attErr == 0 {
			return radio.StatusUnlikelyError
		}
		return radio.Status(attErr)
	}
	return radio.StatusUnlikelyError
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
