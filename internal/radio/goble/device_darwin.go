//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"

	"github.com/srg/navble/internal/radio"
)

func newPlatformDevice() (ble.Device, error) {
	return darwin.NewDevice(darwin.OptCentralRole())
}

func newPeerAddr(_ radio.AddrType, a radio.Address) ble.Addr {
	return ble.NewAddr(a.String())
}
