//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"

	"github.com/srg/navble/internal/radio"
)

func newPlatformDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: no BLE support on %s", ErrNoAdapter, runtime.GOOS)
}

func newPeerAddr(_ radio.AddrType, a radio.Address) ble.Addr {
	return ble.NewAddr(a.String())
}
