//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci"

	"github.com/srg/navble/internal/radio"
)

func newPlatformDevice() (ble.Device, error) {
	return linux.NewDevice()
}

// newPeerAddr builds the dial address for a peer never seen in a scan. The
// HCI layer dials random addresses only when wrapped in hci.RandomAddress.
func newPeerAddr(t radio.AddrType, a radio.Address) ble.Addr {
	addr := ble.NewAddr(a.String())
	if t == radio.AddrRandom {
		return hci.RandomAddress{Addr: addr}
	}
	return addr
}
