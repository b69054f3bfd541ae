// Package radio defines the boundary between the synchronous GATT client and
// an asynchronous BLE radio stack: addresses, advertising payloads, the closed
// set of stack events and the imperative trigger functions.
package radio

import (
	"errors"
	"time"

	"github.com/go-ble/ble"
)

// ErrUnknownHandle is returned by stacks when a trigger references a
// connection or attribute handle they do not know.
var ErrUnknownHandle = errors.New("unknown handle")

// CCCDUUID is the Client Characteristic Configuration descriptor.
var CCCDUUID = ble.UUID16(0x2902)

// Stack is an asynchronous BLE central. Every trigger returns as soon as the
// procedure was started; its outcome is delivered later through the handler
// installed with SetHandler, possibly from another goroutine. A stack may
// also never answer, callers must bound every wait.
type Stack interface {
	SetHandler(h func(Event))
	Active(on bool) error

	Scan(d time.Duration) error
	Connect(t AddrType, a Address) error
	Disconnect(c ConnHandle) error

	DiscoverServices(c ConnHandle) error
	DiscoverCharacteristics(c ConnHandle, start, end uint16) error
	DiscoverDescriptors(c ConnHandle, start, end uint16) error

	Read(c ConnHandle, handle uint16) error
	Write(c ConnHandle, handle uint16, data []byte, withResponse bool) error
}
