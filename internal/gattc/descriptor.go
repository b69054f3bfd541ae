package gattc

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/navble/internal/radio"
)

// Descriptor is a descriptor of a Characteristic.
type Descriptor struct {
	peripheral     *Peripheral
	characteristic *Characteristic
	handle         uint16
	uuid           ble.UUID
}

func newDescriptor(p *Peripheral, ev radio.DescriptorResult) *Descriptor {
	return &Descriptor{
		peripheral: p,
		handle:     ev.Handle,
		uuid:       append(ble.UUID(nil), ev.UUID...),
	}
}

func (d *Descriptor) UUID() ble.UUID                  { return d.uuid }
func (d *Descriptor) Handle() uint16                  { return d.handle }
func (d *Descriptor) Conn() radio.ConnHandle          { return d.peripheral.conn }
func (d *Descriptor) Characteristic() *Characteristic { return d.characteristic }

func (d *Descriptor) String() string {
	return fmt.Sprintf("descriptor %s (0x%04x)", d.uuid, d.handle)
}

// Read reads the descriptor. ok is false when there is no data.
func (d *Descriptor) Read(ctx context.Context) ([]byte, bool, error) {
	return readAttribute(ctx, d.peripheral, d.handle)
}

// Write writes the descriptor, see Characteristic.Write.
func (d *Descriptor) Write(ctx context.Context, data []byte, mode WriteMode) (radio.Status, bool, error) {
	return writeAttribute(ctx, d.peripheral, d.handle, data, mode)
}
