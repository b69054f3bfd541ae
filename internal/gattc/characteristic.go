package gattc

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/navble/internal/radio"
)

// WriteMode selects between fire-and-forget and acknowledged writes.
type WriteMode int

const (
	// WriteUnacknowledged issues the write and returns without waiting.
	WriteUnacknowledged WriteMode = iota
	// WriteAcknowledged waits for the peripheral's write response.
	WriteAcknowledged
)

// cccdNotify is the notification enable bit of the CCCD.
const cccdNotify uint16 = 0x0001

// Characteristic is a characteristic of a Service.
type Characteristic struct {
	peripheral  *Peripheral
	service     *Service
	defHandle   uint16
	valueHandle uint16
	properties  ble.Property
	uuid        ble.UUID

	descriptors discovery[*Descriptor]
}

func newCharacteristic(p *Peripheral, ev radio.CharacteristicResult) *Characteristic {
	return &Characteristic{
		peripheral:  p,
		defHandle:   ev.DefHandle,
		valueHandle: ev.ValueHandle,
		properties:  ev.Properties,
		uuid:        append(ble.UUID(nil), ev.UUID...),
	}
}

func (c *Characteristic) UUID() ble.UUID           { return c.uuid }
func (c *Characteristic) DefHandle() uint16        { return c.defHandle }
func (c *Characteristic) ValueHandle() uint16      { return c.valueHandle }
func (c *Characteristic) Properties() ble.Property { return c.properties }
func (c *Characteristic) Conn() radio.ConnHandle   { return c.peripheral.conn }
func (c *Characteristic) Service() *Service        { return c.service }

// Descriptors returns the discovered descriptors, or nil before discovery.
func (c *Characteristic) Descriptors() []*Descriptor {
	descs, _ := c.descriptors.cached()
	return descs
}

func (c *Characteristic) String() string {
	return fmt.Sprintf("characteristic %s (value 0x%04x)", c.uuid, c.valueHandle)
}

// DiscoverDescriptors runs descriptor discovery and replaces the cached descriptors.
func (c *Characteristic) DiscoverDescriptors(ctx context.Context) ([]*Descriptor, error) {
	return c.descriptors.load(ctx, true, c.discoverDescriptors)
}

// GetDescriptor returns the descriptors with the given UUID, discovering
// them first when needed or when rediscover is set.
func (c *Characteristic) GetDescriptor(ctx context.Context, uuid ble.UUID, rediscover bool) ([]*Descriptor, error) {
	if err := c.peripheral.usable(); err != nil {
		return nil, err
	}
	descs, err := c.descriptors.load(ctx, rediscover, c.discoverDescriptors)
	if err != nil {
		return nil, err
	}
	return matching(descs, uuid, "descriptor", c.String())
}

// discoverDescriptors searches from the declaration up to the handle right
// after the value, where the CCCD lives.
func (c *Characteristic) discoverDescriptors(ctx context.Context) ([]*Descriptor, error) {
	p := c.peripheral
	err := p.procedure(ctx, expectation{proc: procDescriptors, conn: p.conn}, func() error {
		return p.client.stack.DiscoverDescriptors(p.conn, c.defHandle, c.valueHandle+1)
	})
	if err != nil {
		return nil, err
	}
	descs := snapshot[*Descriptor](p.cache)
	for _, d := range descs {
		d.characteristic = c
	}
	return descs, nil
}

// Read reads the value. ok is false when the peripheral answered with a
// failure status: there is no data, which is not an error.
func (c *Characteristic) Read(ctx context.Context) (data []byte, ok bool, err error) {
	return readAttribute(ctx, c.peripheral, c.valueHandle)
}

// Write writes the value. Unacknowledged writes return (0, false, nil) once
// issued. Acknowledged writes return the peripheral's status and true.
func (c *Characteristic) Write(ctx context.Context, data []byte, mode WriteMode) (radio.Status, bool, error) {
	return writeAttribute(ctx, c.peripheral, c.valueHandle, data, mode)
}

// RegisterNotify enables notifications by setting bit 0 of the CCCD.
func (c *Characteristic) RegisterNotify(ctx context.Context) error {
	return c.configure(ctx, "register notify", func(v uint16) uint16 { return v | cccdNotify })
}

// UnregisterNotify disables notifications by clearing bit 0 of the CCCD.
func (c *Characteristic) UnregisterNotify(ctx context.Context) error {
	return c.configure(ctx, "unregister notify", func(v uint16) uint16 { return v &^ cccdNotify })
}

// configure rewrites the CCCD. A CCCD read without data counts as 0x0000.
func (c *Characteristic) configure(ctx context.Context, op string, update func(uint16) uint16) error {
	descs, err := c.GetDescriptor(ctx, radio.CCCDUUID, false)
	if err != nil {
		return err
	}
	cccd := descs[0]

	current, ok, err := cccd.Read(ctx)
	if err != nil {
		return err
	}
	var value uint16
	switch {
	case ok && len(current) >= 2:
		value = binary.LittleEndian.Uint16(current)
	case ok && len(current) == 1:
		value = uint16(current[0])
	}

	next := make([]byte, 2)
	binary.LittleEndian.PutUint16(next, update(value))
	status, _, err := cccd.Write(ctx, next, WriteAcknowledged)
	if err != nil {
		return err
	}
	if !status.OK() {
		return &StatusError{Op: op, Status: status}
	}

	c.peripheral.client.logger.WithFields(logrus.Fields{
		"conn":           c.peripheral.conn,
		"characteristic": c.uuid.String(),
		"cccd":           fmt.Sprintf("0x%04x", binary.LittleEndian.Uint16(next)),
	}).Debug("Client characteristic configuration updated")
	return nil
}

func readAttribute(ctx context.Context, p *Peripheral, handle uint16) ([]byte, bool, error) {
	err := p.procedure(ctx, expectation{proc: procRead, conn: p.conn, handle: handle}, func() error {
		return p.client.stack.Read(p.conn, handle)
	})
	if err != nil {
		return nil, false, err
	}
	data, ok := readOutcome(p.cache)
	return data, ok, nil
}

func writeAttribute(ctx context.Context, p *Peripheral, handle uint16, data []byte, mode WriteMode) (radio.Status, bool, error) {
	if mode == WriteUnacknowledged {
		if err := p.usable(); err != nil {
			return 0, false, err
		}
		if p.client.closed {
			return 0, false, ErrClosed
		}
		if err := p.client.stack.Write(p.conn, handle, data, false); err != nil {
			return 0, false, fmt.Errorf("failed to start write: %w", err)
		}
		return 0, false, nil
	}

	err := p.procedure(ctx, expectation{proc: procWrite, conn: p.conn, handle: handle}, func() error {
		return p.client.stack.Write(p.conn, handle, data, true)
	})
	if err != nil {
		return 0, false, err
	}
	status, _ := lastStatus(p.cache)
	return status, true, nil
}
