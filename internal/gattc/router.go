package gattc

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/srg/navble/internal/radio"
)

type procedure int

const (
	procNone procedure = iota
	procScan
	procConnect
	procDisconnect
	procServices
	procCharacteristics
	procDescriptors
	procRead
	procWrite
)

func (p procedure) String() string {
	switch p {
	case procScan:
		return "scan"
	case procConnect:
		return "connect"
	case procDisconnect:
		return "disconnect"
	case procServices:
		return "service discovery"
	case procCharacteristics:
		return "characteristic discovery"
	case procDescriptors:
		return "descriptor discovery"
	case procRead:
		return "read"
	case procWrite:
		return "write"
	default:
		return "none"
	}
}

// expectation describes the outstanding procedure. Events that do not
// belong to it are stale leftovers of a procedure that timed out.
type expectation struct {
	proc   procedure
	conn   radio.ConnHandle
	handle uint16
	addr   radio.Address
}

func (e expectation) onConnection(conn radio.ConnHandle) bool {
	switch e.proc {
	case procDisconnect, procServices, procCharacteristics, procDescriptors, procRead, procWrite:
		return e.conn == conn
	default:
		return false
	}
}

func (e expectation) expects(proc procedure, conn radio.ConnHandle) bool {
	return e.proc == proc && e.conn == conn
}

func isDesync(err error) bool {
	var desync *DesyncError
	return errors.As(err, &desync)
}

// route applies one radio event to the client state. It runs on the
// client's goroutine only.
func (c *Client) route(e radio.Event) error {
	if c.logger.IsLevelEnabled(logrus.TraceLevel) {
		c.logger.WithFields(logrus.Fields{
			"event":   radio.EventName(e),
			"pending": c.pending.proc,
		}).Trace("Routing radio event")
	}

	switch ev := e.(type) {
	case radio.ScanResult:
		if c.pending.proc != procScan {
			return nil
		}
		c.scan.add(ScanResult{
			Addr:        ev.Addr,
			AddrType:    ev.AddrType,
			Connectable: ev.Connectable,
			RSSI:        ev.RSSI,
			Data:        append([]byte(nil), ev.Data...),
		})

	case radio.ScanDone:
		if c.pending.proc == procScan {
			c.gate.SetClear()
		}

	case radio.PeripheralConnect:
		c.connected(ev)

	case radio.PeripheralDisconnect:
		return c.disconnected(ev)

	case radio.ServiceResult:
		p, err := c.tracked(ev)
		if err != nil {
			return err
		}
		if c.pending.expects(procServices, ev.Conn) {
			p.cache.Append(newService(p, ev))
		}

	case radio.CharacteristicResult:
		p, err := c.tracked(ev)
		if err != nil {
			return err
		}
		if c.pending.expects(procCharacteristics, ev.Conn) {
			p.cache.Append(newCharacteristic(p, ev))
		}

	case radio.DescriptorResult:
		p, err := c.tracked(ev)
		if err != nil {
			return err
		}
		if c.pending.expects(procDescriptors, ev.Conn) {
			p.cache.Append(newDescriptor(p, ev))
		}

	case radio.ServiceDone:
		return c.complete(ev, procServices, ev.Status)
	case radio.CharacteristicDone:
		return c.complete(ev, procCharacteristics, ev.Status)
	case radio.DescriptorDone:
		return c.complete(ev, procDescriptors, ev.Status)

	case radio.ReadResult:
		p, err := c.tracked(ev)
		if err != nil {
			return err
		}
		if c.pending.expects(procRead, ev.Conn) && c.pending.handle == ev.Handle {
			p.cache.Append(append([]byte{}, ev.Data...))
		}

	case radio.ReadDone:
		if c.pending.handle != ev.Handle && c.pending.proc == procRead {
			c.logger.WithField("handle", ev.Handle).Debug("Ignoring read completion for another attribute")
			_, err := c.tracked(ev)
			return err
		}
		return c.complete(ev, procRead, ev.Status)

	case radio.WriteDone:
		if c.pending.handle != ev.Handle && c.pending.proc == procWrite {
			c.logger.WithField("handle", ev.Handle).Debug("Ignoring write completion for another attribute")
			_, err := c.tracked(ev)
			return err
		}
		return c.complete(ev, procWrite, ev.Status)

	case radio.Notify:
		if _, err := c.tracked(ev); err != nil {
			return err
		}
		if fn := c.notifyCallback(); fn != nil {
			fn(ev.Conn, ev.ValueHandle, ev.Data)
		}
	}
	return nil
}

// tracked returns the peripheral of a connection-scoped event.
func (c *Client) tracked(ev radio.ConnEvent) (*Peripheral, error) {
	p, ok := c.conns.Get(ev.Connection())
	if !ok {
		return nil, &DesyncError{Event: radio.EventName(ev), Conn: ev.Connection()}
	}
	return p, nil
}

// complete records the status of a done event and clears the gate when the
// event finishes the outstanding procedure.
func (c *Client) complete(ev radio.ConnEvent, proc procedure, status radio.Status) error {
	p, err := c.tracked(ev)
	if err != nil {
		return err
	}
	if !c.pending.expects(proc, ev.Connection()) {
		c.logger.WithFields(logrus.Fields{
			"event": radio.EventName(ev),
			"conn":  ev.Connection(),
		}).Debug("Ignoring stale completion")
		return nil
	}
	p.cache.Append(status)
	c.gate.SetClear()
	return nil
}

func (c *Client) connected(ev radio.PeripheralConnect) {
	if old, ok := c.conns.Get(ev.Conn); ok && !old.Superseded() {
		old.supersede()
		c.logger.WithFields(logrus.Fields{
			"conn":     ev.Conn,
			"old_addr": old.addr,
			"new_addr": ev.Addr,
		}).Warn("Connection handle reused, previous peripheral superseded")
	}

	p := newPeripheral(c, ev.Conn, ev.AddrType, ev.Addr)
	c.conns.Set(ev.Conn, p)

	if c.pending.proc == procConnect && c.pending.addr == ev.Addr {
		c.lastConnected = p
		c.gate.SetClear()
		return
	}
	c.logger.WithFields(logrus.Fields{
		"conn": ev.Conn,
		"addr": ev.Addr,
	}).Warn("Unsolicited connection")
}

func (c *Client) disconnected(ev radio.PeripheralDisconnect) error {
	if ev.Conn == radio.InvalidHandle {
		c.logger.WithField("addr", ev.Addr).Warn("Connection attempt failed")
		if c.pending.proc == procConnect {
			c.lastConnected = nil
			c.gate.SetClear()
		}
		return nil
	}

	p, ok := c.conns.Get(ev.Conn)
	if !ok {
		return &DesyncError{Event: radio.EventName(ev), Conn: ev.Conn}
	}
	p.markDisconnected()
	c.logger.WithFields(logrus.Fields{
		"conn": ev.Conn,
		"addr": p.addr,
	}).Info("Disconnected")

	if c.pending.onConnection(ev.Conn) {
		c.gate.SetClear()
	}
	return nil
}
