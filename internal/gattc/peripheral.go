package gattc

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/srg/navble/internal/radio"
)

// Peripheral is a connected device. Each successful connect creates a new
// Peripheral; when the stack hands its handle to a later connection the old
// object is marked superseded and all its operations fail.
type Peripheral struct {
	client   *Client
	conn     radio.ConnHandle
	addr     radio.Address
	addrType radio.AddrType
	cache    *Cache

	connected  atomic.Bool
	superseded atomic.Bool

	services discovery[*Service]
}

func newPeripheral(c *Client, conn radio.ConnHandle, addrType radio.AddrType, addr radio.Address) *Peripheral {
	p := &Peripheral{
		client:   c,
		conn:     conn,
		addr:     addr,
		addrType: addrType,
		cache:    &Cache{},
	}
	p.connected.Store(true)
	return p
}

func (p *Peripheral) Conn() radio.ConnHandle   { return p.conn }
func (p *Peripheral) Addr() radio.Address      { return p.addr }
func (p *Peripheral) AddrType() radio.AddrType { return p.addrType }

// Connected reports whether no disconnect was seen for the connection yet.
func (p *Peripheral) Connected() bool { return p.connected.Load() && !p.superseded.Load() }

// Superseded reports whether the connection handle was reused by a later connection.
func (p *Peripheral) Superseded() bool { return p.superseded.Load() }

func (p *Peripheral) String() string {
	return fmt.Sprintf("peripheral %s (conn %d)", p.addr, p.conn)
}

// Services returns the discovered services, or nil before discovery.
func (p *Peripheral) Services() []*Service {
	svcs, _ := p.services.cached()
	return svcs
}

func (p *Peripheral) markDisconnected() { p.connected.Store(false) }

func (p *Peripheral) supersede() {
	p.superseded.Store(true)
	p.connected.Store(false)
}

// usable fails when the connection is gone.
func (p *Peripheral) usable() error {
	if p.superseded.Load() {
		return &ConnectionError{State: Superseded, Msg: fmt.Sprintf("connection %d of %s was reused", p.conn, p.addr)}
	}
	if !p.connected.Load() {
		return &ConnectionError{State: NotConnected, Msg: p.String()}
	}
	return nil
}

// Connect returns p when it is still connected, otherwise it connects to the
// same address again and returns the new Peripheral.
func (p *Peripheral) Connect(ctx context.Context) (*Peripheral, error) {
	if p.usable() == nil {
		return p, nil
	}
	return p.client.Connect(ctx, p.addrType, p.addr)
}

// Disconnect closes the connection. Disconnecting a disconnected peripheral
// is a no-op.
func (p *Peripheral) Disconnect(ctx context.Context) error {
	if p.superseded.Load() {
		return p.usable()
	}
	if !p.connected.Load() {
		return nil
	}
	return p.client.run(ctx, expectation{proc: procDisconnect, conn: p.conn}, p.cache, p.client.timeout, func() error {
		return p.client.stack.Disconnect(p.conn)
	})
}

// DiscoverServices runs service discovery and replaces the cached services.
func (p *Peripheral) DiscoverServices(ctx context.Context) ([]*Service, error) {
	return p.services.load(ctx, true, p.discoverServices)
}

// GetService returns the services with the given UUID, discovering them
// first when needed or when rediscover is set.
func (p *Peripheral) GetService(ctx context.Context, uuid ble.UUID, rediscover bool) ([]*Service, error) {
	if err := p.usable(); err != nil {
		return nil, err
	}
	svcs, err := p.services.load(ctx, rediscover, p.discoverServices)
	if err != nil {
		return nil, err
	}
	return matching(svcs, uuid, "service", p.String())
}

func (p *Peripheral) discoverServices(ctx context.Context) ([]*Service, error) {
	err := p.procedure(ctx, expectation{proc: procServices, conn: p.conn}, func() error {
		return p.client.stack.DiscoverServices(p.conn)
	})
	if err != nil {
		return nil, err
	}
	return snapshot[*Service](p.cache), nil
}

// procedure runs a connection-scoped procedure and checks its outcome: the
// connection must have survived and a done status must be success.
func (p *Peripheral) procedure(ctx context.Context, exp expectation, trigger func() error) error {
	if err := p.usable(); err != nil {
		return err
	}
	if err := p.client.run(ctx, exp, p.cache, p.client.timeout, trigger); err != nil {
		return err
	}
	if err := p.usable(); err != nil {
		return err
	}
	if exp.proc == procRead {
		return nil
	}
	status, ok := lastStatus(p.cache)
	if !ok {
		return fmt.Errorf("%s on %s: no completion status", exp.proc, p)
	}
	if !status.OK() && exp.proc != procWrite {
		return &StatusError{Op: exp.proc.String(), Status: status}
	}
	return nil
}
