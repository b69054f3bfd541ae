// Package goble implements radio.Stack on top of github.com/go-ble/ble.
//
// go-ble exposes a blocking GATT client. Every trigger starts the blocking
// call on a named goroutine and reports the outcome through the event handler,
// which is the asynchronous contract the synchronous client layer expects.
package goble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/navble/internal/groutine"
	"github.com/srg/navble/internal/radio"
)

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 10 * time.Second

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = newPlatformDevice

// gattClient is the part of ble.Client the stack drives.
type gattClient interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	ReadDescriptor(d *ble.Descriptor) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	WriteDescriptor(d *ble.Descriptor, value []byte) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// transport is the part of ble.Device the stack drives.
type transport interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (gattClient, error)
	Stop() error
}

type deviceTransport struct {
	dev ble.Device
}

func (t deviceTransport) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return t.dev.Scan(ctx, allowDup, h)
}

func (t deviceTransport) Dial(ctx context.Context, a ble.Addr) (gattClient, error) {
	client, err := t.dev.Dial(ctx, a)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (t deviceTransport) Stop() error {
	return t.dev.Stop()
}

func newDeviceTransport() (transport, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	return deviceTransport{dev: dev}, nil
}

// Option configures a Stack.
type Option func(*Stack)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Stack) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDialTimeout bounds each connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Stack) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

// Stack is a radio.Stack backed by the platform go-ble device.
type Stack struct {
	logger       *logrus.Logger
	dialTimeout  time.Duration
	newTransport func() (transport, error)

	mu         sync.Mutex
	handler    func(radio.Event)
	tr         transport
	ctx        context.Context
	cancel     context.CancelFunc
	scanCancel context.CancelFunc
	scanSeq    uint64
	conns      map[radio.ConnHandle]*connection
	lastHandle radio.ConnHandle

	// go-ble reports platform addresses as strings. Darwin reports opaque
	// identifiers which get a locally assigned static random address.
	peers     map[radio.Address]ble.Addr
	aliases   map[string]radio.Address
	nextAlias uint32
}

var _ radio.Stack = (*Stack)(nil)

// New creates an inactive stack. The platform device is opened by Active(true).
func New(opts ...Option) *Stack {
	s := &Stack{
		logger:       logrus.New(),
		dialTimeout:  DefaultDialTimeout,
		newTransport: newDeviceTransport,
		ctx:          context.Background(),
		conns:        make(map[radio.ConnHandle]*connection),
		peers:        make(map[radio.Address]ble.Addr),
		aliases:      make(map[string]radio.Address),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type descriptor struct {
	desc  *ble.Descriptor
	owner *ble.Characteristic
	cccd  uint16
}

type connection struct {
	handle   radio.ConnHandle
	addr     radio.Address
	addrType radio.AddrType
	client   gattClient
	gone     sync.Once

	// proc serializes GATT procedures so results of one procedure are never
	// interleaved with another on the same link.
	proc sync.Mutex

	mu       sync.Mutex
	services map[uint16]*ble.Service
	chars    map[uint16]*ble.Characteristic
	values   map[uint16]*ble.Characteristic
	descs    map[uint16]*descriptor
}

// SetHandler installs the event sink. Events without a sink are dropped.
func (s *Stack) SetHandler(h func(radio.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Active opens or closes the platform device. Closing cancels the running
// scan and tears down every connection.
func (s *Stack) Active(on bool) error {
	if on {
		return s.activate()
	}
	return s.deactivate()
}

func (s *Stack) activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr != nil {
		return nil
	}

	tr, err := s.newTransport()
	if err != nil {
		err = NormalizeError(err)
		s.logger.WithField("error", err).Error("Failed to open BLE device")
		return fmt.Errorf("failed to open BLE device: %w", err)
	}
	s.tr = tr
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.logger.Debug("BLE stack activated")
	return nil
}

func (s *Stack) deactivate() error {
	s.mu.Lock()
	tr := s.tr
	if tr == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.tr = nil
	s.scanCancel = nil
	conns := make([]*connection, 0, len(s.conns))
	for h, c := range s.conns {
		conns = append(conns, c)
		delete(s.conns, h)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.client.CancelConnection(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"conn":  c.handle,
				"error": err,
			}).Warn("Failed to cancel connection during shutdown")
		}
		s.dropped(c)
	}

	if err := NormalizeError(tr.Stop()); err != nil {
		return fmt.Errorf("failed to stop BLE device: %w", err)
	}
	s.logger.Debug("BLE stack deactivated")
	return nil
}

// Scan starts a scan for d. A running scan is replaced; only the latest scan
// reports ScanDone.
func (s *Stack) Scan(d time.Duration) error {
	s.mu.Lock()
	if s.tr == nil {
		s.mu.Unlock()
		return ErrInactive
	}
	if s.scanCancel != nil {
		s.scanCancel()
	}
	ctx, cancel := context.WithTimeout(s.ctx, d)
	s.scanCancel = cancel
	s.scanSeq++
	seq := s.scanSeq
	tr := s.tr
	s.mu.Unlock()

	s.logger.WithField("duration", d).Debug("Starting scan")
	groutine.Go(ctx, "goble-scan", func(ctx context.Context) {
		defer cancel()
		err := tr.Scan(ctx, true, func(adv ble.Advertisement) { s.handleAdvertisement(adv) })
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			s.logger.WithField("error", NormalizeError(err)).Warn("Scan ended with error")
		}

		s.mu.Lock()
		current := s.scanSeq == seq
		if current {
			s.scanCancel = nil
		}
		s.mu.Unlock()
		if current {
			s.emit(radio.ScanDone{})
		}
	})
	return nil
}

// addressTyper is implemented by advertisements that carry the advertiser's
// address type, where 1 is a random address.
type addressTyper interface {
	AddressType() uint8
}

func advertisedAddrType(adv Advertisement) radio.AddrType {
	if at, ok := adv.(addressTyper); ok && at.AddressType() == 1 {
		return radio.AddrRandom
	}
	return radio.AddrPublic
}

func (s *Stack) handleAdvertisement(adv Advertisement) {
	addr, addrType := s.resolve(adv.Addr(), advertisedAddrType(adv))
	s.emit(radio.ScanResult{
		AddrType:    addrType,
		Addr:        addr,
		Connectable: adv.Connectable(),
		RSSI:        clampRSSI(adv.RSSI()),
		Data:        EncodeAdvertisement(adv),
	})
}

// resolve maps a platform address to a radio address. Platform identifiers
// that are not addresses get a local random alias.
func (s *Stack) resolve(a ble.Addr, t radio.AddrType) (radio.Address, radio.AddrType) {
	str := a.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if addr, err := radio.ParseAddress(str); err == nil {
		s.peers[addr] = a
		return addr, t
	}
	if addr, ok := s.aliases[str]; ok {
		return addr, radio.AddrRandom
	}
	s.nextAlias++
	n := s.nextAlias
	addr := radio.Address{0xc0, 0x00, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	s.aliases[str] = addr
	s.peers[addr] = a
	s.logger.WithFields(logrus.Fields{
		"platform_addr": str,
		"addr":          addr,
	}).Debug("Assigned local address to platform identifier")
	return addr, radio.AddrRandom
}

// Connect dials the peripheral. Failure is reported as a PeripheralDisconnect
// carrying radio.InvalidHandle.
func (s *Stack) Connect(t radio.AddrType, a radio.Address) error {
	s.mu.Lock()
	tr, ctx := s.tr, s.ctx
	peer, ok := s.peers[a]
	s.mu.Unlock()
	if tr == nil {
		return ErrInactive
	}
	if !ok {
		peer = newPeerAddr(t, a)
	}

	s.logger.WithFields(logrus.Fields{
		"addr":    a,
		"timeout": s.dialTimeout,
	}).Info("Connecting to BLE device...")
	groutine.Go(ctx, "goble-dial", func(ctx context.Context) {
		dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
		defer cancel()

		client, err := tr.Dial(dialCtx, peer)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"addr":  a,
				"error": NormalizeError(err),
			}).Warn("Failed to dial BLE device")
			s.emit(radio.PeripheralDisconnect{Conn: radio.InvalidHandle, AddrType: t, Addr: a})
			return
		}

		c, ok := s.register(client, t, a)
		if !ok {
			_ = client.CancelConnection()
			return
		}
		s.emit(radio.PeripheralConnect{Conn: c.handle, AddrType: t, Addr: a})

		groutine.Go(ctx, "goble-link", func(ctx context.Context) {
			select {
			case <-client.Disconnected():
				s.logger.WithField("conn", c.handle).Info("Link lost")
				s.drop(c)
			case <-ctx.Done():
			}
		})
	})
	return nil
}

func (s *Stack) register(client gattClient, t radio.AddrType, a radio.Address) (*connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		return nil, false
	}

	h := s.lastHandle
	for {
		h++
		if h == radio.InvalidHandle || h == 0 {
			continue
		}
		if _, used := s.conns[h]; !used {
			break
		}
	}
	s.lastHandle = h

	c := &connection{
		handle:   h,
		addr:     a,
		addrType: t,
		client:   client,
		services: make(map[uint16]*ble.Service),
		chars:    make(map[uint16]*ble.Characteristic),
		values:   make(map[uint16]*ble.Characteristic),
		descs:    make(map[uint16]*descriptor),
	}
	s.conns[h] = c
	return c, true
}

// drop forgets the connection and reports its disconnection once.
func (s *Stack) drop(c *connection) {
	s.mu.Lock()
	if cur, ok := s.conns[c.handle]; ok && cur == c {
		delete(s.conns, c.handle)
	}
	s.mu.Unlock()
	s.dropped(c)
}

func (s *Stack) dropped(c *connection) {
	c.gone.Do(func() {
		s.emit(radio.PeripheralDisconnect{Conn: c.handle, AddrType: c.addrType, Addr: c.addr})
	})
}

// Disconnect cancels the connection.
func (s *Stack) Disconnect(h radio.ConnHandle) error {
	c, err := s.lookup(h)
	if err != nil {
		return err
	}
	s.spawn("goble-disconnect", func() {
		if err := c.client.CancelConnection(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"conn":  h,
				"error": NormalizeError(err),
			}).Warn("Failed to cancel connection")
		}
		s.drop(c)
	})
	return nil
}

// DiscoverServices discovers all primary services.
func (s *Stack) DiscoverServices(h radio.ConnHandle) error {
	c, err := s.lookup(h)
	if err != nil {
		return err
	}
	s.spawn("goble-discover-services", func() {
		c.proc.Lock()
		defer c.proc.Unlock()

		svcs, err := c.client.DiscoverServices(nil)
		for _, svc := range svcs {
			c.mu.Lock()
			c.services[svc.Handle] = svc
			c.mu.Unlock()
			s.emit(radio.ServiceResult{Conn: h, Start: svc.Handle, End: svc.EndHandle, UUID: copyUUID(svc.UUID)})
		}
		s.logProcedure(h, "service discovery", err)
		s.emit(radio.ServiceDone{Conn: h, Status: statusOf(err)})
	})
	return nil
}

// DiscoverCharacteristics discovers the characteristics of the service
// spanning [start, end].
func (s *Stack) DiscoverCharacteristics(h radio.ConnHandle, start, end uint16) error {
	c, err := s.lookup(h)
	if err != nil {
		return err
	}
	svc := c.service(start, end)
	if svc == nil {
		return fmt.Errorf("%w: no service at 0x%04x..0x%04x", radio.ErrUnknownHandle, start, end)
	}
	s.spawn("goble-discover-characteristics", func() {
		c.proc.Lock()
		defer c.proc.Unlock()

		chars, err := c.client.DiscoverCharacteristics(nil, svc)
		for _, ch := range chars {
			c.mu.Lock()
			c.chars[ch.Handle] = ch
			c.values[ch.ValueHandle] = ch
			c.mu.Unlock()
			s.emit(radio.CharacteristicResult{
				Conn:        h,
				DefHandle:   ch.Handle,
				ValueHandle: ch.ValueHandle,
				Properties:  ch.Property,
				UUID:        copyUUID(ch.UUID),
			})
		}
		s.logProcedure(h, "characteristic discovery", err)
		s.emit(radio.CharacteristicDone{Conn: h, Status: statusOf(err)})
	})
	return nil
}

// DiscoverDescriptors discovers the descriptors of the characteristic that
// owns [start, end]. Only descriptors inside the range are reported.
func (s *Stack) DiscoverDescriptors(h radio.ConnHandle, start, end uint16) error {
	c, err := s.lookup(h)
	if err != nil {
		return err
	}
	ch := c.characteristic(start, end)
	if ch == nil {
		return fmt.Errorf("%w: no characteristic at 0x%04x..0x%04x", radio.ErrUnknownHandle, start, end)
	}
	s.spawn("goble-discover-descriptors", func() {
		c.proc.Lock()
		defer c.proc.Unlock()

		descs, err := c.client.DiscoverDescriptors(nil, ch)
		for _, d := range descs {
			if d.Handle < start || d.Handle > end {
				continue
			}
			c.mu.Lock()
			if _, known := c.descs[d.Handle]; !known {
				c.descs[d.Handle] = &descriptor{desc: d, owner: ch}
			}
			c.mu.Unlock()
			s.emit(radio.DescriptorResult{Conn: h, Handle: d.Handle, UUID: copyUUID(d.UUID)})
		}
		s.logProcedure(h, "descriptor discovery", err)
		s.emit(radio.DescriptorDone{Conn: h, Status: statusOf(err)})
	})
	return nil
}

// Read reads a characteristic value or a descriptor.
//
// The CCCD is answered from the subscription state the stack maintains,
// since go-ble owns the descriptor on platforms that manage subscriptions.
func (s *Stack) Read(h radio.ConnHandle, handle uint16) error {
	c, err := s.lookup(h)
	if err != nil {
		return err
	}
	ch, d := c.attribute(handle)
	switch {
	case ch != nil:
		s.spawn("goble-read", func() {
			c.proc.Lock()
			defer c.proc.Unlock()
			data, err := c.client.ReadCharacteristic(ch)
			s.completeRead(h, handle, data, err)
		})
	case d != nil && d.desc.UUID.Equal(radio.CCCDUUID):
		s.spawn("goble-read", func() {
			c.mu.Lock()
			value := make([]byte, 2)
			binary.LittleEndian.PutUint16(value, d.cccd)
			c.mu.Unlock()
			s.completeRead(h, handle, value, nil)
		})
	case d != nil:
		s.spawn("goble-read", func() {
			c.proc.Lock()
			defer c.proc.Unlock()
			data, err := c.client.ReadDescriptor(d.desc)
			s.completeRead(h, handle, data, err)
		})
	default:
		return fmt.Errorf("%w: attribute 0x%04x", radio.ErrUnknownHandle, handle)
	}
	return nil
}

func (s *Stack) completeRead(h radio.ConnHandle, handle uint16, data []byte, err error) {
	s.logProcedure(h, "read", err)
	if err == nil {
		s.emit(radio.ReadResult{Conn: h, Handle: handle, Data: append([]byte(nil), data...)})
	}
	s.emit(radio.ReadDone{Conn: h, Handle: handle, Status: statusOf(err)})
}

// Write writes a characteristic value or a descriptor. A write to the CCCD
// is translated into a go-ble subscription change, notifications are then
// reported as radio.Notify events.
func (s *Stack) Write(h radio.ConnHandle, handle uint16, data []byte, withResponse bool) error {
	c, err := s.lookup(h)
	if err != nil {
		return err
	}
	ch, d := c.attribute(handle)
	value := append([]byte(nil), data...)

	var op func() error
	switch {
	case ch != nil:
		op = func() error { return c.client.WriteCharacteristic(ch, value, !withResponse) }
	case d != nil && d.desc.UUID.Equal(radio.CCCDUUID):
		op = func() error { return s.configure(c, d, value) }
	case d != nil:
		op = func() error { return c.client.WriteDescriptor(d.desc, value) }
	default:
		return fmt.Errorf("%w: attribute 0x%04x", radio.ErrUnknownHandle, handle)
	}

	s.spawn("goble-write", func() {
		c.proc.Lock()
		err := NormalizeError(op())
		c.proc.Unlock()

		s.logProcedure(h, "write", err)
		if withResponse {
			s.emit(radio.WriteDone{Conn: h, Handle: handle, Status: statusOf(err)})
		}
	})
	return nil
}

// configure applies a CCCD value: bit 0 enables notifications, bit 1
// indications.
func (s *Stack) configure(c *connection, d *descriptor, value []byte) error {
	var cfg uint16
	switch {
	case len(value) >= 2:
		cfg = binary.LittleEndian.Uint16(value)
	case len(value) == 1:
		cfg = uint16(value[0])
	}

	c.mu.Lock()
	prev := d.cccd
	c.mu.Unlock()

	var err error
	switch {
	case cfg&0x3 == 0:
		if prev&0x1 != 0 {
			err = errors.Join(err, c.client.Unsubscribe(d.owner, false))
		}
		if prev&0x2 != 0 {
			err = errors.Join(err, c.client.Unsubscribe(d.owner, true))
		}
	default:
		indicate := cfg&0x1 == 0
		err = c.client.Subscribe(d.owner, indicate, s.notifier(c.handle, d.owner.ValueHandle))
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	d.cccd = cfg
	c.mu.Unlock()
	return nil
}

func (s *Stack) notifier(h radio.ConnHandle, valueHandle uint16) ble.NotificationHandler {
	return func(data []byte) {
		s.emit(radio.Notify{Conn: h, ValueHandle: valueHandle, Data: append([]byte(nil), data...)})
	}
}

func (s *Stack) lookup(h radio.ConnHandle) (*connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		return nil, ErrInactive
	}
	c, ok := s.conns[h]
	if !ok {
		return nil, fmt.Errorf("%w: connection %d", radio.ErrUnknownHandle, h)
	}
	return c, nil
}

func (s *Stack) spawn(name string, fn func()) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	groutine.Go(ctx, name, func(context.Context) { fn() })
}

func (s *Stack) emit(e radio.Event) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		s.logger.WithField("event", radio.EventName(e)).Debug("Dropping event, no handler installed")
		return
	}
	h(e)
}

func (s *Stack) logProcedure(h radio.ConnHandle, what string, err error) {
	if err == nil {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"conn":  h,
		"error": err,
	}).Warnf("GATT %s failed", what)
}

func (c *connection) service(start, end uint16) *ble.Service {
	c.mu.Lock()
	defer c.mu.Unlock()
	if svc, ok := c.services[start]; ok {
		return svc
	}
	for _, svc := range c.services {
		if svc.Handle <= start && end <= svc.EndHandle {
			return svc
		}
	}
	return nil
}

func (c *connection) characteristic(start, end uint16) *ble.Characteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.chars[start]; ok {
		return ch
	}
	for _, ch := range c.chars {
		if ch.ValueHandle >= start && ch.ValueHandle <= end {
			return ch
		}
	}
	return nil
}

func (c *connection) attribute(handle uint16) (*ble.Characteristic, *descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.values[handle]; ok {
		return ch, nil
	}
	if d, ok := c.descs[handle]; ok {
		return nil, d
	}
	return nil, nil
}

func copyUUID(u ble.UUID) ble.UUID {
	return append(ble.UUID(nil), u...)
}

func clampRSSI(rssi int) int8 {
	switch {
	case rssi < -128:
		return -128
	case rssi > 127:
		return 127
	default:
		return int8(rssi)
	}
}
