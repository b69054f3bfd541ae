package gattc

import (
	"context"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/navble/internal/radio"
	"github.com/srg/navble/internal/radio/radiotest"
)

const (
	navAddr     = "c0:ff:ee:00:00:01"
	otherAddr   = "c0:ff:ee:00:00:02"
	navService  = "71c1e128-d92f-4fa8-a2b2-0f171db3436c"
	navChar     = "503dd605-9bcb-4f6e-b235-270a57483026"
	batteryChar = "2a19"
	nameChar    = "2a00"
	gapService  = "1800"
)

// ClientTestSuite drives the client against the simulated radio stack.
type ClientTestSuite struct {
	suite.Suite

	ctx   context.Context
	nav   *radiotest.Peripheral
	other *radiotest.Peripheral
	stack *radiotest.Stack
	c     *Client
}

func (s *ClientTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.nav = radiotest.NewPeripheralBuilder(navAddr).
		WithName("navigator").
		WithService(gapService).
		WithCharacteristic(nameChar, "read", []byte("navigator")).
		WithService(navService).
		WithCharacteristic(navChar, "read,write,writenr,notify", []byte{0x01, 0x02}).
		WithCharacteristic(batteryChar, "read", []byte{0x64}).
		WithReadStatus(radio.StatusReadNotPermitted).
		Build()
	s.other = radiotest.NewPeripheralBuilder(otherAddr).
		WithName("other").
		WithRSSI(-70).
		Build()
	s.stack = radiotest.NewStack(s.nav, s.other)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	c, err := NewClient(s.stack,
		WithTimeout(500*time.Millisecond),
		WithPollInterval(time.Millisecond),
		WithLogger(logger),
	)
	s.Require().NoError(err)
	s.c = c
}

func (s *ClientTestSuite) TearDownTest() {
	s.NoError(s.c.Close())
}

func (s *ClientTestSuite) connect(addr string) *Peripheral {
	p, err := s.c.Connect(s.ctx, radio.AddrPublic, radio.MustParseAddress(addr))
	s.Require().NoError(err)
	s.Require().NotNil(p)
	return p
}

func (s *ClientTestSuite) navCharacteristic(p *Peripheral) *Characteristic {
	svcs, err := p.GetService(s.ctx, ble.MustParse(navService), false)
	s.Require().NoError(err)
	chars, err := svcs[0].GetCharacteristic(s.ctx, ble.MustParse(navChar), false)
	s.Require().NoError(err)
	return chars[0]
}

func (s *ClientTestSuite) TestScanKeepsFirstSighting() {
	// GOAL: Verify that a scan reports each address once, with its first advertisement
	//
	// TEST SCENARIO: Every peripheral advertises three times with decreasing RSSI → scan → one result per address with the first RSSI

	s.stack.WithDuplicates(2)

	table, err := s.c.Scan(s.ctx, 30*time.Millisecond)
	s.Require().NoError(err)
	s.Require().Equal(2, table.Len(), "scan MUST deduplicate by address")

	results := table.Results()
	byAddr := map[string]ScanResult{}
	for _, r := range results {
		byAddr[r.Address()] = r
	}

	nav, ok := byAddr[navAddr]
	s.Require().True(ok)
	s.Equal(int8(-50), nav.RSSI, "first sighting MUST win")
	s.True(nav.Connectable)

	adv, err := nav.Advertisement()
	s.Require().NoError(err)
	name, ok := adv.Get(radio.ADCompleteLocalName)
	s.True(ok, "complete local name MUST be advertised")
	s.Equal([]byte("navigator"), name)

	other, ok := table.Get(radio.MustParseAddress(otherAddr))
	s.Require().True(ok)
	s.Equal(int8(-70), other.RSSI)
}

func (s *ClientTestSuite) TestConnectAndDiscover() {
	// GOAL: Verify lazy discovery of the whole GATT tree and its caching
	//
	// TEST SCENARIO: Connect → look up service and characteristic twice → each discovery runs once → rediscover runs again

	p := s.connect(navAddr)
	s.True(p.Connected())
	s.Equal(radio.MustParseAddress(navAddr), p.Addr())
	s.Equal([]*Peripheral{p}, s.c.Connections())

	ch := s.navCharacteristic(p)
	s.True(ch.UUID().Equal(ble.MustParse(navChar)))
	s.NotZero(ch.Properties() & ble.CharNotify)
	s.Equal(ch.DefHandle()+1, ch.ValueHandle())
	s.Equal(s.nav.ValueHandle(navChar), ch.ValueHandle())
	s.Require().NotNil(ch.Service())
	s.True(ch.Service().UUID().Equal(ble.MustParse(navService)))

	s.navCharacteristic(p)
	s.Equal(1, s.stack.Calls(radiotest.TriggerDiscoverServices), "services MUST be discovered once")
	s.Equal(1, s.stack.Calls(radiotest.TriggerDiscoverCharacteristics), "characteristics MUST be discovered once")

	s.Len(p.Services(), 2)
	s.Len(ch.Service().Characteristics(), 2)

	svc := ch.Service()
	chars, err := svc.GetCharacteristic(s.ctx, ble.MustParse(batteryChar), true)
	s.Require().NoError(err)
	s.Len(chars, 1)
	s.Equal(2, s.stack.Calls(radiotest.TriggerDiscoverCharacteristics), "rediscover MUST query the characteristics again")
	s.Len(svc.Characteristics(), 2, "rediscovery MUST NOT duplicate characteristics")
	s.NotSame(ch, svc.Characteristics()[0], "rediscovery MUST replace the cached objects")

	first := p.Services()
	again, err := p.GetService(s.ctx, ble.MustParse(gapService), true)
	s.Require().NoError(err)
	s.Len(again, 1)
	s.Equal(2, s.stack.Calls(radiotest.TriggerDiscoverServices), "rediscover MUST query the peripheral again")
	s.NotSame(first[0], p.Services()[0], "rediscovery MUST replace the cached objects")
}

func (s *ClientTestSuite) TestNotFoundIsAnError() {
	// GOAL: Verify that a missing entity is reported as NotFoundError, never as an empty list

	p := s.connect(navAddr)

	svcs, err := p.GetService(s.ctx, ble.UUID16(0x180a), false)
	s.Nil(svcs)
	var notFound *NotFoundError
	s.Require().ErrorAs(err, &notFound)
	s.Equal("service", notFound.Resource)

	svcs, err = p.GetService(s.ctx, ble.MustParse(navService), false)
	s.Require().NoError(err)
	chars, err := svcs[0].GetCharacteristic(s.ctx, ble.UUID16(0x2a37), false)
	s.Nil(chars)
	s.Require().ErrorAs(err, &notFound)
	s.Equal("characteristic", notFound.Resource)

	descs, err := s.navCharacteristic(p).GetDescriptor(s.ctx, ble.UUID16(0x2901), false)
	s.Nil(descs)
	s.Require().ErrorAs(err, &notFound)
	s.Equal("descriptor", notFound.Resource)
	s.True(IsRecoverable(err))
}

func (s *ClientTestSuite) TestEmptyServiceListIsCached() {
	// GOAL: Verify that a peripheral without services is not rediscovered on every lookup

	p := s.connect(otherAddr)

	svcs, err := p.DiscoverServices(s.ctx)
	s.Require().NoError(err)
	s.Empty(svcs)

	_, err = p.GetService(s.ctx, ble.UUID16(0x1800), false)
	var notFound *NotFoundError
	s.ErrorAs(err, &notFound)
	s.Equal(1, s.stack.Calls(radiotest.TriggerDiscoverServices))
}

func (s *ClientTestSuite) TestRead() {
	// GOAL: Verify read outcomes: data on success, no data on a failure status

	p := s.connect(navAddr)
	svcs, err := p.GetService(s.ctx, ble.MustParse(navService), false)
	s.Require().NoError(err)

	ch := s.navCharacteristic(p)
	data, ok, err := ch.Read(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal([]byte{0x01, 0x02}, data)

	chars, err := svcs[0].GetCharacteristic(s.ctx, ble.UUID16(0x2a19), false)
	s.Require().NoError(err)
	data, ok, err = chars[0].Read(s.ctx)
	s.NoError(err, "a failure status MUST NOT be an error")
	s.False(ok)
	s.Nil(data)

	s.stack.SetValue(s.nav, ch.ValueHandle(), nil)
	data, ok, err = ch.Read(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Empty(data, "an empty value MUST still be data")
}

func (s *ClientTestSuite) TestWrite() {
	// GOAL: Verify acknowledged and unacknowledged writes

	p := s.connect(navAddr)
	svcs, err := p.GetService(s.ctx, ble.UUID16(0x1800), false)
	s.Require().NoError(err)
	chars, err := svcs[0].GetCharacteristic(s.ctx, ble.UUID16(0x2a00), false)
	s.Require().NoError(err)
	name := chars[0]

	status, acked, err := name.Write(s.ctx, []byte("x"), WriteAcknowledged)
	s.Require().NoError(err)
	s.True(acked)
	s.Equal(radio.StatusWriteNotPermitted, status, "a rejected write MUST report the peripheral status")

	ch := s.navCharacteristic(p)
	status, acked, err = ch.Write(s.ctx, []byte{0x09}, WriteAcknowledged)
	s.Require().NoError(err)
	s.True(acked)
	s.Equal(radio.StatusSuccess, status)
	s.Equal([]byte{0x09}, s.stack.Value(s.nav, ch.ValueHandle()))

	status, acked, err = ch.Write(s.ctx, []byte{0x0a}, WriteUnacknowledged)
	s.Require().NoError(err)
	s.False(acked)
	s.Zero(status)

	writes := s.stack.Writes()
	s.Require().Len(writes, 3)
	s.False(writes[2].WithResponse)
	s.Equal([]byte{0x0a}, writes[2].Data)
}

func (s *ClientTestSuite) TestNotifyRegistration() {
	// GOAL: Verify that (un)registering rewrites only bit 0 of the CCCD and notifications reach the callback
	//
	// TEST SCENARIO: CCCD holds 0x0002 → register writes 0x0003 → notification delivered at poll → unregister writes 0x0002

	p := s.connect(navAddr)
	ch := s.navCharacteristic(p)
	cccdHandle := s.nav.DescriptorHandle(navChar, "2902")
	s.stack.SetValue(s.nav, cccdHandle, []byte{0x02, 0x00})

	var got [][]byte
	s.c.SetNotifyCallback(func(conn radio.ConnHandle, valueHandle uint16, data []byte) {
		if conn == p.Conn() && valueHandle == ch.ValueHandle() {
			got = append(got, data)
		}
	})

	s.Require().NoError(ch.RegisterNotify(s.ctx))
	s.Equal([]byte{0x03, 0x00}, s.stack.Value(s.nav, cccdHandle))

	descs := ch.Descriptors()
	s.Require().Len(descs, 1)
	s.Equal(cccdHandle, descs[0].Handle())
	s.Same(ch, descs[0].Characteristic())

	s.stack.Notify(p.Conn(), ch.ValueHandle(), []byte{0xca, 0xfe})
	s.Eventually(func() bool {
		return s.c.Poll() == nil && len(got) == 1
	}, time.Second, 5*time.Millisecond, "notification MUST be delivered at a poll point")
	s.Equal([]byte{0xca, 0xfe}, got[0])

	s.Require().NoError(ch.UnregisterNotify(s.ctx))
	s.Equal([]byte{0x02, 0x00}, s.stack.Value(s.nav, cccdHandle))
	s.Equal(1, s.stack.Calls(radiotest.TriggerDiscoverDescriptors), "descriptors MUST be discovered once")
}

func (s *ClientTestSuite) TestConnectionFailure() {
	// GOAL: Verify that a refused connection yields ConnectionFailed

	s.stack.Refuse(radio.MustParseAddress(navAddr), true)

	p, err := s.c.Connect(s.ctx, radio.AddrPublic, radio.MustParseAddress(navAddr))
	s.Nil(p)
	s.ErrorIs(err, ErrConnectionFailed)
	s.False(s.c.gate.Busy())
	s.Empty(s.c.Connections())
}

func (s *ClientTestSuite) TestDisconnect() {
	// GOAL: Verify disconnect bookkeeping and that a disconnected peripheral rejects procedures

	p := s.connect(navAddr)
	s.Require().NoError(p.Disconnect(s.ctx))
	s.False(p.Connected())
	s.Empty(s.c.Connections())
	s.NoError(p.Disconnect(s.ctx), "disconnecting twice MUST be a no-op")

	_, err := p.DiscoverServices(s.ctx)
	s.ErrorIs(err, ErrNotConnected)

	again, err := p.Connect(s.ctx)
	s.Require().NoError(err)
	s.NotSame(p, again, "reconnect MUST create a new peripheral")
	s.True(again.Connected())
}

func (s *ClientTestSuite) TestLinkLossDuringProcedure() {
	// GOAL: Verify that a disconnect on the connection of the pending procedure ends it early
	//
	// TEST SCENARIO: Reads are never answered → link drops mid-read → read fails with NotConnected well before the timeout

	p := s.connect(navAddr)
	ch := s.navCharacteristic(p)
	s.stack.Silence(radiotest.TriggerRead, true)
	time.AfterFunc(30*time.Millisecond, func() { s.stack.DropLink(p.Conn()) })

	start := time.Now()
	_, _, err := ch.Read(s.ctx)
	s.ErrorIs(err, ErrNotConnected)
	s.Less(time.Since(start), s.c.Timeout())
}

func (s *ClientTestSuite) TestLinkLossDuringScan() {
	// GOAL: Verify that a disconnect unrelated to the pending procedure leaves it running
	//
	// TEST SCENARIO: Connected peripheral → scan → link drops mid-scan → scan runs its full window without error

	p := s.connect(navAddr)
	time.AfterFunc(20*time.Millisecond, func() { s.stack.DropLink(p.Conn()) })

	start := time.Now()
	table, err := s.c.Scan(s.ctx, 100*time.Millisecond)
	s.Require().NoError(err)
	s.GreaterOrEqual(time.Since(start), 100*time.Millisecond, "scan MUST NOT end on an unrelated disconnect")
	s.Equal(2, table.Len())
	s.False(p.Connected(), "the dropped link MUST still be recorded")
}

func (s *ClientTestSuite) TestHandleReuseSupersedes() {
	// GOAL: Verify that a reused connection handle invalidates the previous peripheral

	s.stack.ForceHandles(1, 1)

	first := s.connect(navAddr)
	second := s.connect(otherAddr)
	s.Equal(first.Conn(), second.Conn())

	s.True(first.Superseded())
	s.False(first.Connected())
	_, err := first.DiscoverServices(s.ctx)
	s.ErrorIs(err, ErrSuperseded)

	tracked, ok := s.c.Peripheral(1)
	s.Require().True(ok)
	s.Same(second, tracked)
}

func (s *ClientTestSuite) TestTimeout() {
	// GOAL: Verify that an unanswered procedure times out, leaves the client idle and does not poison the next procedure

	p := s.connect(navAddr)
	ch := s.navCharacteristic(p)

	s.stack.Silence(radiotest.TriggerRead, true)
	start := time.Now()
	_, _, err := ch.Read(s.ctx)
	s.ErrorIs(err, ErrTimeout)
	s.True(IsRecoverable(err))
	s.Less(time.Since(start), s.c.Timeout()+200*time.Millisecond)
	s.False(s.c.gate.Busy(), "gate MUST be idle after a timeout")

	s.stack.Silence(radiotest.TriggerRead, false)
	data, ok, err := ch.Read(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal([]byte{0x01, 0x02}, data)
}

func (s *ClientTestSuite) TestStaleCompletionIgnored() {
	// GOAL: Verify that a completion arriving while no procedure waits for it is dropped

	p := s.connect(navAddr)
	ch := s.navCharacteristic(p)

	s.c.HandleEvent(radio.ReadResult{Conn: p.Conn(), Handle: ch.ValueHandle(), Data: []byte{0xde, 0xad}})
	s.c.HandleEvent(radio.ReadDone{Conn: p.Conn(), Handle: ch.ValueHandle(), Status: radio.StatusSuccess})
	s.Require().NoError(s.c.Poll())
	s.False(s.c.gate.Busy())

	data, ok, err := ch.Read(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal([]byte{0x01, 0x02}, data)
}

func (s *ClientTestSuite) TestDesync() {
	// GOAL: Verify that an event for an unknown connection is reported as a non-recoverable desync

	s.c.HandleEvent(radio.ReadDone{Conn: 77, Handle: 3})
	err := s.c.Poll()

	var desync *DesyncError
	s.Require().ErrorAs(err, &desync)
	s.Equal(radio.ConnHandle(77), desync.Conn)
	s.Equal("read_done", desync.Event)
	s.False(IsRecoverable(err))
}

func (s *ClientTestSuite) TestBusyAndClosed() {
	// GOAL: Verify that procedures are rejected while another one is outstanding and after Close

	p := s.connect(navAddr)

	s.c.gate.SetBusy()
	_, err := p.DiscoverServices(s.ctx)
	s.ErrorIs(err, ErrBusy)
	s.c.gate.SetClear()

	s.Require().NoError(s.c.Close())
	_, err = s.c.Connect(s.ctx, radio.AddrPublic, radio.MustParseAddress(navAddr))
	s.ErrorIs(err, ErrClosed)
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func TestNewClient_ActivatesStack(t *testing.T) {
	stack := radiotest.NewStack()

	require.Error(t, stack.Scan(time.Millisecond), "inactive stack MUST reject triggers")

	c, err := NewClient(stack)
	require.NoError(t, err)
	require.NoError(t, stack.Scan(time.Millisecond))
	assert.Equal(t, DefaultTimeout, c.Timeout())
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "Close MUST be idempotent")
}

func TestScanResult_Advertisement(t *testing.T) {
	r := ScanResult{Data: []byte{0x02, 0x01, 0x06, 0x04, 0x09, 'n', 'a', 'v'}}
	adv, err := r.Advertisement()
	require.NoError(t, err)
	name, ok := adv.Get(radio.ADCompleteLocalName)
	assert.True(t, ok)
	assert.Equal(t, []byte("nav"), name)
}
