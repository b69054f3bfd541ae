package goble

import (
	"context"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/navble/internal/radio"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	return args.Error(0)
}

func (m *mockTransport) Dial(ctx context.Context, a ble.Addr) (gattClient, error) {
	args := m.Called(ctx, a)
	client, _ := args.Get(0).(gattClient)
	return client, args.Error(1)
}

func (m *mockTransport) Stop() error {
	return m.Called().Error(0)
}

type mockClient struct {
	mock.Mock
	disconnected chan struct{}
}

func newMockClient() *mockClient {
	return &mockClient{disconnected: make(chan struct{})}
}

func (m *mockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	svcs, _ := args.Get(0).([]*ble.Service)
	return svcs, args.Error(1)
}

func (m *mockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	chars, _ := args.Get(0).([]*ble.Characteristic)
	return chars, args.Error(1)
}

func (m *mockClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	descs, _ := args.Get(0).([]*ble.Descriptor)
	return descs, args.Error(1)
}

func (m *mockClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	args := m.Called(d)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	return m.Called(c, value, noRsp).Error(0)
}

func (m *mockClient) WriteDescriptor(d *ble.Descriptor, value []byte) error {
	return m.Called(d, value).Error(0)
}

func (m *mockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *mockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *mockClient) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *mockClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

type fakeAdvertisement struct {
	addr         string
	addrType     uint8
	name         string
	rssi         int
	txPower      int
	connectable  bool
	services     []ble.UUID
	serviceData  []ble.ServiceData
	manufacturer []byte
}

func (a fakeAdvertisement) LocalName() string              { return a.name }
func (a fakeAdvertisement) ManufacturerData() []byte       { return a.manufacturer }
func (a fakeAdvertisement) ServiceData() []ble.ServiceData { return a.serviceData }
func (a fakeAdvertisement) Services() []ble.UUID           { return a.services }
func (a fakeAdvertisement) TxPowerLevel() int              { return a.txPower }
func (a fakeAdvertisement) Connectable() bool              { return a.connectable }
func (a fakeAdvertisement) RSSI() int                      { return a.rssi }
func (a fakeAdvertisement) Addr() ble.Addr                 { return ble.NewAddr(a.addr) }
func (a fakeAdvertisement) AddressType() uint8             { return a.addrType }

// recorder collects events emitted by the stack.
type recorder struct {
	events chan radio.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan radio.Event, 64)}
}

func (r *recorder) handle(e radio.Event) {
	r.events <- e
}

// next waits for the next event and requires it to be of type T.
func next[T radio.Event](t *testing.T, r *recorder) T {
	t.Helper()
	select {
	case e := <-r.events:
		got, ok := e.(T)
		require.Truef(t, ok, "MUST receive %T, got %T (%+v)", *new(T), e, e)
		return got
	case <-time.After(2 * time.Second):
		require.FailNowf(t, "no event", "MUST receive %T", *new(T))
	}
	var zero T
	return zero
}

func (r *recorder) requireQuiet(t *testing.T) {
	t.Helper()
	select {
	case e := <-r.events:
		require.FailNowf(t, "unexpected event", "MUST NOT receive %T (%+v)", e, e)
	case <-time.After(50 * time.Millisecond):
	}
}
