package radiotest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/navble/internal/groutine"
	"github.com/srg/navble/internal/radio"
)

// Trigger names accepted by Silence and Calls.
const (
	TriggerScan                    = "scan"
	TriggerConnect                 = "connect"
	TriggerDisconnect              = "disconnect"
	TriggerDiscoverServices        = "discover_services"
	TriggerDiscoverCharacteristics = "discover_characteristics"
	TriggerDiscoverDescriptors     = "discover_descriptors"
	TriggerRead                    = "read"
	TriggerWrite                   = "write"
)

var errInactive = errors.New("radiotest: stack is not active")

// Peripheral is a simulated peripheral built by PeripheralBuilder.
type Peripheral struct {
	Addr        radio.Address
	AddrType    radio.AddrType
	Connectable bool
	RSSI        int8
	AdvData     []byte

	services []*service
	attrs    map[uint16]*attribute
}

type service struct {
	uuid       ble.UUID
	start, end uint16
	chars      []*characteristic
}

type characteristic struct {
	uuid  ble.UUID
	props ble.Property
	def   uint16
	value uint16
	descs []*attribute
}

type attribute struct {
	handle uint16
	uuid   ble.UUID
	value  []byte
	status radio.Status
	read   bool
	write  bool
	owner  *characteristic
}

// ValueHandle returns the value handle of the first characteristic with uuid.
func (p *Peripheral) ValueHandle(uuid string) uint16 {
	want := mustUUID(uuid)
	for _, svc := range p.services {
		for _, ch := range svc.chars {
			if ch.uuid.Equal(want) {
				return ch.value
			}
		}
	}
	panic("radiotest: no characteristic " + uuid)
}

// DescriptorHandle returns the handle of descriptor descUUID of the first
// characteristic with charUUID.
func (p *Peripheral) DescriptorHandle(charUUID, descUUID string) uint16 {
	want := mustUUID(descUUID)
	valueHandle := p.ValueHandle(charUUID)
	for _, d := range p.attrs[valueHandle].owner.descs {
		if d.uuid.Equal(want) {
			return d.handle
		}
	}
	panic("radiotest: no descriptor " + descUUID + " in " + charUUID)
}

// Write is a write received by the simulated stack.
type Write struct {
	Conn         radio.ConnHandle
	Handle       uint16
	Data         []byte
	WithResponse bool
}

type link struct {
	handle radio.ConnHandle
	p      *Peripheral
}

// Stack is a simulated radio.Stack.
type Stack struct {
	mu          sync.Mutex
	handler     func(radio.Event)
	active      bool
	peripherals []*Peripheral
	links       map[radio.ConnHandle]*link
	lastHandle  radio.ConnHandle
	forced      []radio.ConnHandle
	refused     map[radio.Address]bool
	silenced    map[string]bool
	calls       map[string]int
	writes      []Write
	duplicates  int
	latency     time.Duration
	stop        chan struct{}
}

var _ radio.Stack = (*Stack)(nil)

// NewStack creates a simulated stack serving the given peripherals.
func NewStack(peripherals ...*Peripheral) *Stack {
	return &Stack{
		peripherals: peripherals,
		links:       make(map[radio.ConnHandle]*link),
		refused:     make(map[radio.Address]bool),
		silenced:    make(map[string]bool),
		calls:       make(map[string]int),
		duplicates:  1,
		stop:        make(chan struct{}),
	}
}

// WithDuplicates makes every scan report each advertisement n extra times,
// each duplicate one dBm weaker than the previous report.
func (s *Stack) WithDuplicates(n int) *Stack {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicates = n + 1
	return s
}

// WithLatency delays every answer.
func (s *Stack) WithLatency(d time.Duration) *Stack {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
	return s
}

// AddPeripheral makes another peripheral reachable.
func (s *Stack) AddPeripheral(p *Peripheral) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peripherals = append(s.peripherals, p)
}

// Refuse makes connection attempts to addr fail.
func (s *Stack) Refuse(addr radio.Address, refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refused[addr] = refuse
}

// Silence makes a trigger accept requests without ever answering them.
func (s *Stack) Silence(trigger string, silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silenced[trigger] = silent
}

// ForceHandles makes the next connections use the given handles, in order.
// Used to simulate handle reuse by the controller.
func (s *Stack) ForceHandles(handles ...radio.ConnHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced = append(s.forced, handles...)
}

// Calls returns how often a trigger was invoked.
func (s *Stack) Calls(trigger string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[trigger]
}

// Writes returns the writes received so far.
func (s *Stack) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// Value returns the current value stored at handle of the peripheral.
func (s *Stack) Value(p *Peripheral, handle uint16) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := p.attrs[handle]; ok {
		return append([]byte(nil), a.value...)
	}
	return nil
}

// SetValue replaces the value stored at handle of the peripheral.
func (s *Stack) SetValue(p *Peripheral, handle uint16, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := p.attrs[handle]; ok {
		a.value = append([]byte(nil), value...)
	}
}

// Emit delivers an arbitrary event, as if the controller reported it.
func (s *Stack) Emit(e radio.Event) {
	s.dispatch("radiotest-emit", func(emit func(radio.Event)) { emit(e) })
}

// Notify sends a notification on an established connection.
func (s *Stack) Notify(h radio.ConnHandle, valueHandle uint16, data []byte) {
	payload := append([]byte(nil), data...)
	s.Emit(radio.Notify{Conn: h, ValueHandle: valueHandle, Data: payload})
}

// DropLink simulates a link loss reported by the controller.
func (s *Stack) DropLink(h radio.ConnHandle) {
	s.mu.Lock()
	l, ok := s.links[h]
	delete(s.links, h)
	s.mu.Unlock()
	if ok {
		s.Emit(radio.PeripheralDisconnect{Conn: h, AddrType: l.p.AddrType, Addr: l.p.Addr})
	}
}

// Handles returns the handles of the established connections.
func (s *Stack) Handles() []radio.ConnHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]radio.ConnHandle, 0, len(s.links))
	for h := range s.links {
		out = append(out, h)
	}
	return out
}

func (s *Stack) SetHandler(h func(radio.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *Stack) Active(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == on {
		return nil
	}
	s.active = on
	if on {
		s.stop = make(chan struct{})
	} else {
		close(s.stop)
		s.links = make(map[radio.ConnHandle]*link)
	}
	return nil
}

func (s *Stack) Scan(d time.Duration) error {
	if err := s.trigger(TriggerScan); err != nil {
		return err
	}
	s.mu.Lock()
	stop := s.stop
	type report struct {
		p    *Peripheral
		rssi int8
	}
	var reports []report
	for i := 0; i < s.duplicates; i++ {
		for _, p := range s.peripherals {
			reports = append(reports, report{p: p, rssi: p.RSSI - int8(i)})
		}
	}
	s.mu.Unlock()

	s.dispatch("radiotest-scan", func(emit func(radio.Event)) {
		for _, r := range reports {
			emit(radio.ScanResult{
				AddrType:    r.p.AddrType,
				Addr:        r.p.Addr,
				Connectable: r.p.Connectable,
				RSSI:        r.rssi,
				Data:        append([]byte(nil), r.p.AdvData...),
			})
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-stop:
		}
		emit(radio.ScanDone{})
	})
	return nil
}

func (s *Stack) Connect(t radio.AddrType, a radio.Address) error {
	if err := s.trigger(TriggerConnect); err != nil {
		return err
	}

	s.mu.Lock()
	var target *Peripheral
	for _, p := range s.peripherals {
		if p.Addr == a {
			target = p
			break
		}
	}
	var ev radio.Event = radio.PeripheralDisconnect{Conn: radio.InvalidHandle, AddrType: t, Addr: a}
	if target != nil && target.Connectable && !s.refused[a] {
		h := s.allocate()
		s.links[h] = &link{handle: h, p: target}
		ev = radio.PeripheralConnect{Conn: h, AddrType: t, Addr: a}
	}
	s.mu.Unlock()

	s.dispatch("radiotest-connect", func(emit func(radio.Event)) { emit(ev) })
	return nil
}

func (s *Stack) allocate() radio.ConnHandle {
	if len(s.forced) > 0 {
		h := s.forced[0]
		s.forced = s.forced[1:]
		return h
	}
	for {
		s.lastHandle++
		if s.lastHandle == radio.InvalidHandle || s.lastHandle == 0 {
			continue
		}
		if _, used := s.links[s.lastHandle]; !used {
			return s.lastHandle
		}
	}
}

func (s *Stack) Disconnect(h radio.ConnHandle) error {
	if err := s.trigger(TriggerDisconnect); err != nil {
		return err
	}
	s.mu.Lock()
	l, ok := s.links[h]
	delete(s.links, h)
	s.mu.Unlock()
	if !ok {
		return radio.ErrUnknownHandle
	}
	s.dispatch("radiotest-disconnect", func(emit func(radio.Event)) {
		emit(radio.PeripheralDisconnect{Conn: h, AddrType: l.p.AddrType, Addr: l.p.Addr})
	})
	return nil
}

func (s *Stack) DiscoverServices(h radio.ConnHandle) error {
	p, err := s.linked(TriggerDiscoverServices, h)
	if err != nil {
		return err
	}
	s.dispatch("radiotest-services", func(emit func(radio.Event)) {
		for _, svc := range p.services {
			emit(radio.ServiceResult{Conn: h, Start: svc.start, End: svc.end, UUID: copyUUID(svc.uuid)})
		}
		emit(radio.ServiceDone{Conn: h})
	})
	return nil
}

func (s *Stack) DiscoverCharacteristics(h radio.ConnHandle, start, end uint16) error {
	p, err := s.linked(TriggerDiscoverCharacteristics, h)
	if err != nil {
		return err
	}
	s.dispatch("radiotest-characteristics", func(emit func(radio.Event)) {
		for _, svc := range p.services {
			for _, ch := range svc.chars {
				if ch.def < start || ch.def > end {
					continue
				}
				emit(radio.CharacteristicResult{
					Conn:        h,
					DefHandle:   ch.def,
					ValueHandle: ch.value,
					Properties:  ch.props,
					UUID:        copyUUID(ch.uuid),
				})
			}
		}
		emit(radio.CharacteristicDone{Conn: h})
	})
	return nil
}

func (s *Stack) DiscoverDescriptors(h radio.ConnHandle, start, end uint16) error {
	p, err := s.linked(TriggerDiscoverDescriptors, h)
	if err != nil {
		return err
	}
	s.dispatch("radiotest-descriptors", func(emit func(radio.Event)) {
		for _, svc := range p.services {
			for _, ch := range svc.chars {
				for _, d := range ch.descs {
					if d.handle < start || d.handle > end {
						continue
					}
					emit(radio.DescriptorResult{Conn: h, Handle: d.handle, UUID: copyUUID(d.uuid)})
				}
			}
		}
		emit(radio.DescriptorDone{Conn: h})
	})
	return nil
}

func (s *Stack) Read(h radio.ConnHandle, handle uint16) error {
	p, err := s.linked(TriggerRead, h)
	if err != nil {
		return err
	}

	s.mu.Lock()
	a, ok := p.attrs[handle]
	var (
		value  []byte
		status radio.Status
	)
	if ok {
		value = append([]byte{}, a.value...)
		status = a.status
		if !a.read && status.OK() {
			status = radio.StatusReadNotPermitted
		}
	}
	s.mu.Unlock()
	if !ok {
		return radio.ErrUnknownHandle
	}

	s.dispatch("radiotest-read", func(emit func(radio.Event)) {
		if status.OK() {
			emit(radio.ReadResult{Conn: h, Handle: handle, Data: value})
		}
		emit(radio.ReadDone{Conn: h, Handle: handle, Status: status})
	})
	return nil
}

func (s *Stack) Write(h radio.ConnHandle, handle uint16, data []byte, withResponse bool) error {
	p, err := s.linked(TriggerWrite, h)
	if err != nil {
		return err
	}

	value := append([]byte(nil), data...)
	s.mu.Lock()
	a, ok := p.attrs[handle]
	status := radio.StatusSuccess
	if ok {
		s.writes = append(s.writes, Write{Conn: h, Handle: handle, Data: value, WithResponse: withResponse})
		if a.write {
			a.value = value
		} else {
			status = radio.StatusWriteNotPermitted
		}
	}
	s.mu.Unlock()
	if !ok {
		return radio.ErrUnknownHandle
	}

	if withResponse {
		s.dispatch("radiotest-write", func(emit func(radio.Event)) {
			emit(radio.WriteDone{Conn: h, Handle: handle, Status: status})
		})
	}
	return nil
}

// trigger counts the call and rejects it when the stack is inactive.
func (s *Stack) trigger(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	if !s.active {
		return errInactive
	}
	return nil
}

func (s *Stack) linked(name string, h radio.ConnHandle) (*Peripheral, error) {
	if err := s.trigger(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[h]
	if !ok {
		return nil, radio.ErrUnknownHandle
	}
	return l.p, nil
}

// dispatch runs fn on a named goroutine, emitting through the handler that
// is installed at emission time.
func (s *Stack) dispatch(name string, fn func(emit func(radio.Event))) {
	s.mu.Lock()
	latency := s.latency
	silenced := s.silenced[triggerOf(name)]
	s.mu.Unlock()
	if silenced {
		return
	}

	groutine.Go(context.Background(), name, func(context.Context) {
		if latency > 0 {
			time.Sleep(latency)
		}
		fn(func(e radio.Event) {
			s.mu.Lock()
			h := s.handler
			s.mu.Unlock()
			if h != nil {
				h(e)
			}
		})
	})
}

func triggerOf(goroutine string) string {
	switch goroutine {
	case "radiotest-scan":
		return TriggerScan
	case "radiotest-connect":
		return TriggerConnect
	case "radiotest-disconnect":
		return TriggerDisconnect
	case "radiotest-services":
		return TriggerDiscoverServices
	case "radiotest-characteristics":
		return TriggerDiscoverCharacteristics
	case "radiotest-descriptors":
		return TriggerDiscoverDescriptors
	case "radiotest-read":
		return TriggerRead
	case "radiotest-write":
		return TriggerWrite
	}
	return ""
}

func copyUUID(u ble.UUID) ble.UUID {
	return append(ble.UUID(nil), u...)
}
