package radio

import (
	"fmt"

	"github.com/go-ble/ble"
)

// ConnHandle identifies a live connection inside the radio stack.
type ConnHandle uint16

// InvalidHandle is reported in a PeripheralDisconnect event when a connection
// attempt failed before a handle was assigned.
const InvalidHandle ConnHandle = 0xffff

// Status is an ATT-level completion status. Zero means success.
type Status uint16

// StatusSuccess is the only status that denotes a successful procedure.
const StatusSuccess Status = 0

// Commonly reported failure statuses.
const (
	StatusReadNotPermitted  Status = 0x02
	StatusWriteNotPermitted Status = 0x03
	StatusAttributeNotFound Status = 0x0a
	StatusUnlikelyError     Status = 0x0e
)

// OK reports whether the status denotes success.
func (s Status) OK() bool { return s == StatusSuccess }

func (s Status) String() string {
	if s.OK() {
		return "success"
	}
	return fmt.Sprintf("status(0x%02x)", uint16(s))
}

// Event is a single asynchronous notification from the radio stack.
// The set of events is closed: only the types in this file implement it.
type Event interface {
	event()
}

// ConnEvent is implemented by every event that is scoped to a connection.
type ConnEvent interface {
	Event
	Connection() ConnHandle
}

// ScanResult is reported for every advertisement received while scanning.
type ScanResult struct {
	AddrType    AddrType
	Addr        Address
	Connectable bool
	RSSI        int8
	Data        []byte
}

// ScanDone is reported once the scan duration elapsed or the scan was stopped.
type ScanDone struct{}

// PeripheralConnect is reported when a connection to a peripheral is established.
type PeripheralConnect struct {
	Conn     ConnHandle
	AddrType AddrType
	Addr     Address
}

// PeripheralDisconnect is reported when a connection closes. Conn is
// InvalidHandle when a connection attempt failed.
type PeripheralDisconnect struct {
	Conn     ConnHandle
	AddrType AddrType
	Addr     Address
}

// ServiceResult is reported for each primary service found during discovery.
type ServiceResult struct {
	Conn  ConnHandle
	Start uint16
	End   uint16
	UUID  ble.UUID
}

// ServiceDone terminates a service discovery.
type ServiceDone struct {
	Conn   ConnHandle
	Status Status
}

// CharacteristicResult is reported for each characteristic found during discovery.
type CharacteristicResult struct {
	Conn        ConnHandle
	DefHandle   uint16
	ValueHandle uint16
	Properties  ble.Property
	UUID        ble.UUID
}

// CharacteristicDone terminates a characteristic discovery.
type CharacteristicDone struct {
	Conn   ConnHandle
	Status Status
}

// DescriptorResult is reported for each descriptor found during discovery.
type DescriptorResult struct {
	Conn   ConnHandle
	Handle uint16
	UUID   ble.UUID
}

// DescriptorDone terminates a descriptor discovery.
type DescriptorDone struct {
	Conn   ConnHandle
	Status Status
}

// ReadResult carries the value of a read procedure.
type ReadResult struct {
	Conn   ConnHandle
	Handle uint16
	Data   []byte
}

// ReadDone terminates a read procedure.
type ReadDone struct {
	Conn   ConnHandle
	Handle uint16
	Status Status
}

// WriteDone terminates an acknowledged write procedure.
type WriteDone struct {
	Conn   ConnHandle
	Handle uint16
	Status Status
}

// Notify carries a notification sent by a peripheral.
type Notify struct {
	Conn        ConnHandle
	ValueHandle uint16
	Data        []byte
}

func (ScanResult) event()           {}
func (ScanDone) event()             {}
func (PeripheralConnect) event()    {}
func (PeripheralDisconnect) event() {}
func (ServiceResult) event()        {}
func (ServiceDone) event()          {}
func (CharacteristicResult) event() {}
func (CharacteristicDone) event()   {}
func (DescriptorResult) event()     {}
func (DescriptorDone) event()       {}
func (ReadResult) event()           {}
func (ReadDone) event()             {}
func (WriteDone) event()            {}
func (Notify) event()               {}

func (e PeripheralConnect) Connection() ConnHandle    { return e.Conn }
func (e PeripheralDisconnect) Connection() ConnHandle { return e.Conn }
func (e ServiceResult) Connection() ConnHandle        { return e.Conn }
func (e ServiceDone) Connection() ConnHandle          { return e.Conn }
func (e CharacteristicResult) Connection() ConnHandle { return e.Conn }
func (e CharacteristicDone) Connection() ConnHandle   { return e.Conn }
func (e DescriptorResult) Connection() ConnHandle     { return e.Conn }
func (e DescriptorDone) Connection() ConnHandle       { return e.Conn }
func (e ReadResult) Connection() ConnHandle           { return e.Conn }
func (e ReadDone) Connection() ConnHandle             { return e.Conn }
func (e WriteDone) Connection() ConnHandle            { return e.Conn }
func (e Notify) Connection() ConnHandle               { return e.Conn }

// EventName returns a short stable name for logging.
func EventName(e Event) string {
	switch e.(type) {
	case ScanResult:
		return "scan_result"
	case ScanDone:
		return "scan_done"
	case PeripheralConnect:
		return "peripheral_connect"
	case PeripheralDisconnect:
		return "peripheral_disconnect"
	case ServiceResult:
		return "service_result"
	case ServiceDone:
		return "service_done"
	case CharacteristicResult:
		return "characteristic_result"
	case CharacteristicDone:
		return "characteristic_done"
	case DescriptorResult:
		return "descriptor_result"
	case DescriptorDone:
		return "descriptor_done"
	case ReadResult:
		return "read_result"
	case ReadDone:
		return "read_done"
	case WriteDone:
		return "write_done"
	case Notify:
		return "notify"
	default:
		return fmt.Sprintf("%T", e)
	}
}
