// Package radiotest provides a simulated radio.Stack with scripted
// peripherals. Events are delivered asynchronously from named goroutines, the
// same way a real controller reports them.
package radiotest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/navble/internal/radio"
)

// DescriptorConfig represents a descriptor of a simulated characteristic.
type DescriptorConfig struct {
	UUID  string `json:"uuid"`
	Value string `json:"value,omitempty"` // hex
}

// CharacteristicConfig represents a simulated characteristic.
type CharacteristicConfig struct {
	UUID        string             `json:"uuid"`
	Properties  string             `json:"properties,omitempty"` // e.g. "read,write,notify"
	Value       string             `json:"value,omitempty"`      // hex
	Status      uint16             `json:"status,omitempty"`     // non-zero: reads fail with this status
	Descriptors []DescriptorConfig `json:"descriptors,omitempty"`
}

// ServiceConfig represents a simulated primary service.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig is the complete description of a simulated peripheral.
type PeripheralConfig struct {
	Address     string          `json:"address"`
	AddrType    string          `json:"addr_type,omitempty"` // "public" (default) or "random"
	Connectable *bool           `json:"connectable,omitempty"`
	RSSI        int8            `json:"rssi,omitempty"`
	Name        string          `json:"name,omitempty"`
	Adv         string          `json:"adv,omitempty"` // raw advertising payload in hex, overrides name
	Services    []ServiceConfig `json:"services,omitempty"`
}

// PeripheralBuilder builds simulated peripherals.
type PeripheralBuilder struct {
	cfg     PeripheralConfig
	records [][]byte
}

// NewPeripheralBuilder creates a builder for a connectable public peripheral.
func NewPeripheralBuilder(address string) *PeripheralBuilder {
	return &PeripheralBuilder{cfg: PeripheralConfig{Address: address, RSSI: -50}}
}

// FromJSON fills the peripheral configuration from JSON
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var cfg PeripheralConfig
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.cfg = cfg
	return b
}

// WithName advertises a complete local name.
func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.cfg.Name = name
	return b
}

// WithRandomAddress marks the address as random.
func (b *PeripheralBuilder) WithRandomAddress() *PeripheralBuilder {
	b.cfg.AddrType = "random"
	return b
}

// WithRSSI sets the reported signal strength.
func (b *PeripheralBuilder) WithRSSI(rssi int8) *PeripheralBuilder {
	b.cfg.RSSI = rssi
	return b
}

// WithConnectable sets the connectable flag of advertisements.
func (b *PeripheralBuilder) WithConnectable(c bool) *PeripheralBuilder {
	b.cfg.Connectable = &c
	return b
}

// WithAdvRecord appends an advertising record after flags and name.
func (b *PeripheralBuilder) WithAdvRecord(tag radio.ADType, payload []byte) *PeripheralBuilder {
	rec := append([]byte{byte(len(payload) + 1), byte(tag)}, payload...)
	b.records = append(b.records, rec)
	return b
}

// WithRawAdvertisement replaces the generated advertising payload.
func (b *PeripheralBuilder) WithRawAdvertisement(raw []byte) *PeripheralBuilder {
	b.cfg.Adv = hex.EncodeToString(raw)
	return b
}

// WithService adds a service to the profile
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.cfg.Services = append(b.cfg.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	svc := b.lastService("WithCharacteristic")
	svc.Characteristics = append(svc.Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      hex.EncodeToString(value),
	})
	return b
}

// WithReadStatus makes reads of the last added characteristic fail with status.
func (b *PeripheralBuilder) WithReadStatus(status radio.Status) *PeripheralBuilder {
	ch := b.lastCharacteristic("WithReadStatus")
	ch.Status = uint16(status)
	return b
}

// WithDescriptor adds a descriptor to the last added characteristic
func (b *PeripheralBuilder) WithDescriptor(uuid string, value []byte) *PeripheralBuilder {
	ch := b.lastCharacteristic("WithDescriptor")
	ch.Descriptors = append(ch.Descriptors, DescriptorConfig{UUID: uuid, Value: hex.EncodeToString(value)})
	return b
}

func (b *PeripheralBuilder) lastService(caller string) *ServiceConfig {
	if len(b.cfg.Services) == 0 {
		panic(caller + ": no service added yet, call WithService first")
	}
	return &b.cfg.Services[len(b.cfg.Services)-1]
}

func (b *PeripheralBuilder) lastCharacteristic(caller string) *CharacteristicConfig {
	svc := b.lastService(caller)
	if len(svc.Characteristics) == 0 {
		panic(caller + ": no characteristic added yet, call WithCharacteristic first")
	}
	return &svc.Characteristics[len(svc.Characteristics)-1]
}

// Build assigns attribute handles and returns the peripheral.
//
// Handles are laid out the way a GATT server does: service declaration,
// then per characteristic its declaration, value and descriptors. A CCCD is
// added to every notifying or indicating characteristic that does not
// declare one.
func (b *PeripheralBuilder) Build() *Peripheral {
	addr, err := radio.ParseAddress(b.cfg.Address)
	if err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.Build: %v", err))
	}

	p := &Peripheral{
		Addr:        addr,
		AddrType:    radio.AddrPublic,
		Connectable: b.cfg.Connectable == nil || *b.cfg.Connectable,
		RSSI:        b.cfg.RSSI,
		attrs:       make(map[uint16]*attribute),
	}
	if strings.EqualFold(b.cfg.AddrType, "random") {
		p.AddrType = radio.AddrRandom
	}
	p.AdvData = b.advertisement()

	handle := uint16(1)
	for _, svcCfg := range b.cfg.Services {
		svc := &service{uuid: mustUUID(svcCfg.UUID), start: handle}
		handle++
		for _, chCfg := range svcCfg.Characteristics {
			ch := &characteristic{
				uuid:  mustUUID(chCfg.UUID),
				props: parseProperties(chCfg.Properties),
				def:   handle,
				value: handle + 1,
			}
			handle += 2
			p.attrs[ch.value] = &attribute{
				handle: ch.value,
				uuid:   ch.uuid,
				value:  mustHex(chCfg.Value),
				status: radio.Status(chCfg.Status),
				read:   ch.props&ble.CharRead != 0,
				write:  ch.props&(ble.CharWrite|ble.CharWriteNR) != 0,
				owner:  ch,
			}

			descs := chCfg.Descriptors
			if ch.props&(ble.CharNotify|ble.CharIndicate) != 0 && !hasDescriptor(descs, radio.CCCDUUID) {
				descs = append([]DescriptorConfig{{UUID: "2902", Value: "0000"}}, descs...)
			}
			for _, dCfg := range descs {
				d := &attribute{
					handle: handle,
					uuid:   mustUUID(dCfg.UUID),
					value:  mustHex(dCfg.Value),
					read:   true,
					write:  true,
					owner:  ch,
				}
				ch.descs = append(ch.descs, d)
				p.attrs[handle] = d
				handle++
			}
			svc.chars = append(svc.chars, ch)
		}
		svc.end = handle - 1
		p.services = append(p.services, svc)
	}
	return p
}

func (b *PeripheralBuilder) advertisement() []byte {
	if b.cfg.Adv != "" {
		return mustHex(b.cfg.Adv)
	}
	adv := []byte{0x02, byte(radio.ADFlags), 0x06}
	if b.cfg.Name != "" {
		adv = append(adv, byte(len(b.cfg.Name)+1), byte(radio.ADCompleteLocalName))
		adv = append(adv, b.cfg.Name...)
	}
	for _, rec := range b.records {
		adv = append(adv, rec...)
	}
	return adv
}

func hasDescriptor(descs []DescriptorConfig, uuid ble.UUID) bool {
	for _, d := range descs {
		if mustUUID(d.UUID).Equal(uuid) {
			return true
		}
	}
	return false
}

// parseProperties converts a comma separated property list to ble.Property flags
func parseProperties(props string) ble.Property {
	if props == "" {
		return ble.CharRead | ble.CharWrite | ble.CharNotify
	}

	var property ble.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(strings.ToLower(p)) {
		case "read":
			property |= ble.CharRead
		case "write":
			property |= ble.CharWrite
		case "write-without-response", "writenr":
			property |= ble.CharWriteNR
		case "notify":
			property |= ble.CharNotify
		case "indicate":
			property |= ble.CharIndicate
		default:
			panic(fmt.Sprintf("radiotest: unknown characteristic property %q", p))
		}
	}
	return property
}

func mustUUID(s string) ble.UUID {
	return ble.MustParse(s)
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(fmt.Sprintf("radiotest: invalid hex value %q: %v", s, err))
	}
	return b
}
