package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/navble/internal/radio"
)

// txPowerUnknown is what go-ble reports when the advertisement carries no
// Tx Power Level record.
const txPowerUnknown = 127

// Advertisement is the subset of ble.Advertisement the stack consumes.
type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	ServiceData() []ble.ServiceData
	Services() []ble.UUID
	TxPowerLevel() int
	Connectable() bool
	RSSI() int
	Addr() ble.Addr
}

// EncodeAdvertisement rebuilds a raw advertising payload from a go-ble
// advertisement. go-ble only exposes the decoded fields, the client layer
// works on raw [len, type, payload] records.
//
// UUIDs keep go-ble's byte order, which is the little-endian wire order.
func EncodeAdvertisement(adv Advertisement) []byte {
	var raw []byte

	if name := adv.LocalName(); name != "" {
		raw = appendRecord(raw, radio.ADCompleteLocalName, []byte(name))
	}

	var uuid16, uuid32, uuid128 []byte
	for _, u := range adv.Services() {
		switch len(u) {
		case 2:
			uuid16 = append(uuid16, u...)
		case 4:
			uuid32 = append(uuid32, u...)
		case 16:
			uuid128 = append(uuid128, u...)
		}
	}
	raw = appendRecord(raw, radio.ADComplete16BitUUIDs, uuid16)
	raw = appendRecord(raw, adComplete32BitUUIDs, uuid32)
	raw = appendRecord(raw, radio.ADComplete128BitUUIDs, uuid128)

	if tx := adv.TxPowerLevel(); tx != txPowerUnknown && tx != 0 {
		raw = appendRecord(raw, radio.ADTxPowerLevel, []byte{byte(int8(tx))})
	}

	for _, sd := range adv.ServiceData() {
		tag := radio.ADServiceData16
		switch len(sd.UUID) {
		case 4:
			tag = adServiceData32
		case 16:
			tag = adServiceData128
		}
		payload := make([]byte, 0, len(sd.UUID)+len(sd.Data))
		payload = append(payload, sd.UUID...)
		payload = append(payload, sd.Data...)
		raw = appendRecord(raw, tag, payload)
	}

	if md := adv.ManufacturerData(); len(md) > 0 {
		raw = appendRecord(raw, radio.ADManufacturerData, md)
	}
	return raw
}

const (
	adComplete32BitUUIDs radio.ADType = 0x05
	adServiceData32      radio.ADType = 0x20
	adServiceData128     radio.ADType = 0x21
)

// appendRecord appends one record, skipping empty payloads and truncating
// payloads that do not fit a single length byte.
func appendRecord(raw []byte, tag radio.ADType, payload []byte) []byte {
	if len(payload) == 0 {
		return raw
	}
	if len(payload) > 254 {
		payload = payload[:254]
	}
	raw = append(raw, byte(len(payload)+1), byte(tag))
	return append(raw, payload...)
}
