package radio

import (
	"fmt"
	"sort"
)

// ADType is the one-byte type tag of an advertising data structure.
type ADType byte

// Well-known AD types. Only parsing is supported; the names exist for readability.
const (
	ADFlags                 ADType = 0x01
	ADIncomplete16BitUUIDs  ADType = 0x02
	ADComplete16BitUUIDs    ADType = 0x03
	ADIncomplete128BitUUIDs ADType = 0x06
	ADComplete128BitUUIDs   ADType = 0x07
	ADShortLocalName        ADType = 0x08
	ADCompleteLocalName     ADType = 0x09
	ADTxPowerLevel          ADType = 0x0a
	ADServiceData16         ADType = 0x16
	ADManufacturerData      ADType = 0xff
)

// String renders the tag as two lower-case hex characters, e.g. "07".
func (t ADType) String() string {
	return fmt.Sprintf("%02x", byte(t))
}

// AdvertisementError reports a malformed advertising payload.
type AdvertisementError struct {
	Offset int // offset of the offending length byte
	Length int // declared record length
	Remain int // bytes left in the input after the length byte
}

func (e *AdvertisementError) Error() string {
	return fmt.Sprintf("truncated advertising record at offset %d: length %d exceeds remaining %d bytes",
		e.Offset, e.Length, e.Remain)
}

// Advertisement is a decoded advertising payload: type tag -> raw payload.
// When a tag repeats in the raw stream, the last occurrence wins.
type Advertisement map[ADType][]byte

// Get returns the payload stored for the tag.
func (a Advertisement) Get(tag ADType) ([]byte, bool) {
	v, ok := a[tag]
	return v, ok
}

// Tags returns the decoded tags in ascending order.
func (a Advertisement) Tags() []ADType {
	tags := make([]ADType, 0, len(a))
	for t := range a {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// DecodeAdvertisement splits a raw advertising or scan response payload into
// its [length, type, payload...] records.
//
// A zero length byte marks the start of trailing padding; everything after it
// must be zero. A record that runs past the end of the input is an error, never
// a silent drop. Payloads are copied and never alias data.
func DecodeAdvertisement(data []byte) (Advertisement, error) {
	decoded := make(Advertisement)
	off := 0
	for off < len(data) {
		length := int(data[off])
		if length == 0 {
			for i := off; i < len(data); i++ {
				if data[i] != 0 {
					return nil, fmt.Errorf("non-zero byte 0x%02x in advertising padding at offset %d", data[i], i)
				}
			}
			return decoded, nil
		}
		remain := len(data) - off - 1
		if length > remain {
			return nil, &AdvertisementError{Offset: off, Length: length, Remain: remain}
		}
		tag := ADType(data[off+1])
		payload := make([]byte, length-1)
		copy(payload, data[off+2:off+1+length])
		decoded[tag] = payload
		off += 1 + length
	}
	return decoded, nil
}
