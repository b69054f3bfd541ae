package radio

import (
	"errors"
	"fmt"
)

// AddressLen is the number of raw bytes in a BLE device address.
const AddressLen = 6

// addressStringLen is the length of the canonical AA:BB:CC:DD:EE:FF form.
const addressStringLen = AddressLen*3 - 1

// ErrInvalidAddress is returned when an address string cannot be decoded.
var ErrInvalidAddress = errors.New("invalid address")

// Address is a raw 6-byte device address in wire order: byte 0 is rendered first.
// The canonical string form is lower-case, matching what go-ble reports.
type Address [AddressLen]byte

// AddrType is the GAP address type reported by the stack (public, random, ...).
type AddrType uint8

const (
	AddrPublic AddrType = iota
	AddrRandom
)

func (t AddrType) String() string {
	switch t {
	case AddrPublic:
		return "public"
	case AddrRandom:
		return "random"
	default:
		return fmt.Sprintf("addr_type(%d)", uint8(t))
	}
}

const hexDigits = "0123456789abcdef"

// String returns the canonical colon-separated lower-case hex form.
func (a Address) String() string {
	buf := make([]byte, 0, addressStringLen)
	for i, b := range a {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, hexDigits[b>>4], hexDigits[b&0x0f])
	}
	return string(buf)
}

// ParseAddress decodes an address in AA:BB:CC:DD:EE:FF form. Both upper and
// lower case hex digits are accepted.
func ParseAddress(s string) (Address, error) {
	var addr Address
	if len(s) != addressStringLen {
		return addr, fmt.Errorf("%w: %q: expected %d characters, got %d", ErrInvalidAddress, s, addressStringLen, len(s))
	}
	for i := 0; i < AddressLen; i++ {
		off := i * 3
		if i > 0 && s[off-1] != ':' {
			return addr, fmt.Errorf("%w: %q: expected ':' at position %d", ErrInvalidAddress, s, off-1)
		}
		hi, ok1 := fromHex(s[off])
		lo, ok2 := fromHex(s[off+1])
		if !ok1 || !ok2 {
			return addr, fmt.Errorf("%w: %q: bad hex digit near position %d", ErrInvalidAddress, s, off)
		}
		addr[i] = hi<<4 | lo
	}
	return addr, nil
}

// MustParseAddress is like ParseAddress but panics on error. Intended for constants and tests.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// AddressFromBytes copies a 6-byte slice into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var addr Address
	if len(b) != AddressLen {
		return addr, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, AddressLen, len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLen)
	copy(out, a[:])
	return out
}

// IsZero reports whether all address bytes are zero.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
