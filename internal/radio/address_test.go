package radio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressString(t *testing.T) {
	tests := []struct {
		name     string
		addr     Address
		expected string
	}{
		{"zero", Address{}, "00:00:00:00:00:00"},
		{"wire order", Address{0xaa, 0xbb, 0xcc, 0x01, 0x02, 0x03}, "aa:bb:cc:01:02:03"},
		{"all ones", Address{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, "ff:ff:ff:ff:ff:ff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.addr.String())
			assert.Len(t, tt.addr.String(), 17, "canonical form MUST be 17 characters")
		})
	}
}

func TestParseAddress(t *testing.T) {
	t.Run("accepts both cases", func(t *testing.T) {
		lower, err := ParseAddress("aa:bb:cc:dd:ee:0f")
		require.NoError(t, err)
		upper, err := ParseAddress("AA:BB:CC:DD:EE:0F")
		require.NoError(t, err)
		assert.Equal(t, lower, upper, "case MUST NOT affect the decoded bytes")
		assert.Equal(t, Address{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x0f}, lower)
	})

	invalid := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too short", "aa:bb:cc:dd:ee"},
		{"too long", "aa:bb:cc:dd:ee:ff:00"},
		{"missing colon", "aa:bb:cc:dd:eeff0"},
		{"dash separator", "aa-bb-cc-dd-ee-ff"},
		{"bad digit", "aa:bb:cc:dd:ee:fg"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAddress(tt.input)
			assert.ErrorIs(t, err, ErrInvalidAddress, "malformed input MUST be rejected")
		})
	}
}

func TestAddressRoundTrip(t *testing.T) {
	t.Run("bytes to string to bytes", func(t *testing.T) {
		for i := 0; i < 256; i += 17 {
			addr := Address{byte(i), byte(255 - i), 0x00, 0x7f, 0x80, byte(i ^ 0x5a)}
			parsed, err := ParseAddress(addr.String())
			require.NoError(t, err)
			assert.Equal(t, addr, parsed, "round-trip MUST be the identity")
		}
	})

	t.Run("canonical string to bytes to string", func(t *testing.T) {
		for _, s := range []string{"00:00:00:00:00:00", "de:ad:be:ef:00:01", "c0:00:00:00:00:2a"} {
			assert.Equal(t, s, MustParseAddress(s).String(), "round-trip MUST be the identity")
		}
	})
}

func TestAddressFromBytes(t *testing.T) {
	addr, err := AddressFromBytes([]byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, "01:02:03:04:05:06", addr.String())

	_, err = AddressFromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	b := addr.Bytes()
	b[0] = 0xff
	assert.Equal(t, byte(1), addr[0], "Bytes MUST return a copy")
	assert.False(t, addr.IsZero())
	assert.True(t, Address{}.IsZero())
}

func TestAddressText(t *testing.T) {
	type wrapper struct {
		Addr Address `json:"addr"`
	}
	out, err := json.Marshal(wrapper{Addr: MustParseAddress("01:02:03:0a:0b:0c")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"addr":"01:02:03:0a:0b:0c"}`, string(out))

	var back wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"addr":"01:02:03:0A:0B:0C"}`), &back))
	assert.Equal(t, MustParseAddress("01:02:03:0a:0b:0c"), back.Addr)

	assert.Error(t, json.Unmarshal([]byte(`{"addr":"nope"}`), &back))
}

func TestAddrTypeString(t *testing.T) {
	assert.Equal(t, "public", AddrPublic.String())
	assert.Equal(t, "random", AddrRandom.String())
	assert.Equal(t, "addr_type(7)", AddrType(7).String())
}
