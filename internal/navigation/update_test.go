package navigation

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/navble/internal/radio"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		want   Update
		wantOK bool
	}{
		{
			name:   "instruction with street",
			data:   append([]byte{0x01, 0x00, 0x00, 0x00, 0xfb, 0xd2, 0x04, 0x00, 0x00}, "Main St"...),
			want:   Update{ID: 1, Direction: -5, Distance: 1234, Street: "Main St"},
			wantOK: true,
		},
		{
			name:   "header only",
			data:   []byte{0xff, 0xff, 0xff, 0xff, 0x1e, 0x00, 0x00, 0x00, 0x00},
			want:   Update{ID: 0xffffffff, Direction: 30},
			wantOK: true,
		},
		{
			name:   "utf-8 street",
			data:   append([]byte{0x02, 0x00, 0x00, 0x00, 0x03, 0x10, 0x00, 0x00, 0x00}, "Straße"...),
			want:   Update{ID: 2, Direction: 3, Distance: 16, Street: "Straße"},
			wantOK: true,
		},
		{
			name: "short payload",
			data: []byte{0x01, 0x00, 0x00, 0x00, 0xfb, 0xd2, 0x04, 0x00},
		},
		{
			name: "empty",
			data: nil,
		},
		{
			name: "invalid utf-8",
			data: []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0xc3, 0x28},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode(tt.data)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		meters uint32
		want   string
	}{
		{0, "0m"},
		{124, "120m"},
		{125, "130m"},
		{990, "990m"},
		{1500, "1.5km"},
		{9949, "9.9km"},
		{9950, "10k"},
		{12345, "10k"},
		{15000, "20k"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDistance(tt.meters))
		})
	}
}

func TestDefaultTarget(t *testing.T) {
	target := DefaultTarget()

	assert.Equal(t, radio.ADComplete128BitUUIDs, target.Tag)
	assert.Equal(t, []byte("lC\xb3\x1d\x17\x0f\xb2\xa2\xa8O/\xd9(\xe1\xc1q"), target.Signature,
		"signature MUST be the service UUID in advertising byte order")
	assert.True(t, target.CharacteristicUUID.Equal(ble.MustParse(KomootCharacteristicUUID)))
}

func TestTarget_Matches(t *testing.T) {
	target := DefaultTarget()
	record := func(tag radio.ADType, payload []byte) []byte {
		return append([]byte{byte(len(payload) + 1), byte(tag)}, payload...)
	}
	flags := record(radio.ADFlags, []byte{0x06})

	tests := []struct {
		name string
		adv  []byte
		want bool
	}{
		{"signature present", append(append([]byte{}, flags...), record(radio.ADComplete128BitUUIDs, target.Signature)...), true},
		{"signature under another tag", record(radio.ADIncomplete128BitUUIDs, target.Signature), false},
		{"other service", record(radio.ADComplete128BitUUIDs, ble.MustParse("0000180d-0000-1000-8000-00805f9b34fb")), false},
		{"no records", nil, false},
		{"malformed", []byte{0x11, 0x07, 0x01}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, target.Matches(tt.adv))
		})
	}
}

func TestNewTarget(t *testing.T) {
	target, err := NewTarget(radio.ADComplete128BitUUIDs,
		"6c43b31d170fb2a2a84f2fd928e1c171", KomootServiceUUID, KomootCharacteristicUUID)
	require.NoError(t, err)
	assert.Equal(t, DefaultTarget(), target)

	_, err = NewTarget(radio.ADComplete128BitUUIDs, "zz", KomootServiceUUID, KomootCharacteristicUUID)
	assert.Error(t, err)
	_, err = NewTarget(radio.ADComplete128BitUUIDs, "", "not-a-uuid", KomootCharacteristicUUID)
	assert.Error(t, err)
}
