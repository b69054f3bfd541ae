package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAdvertisement(t *testing.T) {
	komootSignature := []byte("lC\xb3\x1d\x17\x0f\xb2\xa2\xa8O/\xd9(\xe1\xc1q")
	komootAdv := append([]byte{0x02, 0x01, 0x06, 0x11, 0x07}, komootSignature...)

	tests := []struct {
		name     string
		input    []byte
		expected Advertisement
	}{
		{
			name:     "empty input",
			input:    nil,
			expected: Advertisement{},
		},
		{
			name:  "flags and name",
			input: []byte{0x02, 0x01, 0x06, 0x04, 0x09, 'a', 'b', 'c'},
			expected: Advertisement{
				ADFlags:             {0x06},
				ADCompleteLocalName: []byte("abc"),
			},
		},
		{
			name:  "128-bit service list",
			input: komootAdv,
			expected: Advertisement{
				ADFlags:               {0x06},
				ADComplete128BitUUIDs: komootSignature,
			},
		},
		{
			name:     "record with type only",
			input:    []byte{0x01, 0xff},
			expected: Advertisement{ADManufacturerData: {}},
		},
		{
			name:     "repeated tag keeps the last occurrence",
			input:    []byte{0x02, 0x09, 'a', 0x02, 0x09, 'b'},
			expected: Advertisement{ADCompleteLocalName: []byte("b")},
		},
		{
			name:     "zero padding terminates",
			input:    []byte{0x02, 0x01, 0x06, 0x00, 0x00, 0x00},
			expected: Advertisement{ADFlags: {0x06}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAdvertisement(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDecodeAdvertisementErrors(t *testing.T) {
	t.Run("truncated record", func(t *testing.T) {
		_, err := DecodeAdvertisement([]byte{0x02, 0x01, 0x06, 0x05, 0x09, 'a'})
		var advErr *AdvertisementError
		require.ErrorAs(t, err, &advErr, "overrun MUST be reported as a truncated record")
		assert.Equal(t, 3, advErr.Offset)
		assert.Equal(t, 5, advErr.Length)
		assert.Equal(t, 2, advErr.Remain)
		assert.Contains(t, err.Error(), "offset 3")
	})

	t.Run("length byte at the very end", func(t *testing.T) {
		_, err := DecodeAdvertisement([]byte{0x02, 0x01, 0x06, 0x03})
		var advErr *AdvertisementError
		assert.ErrorAs(t, err, &advErr)
	})

	t.Run("garbage after padding", func(t *testing.T) {
		_, err := DecodeAdvertisement([]byte{0x02, 0x01, 0x06, 0x00, 0x01})
		assert.Error(t, err, "non-zero padding MUST be rejected")
	})
}

func TestDecodeAdvertisementCopiesPayloads(t *testing.T) {
	input := []byte{0x03, 0xff, 0x01, 0x02}
	got, err := DecodeAdvertisement(input)
	require.NoError(t, err)

	input[2] = 0xee
	assert.Equal(t, []byte{0x01, 0x02}, got[ADManufacturerData], "payload MUST NOT alias the input")
}

func TestAdvertisementHelpers(t *testing.T) {
	adv := Advertisement{ADManufacturerData: {1}, ADFlags: {6}, ADComplete128BitUUIDs: {2}}

	assert.Equal(t, []ADType{ADFlags, ADComplete128BitUUIDs, ADManufacturerData}, adv.Tags())
	v, ok := adv.Get(ADFlags)
	assert.True(t, ok)
	assert.Equal(t, []byte{6}, v)
	_, ok = adv.Get(ADTxPowerLevel)
	assert.False(t, ok)

	assert.Equal(t, "07", ADComplete128BitUUIDs.String())
	assert.Equal(t, "ff", ADManufacturerData.String())
}
