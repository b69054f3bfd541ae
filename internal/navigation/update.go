// Package navigation turns a phone running a turn-by-turn navigation app into
// a data source: it finds the phone by its advertisement, subscribes to the
// navigation characteristic and hands decoded instructions to a Display.
package navigation

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// headerLen is the fixed part of a navigation payload: id, direction, distance.
const headerLen = 9

// NoNavData is shown when the characteristic holds no usable instruction.
const NoNavData = "No nav data"

// Update is one navigation instruction.
type Update struct {
	ID        uint32
	Direction int8
	Distance  uint32 // meters
	Street    string
}

func (u Update) String() string {
	return fmt.Sprintf("#%d dir=%d %s %s", u.ID, u.Direction, FormatDistance(u.Distance), u.Street)
}

// Decode parses a navigation payload:
//
//	[id u32 LE][direction i8][distance u32 LE][street UTF-8]
//
// ok is false for short payloads and for a street that is not valid UTF-8.
func Decode(data []byte) (u Update, ok bool) {
	if len(data) < headerLen {
		return Update{}, false
	}
	street := data[headerLen:]
	if !utf8.Valid(street) {
		return Update{}, false
	}
	return Update{
		ID:        binary.LittleEndian.Uint32(data[0:4]),
		Direction: int8(data[4]),
		Distance:  binary.LittleEndian.Uint32(data[5:9]),
		Street:    string(street),
	}, true
}

// FormatDistance renders a distance the way the display shows it: meters
// rounded to tens below one kilometer, kilometers with one decimal below
// ten, and whole tens of kilometers with a "k" suffix above.
func FormatDistance(meters uint32) string {
	switch {
	case meters >= 9950:
		km := float64(meters) / 1000
		return fmt.Sprintf("%dk", int(math.Round(km/10)*10))
	case meters > 990:
		return fmt.Sprintf("%.1fkm", float64(meters)/1000)
	default:
		return fmt.Sprintf("%dm", int(math.Round(float64(meters)/10)*10))
	}
}
