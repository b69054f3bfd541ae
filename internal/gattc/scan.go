package gattc

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/navble/internal/radio"
)

// ScanResult is the first advertisement seen from an address during a scan.
type ScanResult struct {
	Addr        radio.Address
	AddrType    radio.AddrType
	Connectable bool
	RSSI        int8
	Data        []byte
}

// Address returns the canonical string form of the address.
func (r ScanResult) Address() string {
	return r.Addr.String()
}

// Advertisement decodes the raw advertising payload.
func (r ScanResult) Advertisement() (radio.Advertisement, error) {
	return radio.DecodeAdvertisement(r.Data)
}

// ScanTable holds the results of one scan in first-seen order. Later
// sightings of an address are dropped, not merged.
type ScanTable struct {
	results *orderedmap.OrderedMap[radio.Address, ScanResult]
}

func newScanTable() *ScanTable {
	return &ScanTable{results: orderedmap.New[radio.Address, ScanResult]()}
}

func (t *ScanTable) add(r ScanResult) bool {
	if _, seen := t.results.Get(r.Addr); seen {
		return false
	}
	t.results.Set(r.Addr, r)
	return true
}

// Len returns the number of distinct addresses.
func (t *ScanTable) Len() int {
	return t.results.Len()
}

// Get returns the result recorded for addr.
func (t *ScanTable) Get(addr radio.Address) (ScanResult, bool) {
	return t.results.Get(addr)
}

// Results returns the results in first-seen order.
func (t *ScanTable) Results() []ScanResult {
	out := make([]ScanResult, 0, t.results.Len())
	for pair := t.results.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
