package gattc

import (
	"github.com/srg/navble/internal/radio"
)

// Cache is the scratch buffer of one connection. Discovery results, read
// payloads and completion statuses are appended in arrival order between
// the start of a procedure and its completion. The caller clears it before
// every procedure and consumes it right after.
//
// A Cache is not safe for concurrent use; it is only touched by the client's
// goroutine.
type Cache struct {
	items []any
}

// Clear empties the cache.
func (c *Cache) Clear() {
	clear(c.items)
	c.items = c.items[:0]
}

// Append adds an item.
func (c *Cache) Append(v any) {
	c.items = append(c.items, v)
}

// Len returns the number of items.
func (c *Cache) Len() int {
	return len(c.items)
}

// Items returns a copy of the items.
func (c *Cache) Items() []any {
	return append([]any(nil), c.items...)
}

// snapshot returns the items of type T in order.
func snapshot[T any](c *Cache) []T {
	out := make([]T, 0, len(c.items))
	for _, item := range c.items {
		if v, ok := item.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// lastStatus returns the trailing completion status.
func lastStatus(c *Cache) (radio.Status, bool) {
	if len(c.items) == 0 {
		return 0, false
	}
	s, ok := c.items[len(c.items)-1].(radio.Status)
	return s, ok
}

// readOutcome interprets the cache after a read: [payload, status] yields the
// payload when the status is success. A success without payload yields an
// empty value. A failure status or a missing status means no data.
func readOutcome(c *Cache) ([]byte, bool) {
	status, ok := lastStatus(c)
	if !ok || !status.OK() {
		return nil, false
	}
	if len(c.items) >= 2 {
		if payload, ok := c.items[len(c.items)-2].([]byte); ok {
			return payload, true
		}
	}
	return []byte{}, true
}
