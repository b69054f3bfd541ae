package gattc

import (
	"context"

	"github.com/go-ble/ble"
)

// DiscoveryState is the state of a lazily discovered collection.
type DiscoveryState int

const (
	NotDiscovered DiscoveryState = iota
	Discovering
	Cached
)

func (s DiscoveryState) String() string {
	switch s {
	case NotDiscovered:
		return "not_discovered"
	case Discovering:
		return "discovering"
	case Cached:
		return "cached"
	default:
		return "unknown"
	}
}

// discovery holds the children of a GATT entity. A discovered empty
// collection is Cached, not NotDiscovered.
type discovery[T any] struct {
	state DiscoveryState
	items []T
}

// load runs discover unless the collection is cached and rediscover is false.
// A failed discovery leaves the collection NotDiscovered.
func (d *discovery[T]) load(ctx context.Context, rediscover bool, discover func(context.Context) ([]T, error)) ([]T, error) {
	if d.state == Cached && !rediscover {
		return d.items, nil
	}
	if d.state == Discovering {
		return nil, ErrBusy
	}

	d.state = Discovering
	items, err := discover(ctx)
	if err != nil {
		d.state = NotDiscovered
		d.items = nil
		return nil, err
	}
	d.items = items
	d.state = Cached
	return items, nil
}

// cached returns the items when the collection is Cached.
func (d *discovery[T]) cached() ([]T, bool) {
	if d.state != Cached {
		return nil, false
	}
	return d.items, true
}

type uuidEntity interface {
	UUID() ble.UUID
}

// matching returns the entities whose UUID equals uuid, or a NotFoundError
// naming the parent. It never returns an empty slice without an error.
func matching[T uuidEntity](items []T, uuid ble.UUID, resource, parent string) ([]T, error) {
	var out []T
	for _, item := range items {
		if item.UUID().Equal(uuid) {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil, &NotFoundError{Resource: resource, UUID: uuid, Parent: parent}
	}
	return out, nil
}
