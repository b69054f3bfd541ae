package gattc

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/navble/internal/radio"
)

// Service is a primary service of a Peripheral.
type Service struct {
	peripheral *Peripheral
	start, end uint16
	uuid       ble.UUID

	characteristics discovery[*Characteristic]
}

func newService(p *Peripheral, ev radio.ServiceResult) *Service {
	return &Service{
		peripheral: p,
		start:      ev.Start,
		end:        ev.End,
		uuid:       append(ble.UUID(nil), ev.UUID...),
	}
}

func (s *Service) UUID() ble.UUID          { return s.uuid }
func (s *Service) Start() uint16           { return s.start }
func (s *Service) End() uint16             { return s.end }
func (s *Service) Conn() radio.ConnHandle  { return s.peripheral.conn }
func (s *Service) Peripheral() *Peripheral { return s.peripheral }

// Characteristics returns the discovered characteristics, or nil before discovery.
func (s *Service) Characteristics() []*Characteristic {
	chars, _ := s.characteristics.cached()
	return chars
}

func (s *Service) String() string {
	return fmt.Sprintf("service %s [0x%04x-0x%04x]", s.uuid, s.start, s.end)
}

// DiscoverCharacteristics runs characteristic discovery and replaces the
// cached characteristics.
func (s *Service) DiscoverCharacteristics(ctx context.Context) ([]*Characteristic, error) {
	return s.characteristics.load(ctx, true, s.discoverCharacteristics)
}

// GetCharacteristic returns the characteristics with the given UUID,
// discovering them first when needed or when rediscover is set.
func (s *Service) GetCharacteristic(ctx context.Context, uuid ble.UUID, rediscover bool) ([]*Characteristic, error) {
	if err := s.peripheral.usable(); err != nil {
		return nil, err
	}
	chars, err := s.characteristics.load(ctx, rediscover, s.discoverCharacteristics)
	if err != nil {
		return nil, err
	}
	return matching(chars, uuid, "characteristic", s.String())
}

func (s *Service) discoverCharacteristics(ctx context.Context) ([]*Characteristic, error) {
	p := s.peripheral
	err := p.procedure(ctx, expectation{proc: procCharacteristics, conn: p.conn}, func() error {
		return p.client.stack.DiscoverCharacteristics(p.conn, s.start, s.end)
	})
	if err != nil {
		return nil, err
	}
	chars := snapshot[*Characteristic](p.cache)
	for _, ch := range chars {
		ch.service = s
	}
	return chars, nil
}
