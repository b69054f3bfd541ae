package navigation

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/navble/internal/radio"
)

// Komoot navigation service and characteristic.
const (
	KomootServiceUUID        = "71c1e128-d92f-4fa8-a2b2-0f171db3436c"
	KomootCharacteristicUUID = "503dd605-9bcb-4f6e-b235-270a57483026"
)

// Target identifies the navigation source: the advertising record that
// marks it and the GATT attribute carrying the instructions.
type Target struct {
	Tag                radio.ADType
	Signature          []byte
	ServiceUUID        ble.UUID
	CharacteristicUUID ble.UUID
}

// DefaultTarget returns the Komoot target. The phone advertises the service
// UUID as a complete 128-bit list; go-ble keeps UUIDs in wire order, so the
// signature is the UUID's own bytes.
func DefaultTarget() Target {
	svc := ble.MustParse(KomootServiceUUID)
	return Target{
		Tag:                radio.ADComplete128BitUUIDs,
		Signature:          append([]byte(nil), svc...),
		ServiceUUID:        svc,
		CharacteristicUUID: ble.MustParse(KomootCharacteristicUUID),
	}
}

// NewTarget builds a target from its textual form.
func NewTarget(tag radio.ADType, signatureHex, serviceUUID, characteristicUUID string) (Target, error) {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return Target{}, fmt.Errorf("invalid signature %q: %w", signatureHex, err)
	}
	svc, err := ble.Parse(serviceUUID)
	if err != nil {
		return Target{}, fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}
	chr, err := ble.Parse(characteristicUUID)
	if err != nil {
		return Target{}, fmt.Errorf("invalid characteristic UUID %q: %w", characteristicUUID, err)
	}
	return Target{Tag: tag, Signature: sig, ServiceUUID: svc, CharacteristicUUID: chr}, nil
}

// Matches reports whether a raw advertising payload carries the signature
// under the target's tag. Malformed payloads never match.
func (t Target) Matches(advData []byte) bool {
	adv, err := radio.DecodeAdvertisement(advData)
	if err != nil {
		return false
	}
	payload, ok := adv[t.Tag]
	return ok && bytes.Equal(payload, t.Signature)
}
