package ven

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/homersoft/oadr2-ven-go/internal/opstate"
)

// LoadOrCreateInstanceID reads this VEN's stable instance identifier
// from opState, or generates a new UUIDv7 and persists it if none is
// stored yet. The instance ID survives reconfiguration of VenID so a
// VTN-side registration keyed on it stays stable across config edits.
func LoadOrCreateInstanceID(opState *opstate.Store) (string, error) {
	id, err := opState.Get("ven", "instance_id")
	if err != nil {
		return "", fmt.Errorf("ven: load instance id: %w", err)
	}
	if id != "" {
		return id, nil
	}

	newID, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("ven: generate instance id: %w", err)
	}

	if err := opState.Set("ven", "instance_id", newID.String()); err != nil {
		return "", fmt.Errorf("ven: persist instance id: %w", err)
	}
	return newID.String(), nil
}
