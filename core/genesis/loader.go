package genesis

import (
	"fmt"

	"custodychain/core/state"
)

// Apply writes the genesis allocations and pause flags into manager. The caller
// commits the trie afterwards.
func Apply(spec *Spec, manager *state.Manager) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if manager == nil {
		return fmt.Errorf("state manager must not be nil")
	}
	if err := manager.SetSchemaVersion(state.SchemaVersion); err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	for _, alloc := range spec.Allocations() {
		if alloc.Balance.Sign() == 0 {
			continue
		}
		if err := manager.Credit(alloc.Address, alloc.Balance); err != nil {
			return fmt.Errorf("alloc %x: %w", alloc.Address, err)
		}
	}
	for _, module := range spec.PausedModules {
		if err := manager.SetPaused(module, true); err != nil {
			return fmt.Errorf("pause %s: %w", module, err)
		}
	}
	return nil
}
