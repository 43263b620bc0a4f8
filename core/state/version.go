package state

import (
	"errors"
	"fmt"
	"math"
)

// SchemaVersion identifies the on-disk layout of ledger state. Increment it
// whenever a stored record changes shape.
const SchemaVersion uint32 = 1

var (
	schemaVersionKey = []byte("state/version")

	ErrSchemaVersionMismatch = errors.New("state: schema version mismatch")
)

// SetSchemaVersion records the provided schema version in state.
func (m *Manager) SetSchemaVersion(version uint32) error {
	return m.KVPut(schemaVersionKey, uint64(version))
}

// SchemaVersion returns the stored schema version and whether it was present.
func (m *Manager) SchemaVersion() (uint32, bool, error) {
	var stored uint64
	ok, err := m.KVGet(schemaVersionKey, &stored)
	if err != nil || !ok {
		return 0, ok, err
	}
	if stored > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// EnsureSchemaVersion verifies that stored state matches the layout this
// binary reads. Empty state is accepted and stamped by genesis.
func (m *Manager) EnsureSchemaVersion() error {
	version, ok, err := m.SchemaVersion()
	if err != nil {
		return err
	}
	if !ok || version == SchemaVersion {
		return nil
	}
	return fmt.Errorf("%w: on-disk=%d expected=%d", ErrSchemaVersionMismatch, version, SchemaVersion)
}
