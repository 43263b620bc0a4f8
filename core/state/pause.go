package state

import (
	"fmt"

	nativecommon "custodychain/native/common"
)

// SetPaused toggles the pause flag of a protocol module.
func (m *Manager) SetPaused(module string, paused bool) error {
	if !nativecommon.KnownModule(module) {
		return fmt.Errorf("pause: unknown module %q", module)
	}
	if !paused {
		return m.KVDelete(pauseKey(module))
	}
	return m.KVPut(pauseKey(module), true)
}

// Paused reports whether module is paused.
func (m *Manager) Paused(module string) (bool, error) {
	var paused bool
	ok, err := m.KVGet(pauseKey(module), &paused)
	if err != nil || !ok {
		return false, err
	}
	return paused, nil
}

// IsPaused satisfies nativecommon.PauseView. Read failures are treated as not
// paused; they surface again on the engine's own state access.
func (m *Manager) IsPaused(module string) bool {
	paused, err := m.Paused(module)
	return err == nil && paused
}

// PausedModules lists the currently paused modules.
func (m *Manager) PausedModules() ([]string, error) {
	var out []string
	for _, module := range nativecommon.Modules {
		paused, err := m.Paused(module)
		if err != nil {
			return nil, err
		}
		if paused {
			out = append(out, module)
		}
	}
	return out, nil
}
