package common

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected classifies every protocol-level refusal of a call. Engines
	// wrap it so callers can tell a rejected call from an infrastructure fault.
	ErrRejected = errors.New("call rejected")

	ErrModulePaused = fmt.Errorf("%w: module paused", ErrRejected)
)

const (
	ModuleEscrow  = "escrow"
	ModuleAuction = "auction"
)

// Modules lists the protocol modules that can be paused.
var Modules = []string{ModuleEscrow, ModuleAuction}

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// KnownModule reports whether the module name can be paused.
func KnownModule(module string) bool {
	for _, m := range Modules {
		if m == module {
			return true
		}
	}
	return false
}
