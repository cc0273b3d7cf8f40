package common

import (
	"strings"

	ledgererrors "daoledger/core/errors"
)

var ErrModulePaused = ledgererrors.New(ledgererrors.KindPrecondition, "module paused")

const (
	ModuleVesting  = "vesting"
	ModulePool     = "pool"
	ModuleTraining = "training"
	ModuleBounty   = "bounty"
)

type PauseView interface {
	IsPaused(module string) bool
}

// Pauses is a static PauseView keyed by module name.
type Pauses map[string]bool

// IsPaused implements PauseView.
func (p Pauses) IsPaused(module string) bool {
	return p[strings.ToLower(strings.TrimSpace(module))]
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
