package update

import (
	"fmt"

	"uplift/internal/debug"
	apperrors "uplift/internal/errors"
)

// InstallState is a step of one install attempt.
type InstallState int

const (
	StateIdle InstallState = iota
	StateDownloaded
	StateValidating
	StateSwapping
	StateElevationRequested
	StateSwapped
	StateCleaningUp
	StateCompleted
	StateRolledBack
	StateFailed
)

var stateNames = map[InstallState]string{
	StateIdle:               "idle",
	StateDownloaded:         "downloaded",
	StateValidating:         "validating",
	StateSwapping:           "swapping",
	StateElevationRequested: "elevation_requested",
	StateSwapped:            "swapped",
	StateCleaningUp:         "cleaning_up",
	StateCompleted:          "completed",
	StateRolledBack:         "rolled_back",
	StateFailed:             "failed",
}

// String returns the journal name of the state.
func (s InstallState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ParseInstallState is the inverse of String.
func ParseInstallState(s string) (InstallState, error) {
	for state, name := range stateNames {
		if name == s {
			return state, nil
		}
	}
	return StateIdle, apperrors.New(apperrors.CodeParse, fmt.Sprintf("unknown install state %q", s), nil)
}

// Terminal reports whether no further transition is possible.
func (s InstallState) Terminal() bool {
	return s == StateCompleted || s == StateRolledBack || s == StateFailed
}

// transitions lists the legal successors of each state. The order of
// states is strictly forward, so no state is ever revisited.
var transitions = map[InstallState][]InstallState{
	StateIdle:               {StateDownloaded, StateFailed},
	StateDownloaded:         {StateValidating, StateFailed},
	StateValidating:         {StateSwapping, StateFailed},
	StateSwapping:           {StateElevationRequested, StateSwapped, StateRolledBack, StateFailed},
	StateElevationRequested: {StateSwapped, StateRolledBack, StateFailed},
	StateSwapped:            {StateCleaningUp},
	StateCleaningUp:         {StateCompleted},
}

// CanTransition reports whether s may move to next.
func (s InstallState) CanTransition(next InstallState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InstallContext is owned by a single Install call.
type InstallContext struct {
	ID            string
	AppName       string
	TargetVersion string
	WorkDir       string
	InstallPath   string
	// BackupPath is set once the installer decides where the backup goes.
	BackupPath string
	Elevated   bool

	state    InstallState
	observer func(ic *InstallContext, err error)
}

// State returns the current state.
func (ic *InstallContext) State() InstallState {
	return ic.state
}

// advance moves to next, rejecting illegal transitions.
func (ic *InstallContext) advance(next InstallState) error {
	return ic.advanceWithError(next, nil)
}

// advanceWithError moves to next and reports cause to the observer.
func (ic *InstallContext) advanceWithError(next InstallState, cause error) error {
	if !ic.state.CanTransition(next) {
		return apperrors.New(apperrors.CodeUnknown,
			fmt.Sprintf("illegal install transition %s -> %s", ic.state, next), nil)
	}
	debug.Logf("install %s: %s -> %s", ic.ID, ic.state, next)
	ic.state = next
	if ic.observer != nil {
		ic.observer(ic, cause)
	}
	return nil
}
