package simulation

import (
	"errors"
	"fmt"
)

// Reason tells why a run was aborted.
type Reason int

// The reasons of a FatalError.
const (
	SetupFailed Reason = iota + 1
	CriticalEngineFaulted
)

func (r Reason) String() string {
	switch r {
	case SetupFailed:
		return "SetupFailed"
	case CriticalEngineFaulted:
		return "CriticalEngineFaulted"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// ErrNotRunning is returned when stepping a simulation that is not set up or
// already stopped.
var ErrNotRunning = errors.New("simulation is not running")

// FatalError aborts a run.
type FatalError struct {
	Reason Reason
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
