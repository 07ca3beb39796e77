package transceiver

import (
	"errors"
	"fmt"
)

var (
	// ErrCyclicDependency is returned when the functions depend on each other
	// in a cycle.
	ErrCyclicDependency = errors.New("cyclic transceiver function dependency")

	// ErrDuplicateFunction is returned when two functions share a name.
	ErrDuplicateFunction = errors.New("duplicate transceiver function")

	// ErrSelfLoop is returned when a function produces a device it also
	// consumes.
	ErrSelfLoop = errors.New("transceiver function consumes its own output")

	// ErrInvalidDeclaration is returned for incomplete or inconsistent
	// declarations.
	ErrInvalidDeclaration = errors.New("invalid transceiver function declaration")

	// ErrInvalidOutput is returned when an invocation produces a device the
	// function is not allowed to write.
	ErrInvalidOutput = errors.New("invalid transceiver function output")
)

// A FunctionError records a failed invocation. Its outputs are discarded.
type FunctionError struct {
	Function string
	Step     uint64
	Err      error
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("transceiver function %q failed at step %d: %v",
		e.Function, e.Step, e.Err)
}

func (e *FunctionError) Unwrap() error {
	return e.Err
}
