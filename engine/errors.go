package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures.
type ErrorKind int

// The engine failure kinds.
const (
	StartupFailed ErrorKind = iota + 1
	Timeout
	Diverged
	UnknownDevice
)

// Sentinels matching each kind with errors.Is.
var (
	ErrStartupFailed = errors.New("engine startup failed")
	ErrTimeout       = errors.New("engine timed out")
	ErrDiverged      = errors.New("engine diverged")
	ErrUnknownDevice = errors.New("unknown device")
)

// ErrNotReady is returned when an operation needs the engine to be Ready.
var ErrNotReady = errors.New("engine is not ready")

func (k ErrorKind) String() string {
	switch k {
	case StartupFailed:
		return "StartupFailed"
	case Timeout:
		return "Timeout"
	case Diverged:
		return "Diverged"
	case UnknownDevice:
		return "UnknownDevice"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case StartupFailed:
		return ErrStartupFailed
	case Timeout:
		return ErrTimeout
	case Diverged:
		return ErrDiverged
	case UnknownDevice:
		return ErrUnknownDevice
	default:
		return nil
	}
}

// Error is a classified failure of a named engine.
type Error struct {
	Engine string
	Kind   ErrorKind
	Err    error
}

// NewError creates an Error.
func NewError(engine string, kind ErrorKind, cause error) *Error {
	return &Error{Engine: engine, Kind: kind, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine %q: %s", e.Engine, e.Kind)
	}

	return fmt.Sprintf("engine %q: %s: %v", e.Engine, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)

	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}

	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

// KindOf classifies an error returned by an adapter. Adapters may return an
// *Error or any error wrapping one of the kind sentinels. Unclassified errors
// report false.
func KindOf(err error) (ErrorKind, bool) {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Kind, true
	}

	for _, k := range []ErrorKind{StartupFailed, Timeout, Diverged, UnknownDevice} {
		if errors.Is(err, k.sentinel()) {
			return k, true
		}
	}

	return 0, false
}

// classify wraps err into an *Error of the given engine, keeping an existing
// classification and falling back to the given kind.
func classify(engine string, err error, fallback ErrorKind) *Error {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr
	}

	kind, ok := KindOf(err)
	if !ok {
		kind = fallback
	}

	return NewError(engine, kind, err)
}
