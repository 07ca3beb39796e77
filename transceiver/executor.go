package transceiver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sarchlab/cosim/device"
	"github.com/sarchlab/cosim/registry"
	"github.com/sarchlab/cosim/sim"
)

// Hook positions triggered by an Executor.
var (
	HookPosInvokeStart = &sim.HookPos{Name: "FunctionInvokeStart"}
	HookPosInvokeEnd   = &sim.HookPos{Name: "FunctionInvokeEnd"}
	HookPosSkipped     = &sim.HookPos{Name: "FunctionSkipped"}
	HookPosFailed      = &sim.HookPos{Name: "FunctionFailed"}
	HookPosDisabled    = &sim.HookPos{Name: "FunctionDisabled"}
)

// DefaultMaxConsecutiveFailures is the number of consecutive failed steps
// after which a function is disabled.
const DefaultMaxConsecutiveFailures = 3

// SkipReason tells why a function did not run in a step.
type SkipReason string

// The skip reasons.
const (
	SkipInactive     SkipReason = "inactive"
	SkipDisabled     SkipReason = "disabled"
	SkipNoFreshInput SkipReason = "no fresh input"
	SkipMissing      SkipReason = "missing source"
	SkipStaleSource  SkipReason = "stale source"
)

// SkipRecord describes a function that did not run.
type SkipRecord struct {
	Function string
	Step     uint64
	Reason   SkipReason
	Source   string
}

// Invocation describes a function run.
type Invocation struct {
	Function string
	Step     uint64
	Inputs   int
	Outputs  []device.Device
	Duration time.Duration
	Err      error
}

// Status is the observable state of a function.
type Status struct {
	Name                string
	TargetEngine        string
	Active              bool
	Disabled            bool
	Invocations         uint64
	Failures            uint64
	ConsecutiveFailures int
	LastError           error
}

// StepReport summarizes the functions of one step.
type StepReport struct {
	Step    uint64
	Invoked []string
	Skipped []SkipRecord
	Failed  []*FunctionError

	// Outputs holds the published outputs per target engine, in
	// publication order.
	Outputs map[string][]device.Device
}

type functionState struct {
	active      bool
	disabled    bool
	invocations uint64
	failures    uint64
	consecutive int
	lastErr     error
}

// An Executor runs scheduled functions against a registry.
type Executor struct {
	sim.HookableBase

	schedule    *Schedule
	registry    *registry.Registry
	maxFailures int

	lock   sync.Mutex
	states map[string]*functionState
}

// NewExecutor creates an executor running the schedule.
func NewExecutor(s *Schedule, r *registry.Registry) *Executor {
	e := &Executor{
		schedule:    s,
		registry:    r,
		maxFailures: DefaultMaxConsecutiveFailures,
		states:      make(map[string]*functionState),
	}

	for _, f := range s.order {
		e.states[f.name] = &functionState{active: f.active}
	}

	return e
}

// WithMaxConsecutiveFailures sets after how many consecutive failed steps a
// function is disabled. Zero never disables.
func (e *Executor) WithMaxConsecutiveFailures(n int) *Executor {
	e.maxFailures = n
	return e
}

// Schedule returns the schedule being executed.
func (e *Executor) Schedule() *Schedule {
	return e.schedule
}

// SetActive turns a function on or off. Activating a function also clears a
// disabled state.
func (e *Executor) SetActive(name string, active bool) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	st, ok := e.states[name]
	if !ok {
		return fmt.Errorf("unknown transceiver function %q", name)
	}

	st.active = active
	if active {
		st.disabled = false
		st.consecutive = 0
	}

	return nil
}

// Status returns the state of a function.
func (e *Executor) Status(name string) (Status, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	for _, f := range e.schedule.order {
		if f.name == name {
			return e.statusLocked(f), true
		}
	}

	return Status{}, false
}

// Statuses returns the state of all functions in execution order.
func (e *Executor) Statuses() []Status {
	e.lock.Lock()
	defer e.lock.Unlock()

	statuses := make([]Status, 0, len(e.schedule.order))
	for _, f := range e.schedule.order {
		statuses = append(statuses, e.statusLocked(f))
	}

	return statuses
}

func (e *Executor) statusLocked(f *Function) Status {
	st := e.states[f.name]

	return Status{
		Name:                f.name,
		TargetEngine:        f.target,
		Active:              st.active,
		Disabled:            st.disabled,
		Invocations:         st.invocations,
		Failures:            st.failures,
		ConsecutiveFailures: st.consecutive,
		LastError:           st.lastErr,
	}
}

// Execute runs the functions of one step in schedule order. A function runs
// if one of its source engines is in fresh or if a function earlier in the
// step published one of its sources. Outputs are stamped with the step as
// generation and now as time.
func (e *Executor) Execute(
	step uint64,
	now sim.VTimeInSec,
	fresh map[string]bool,
) StepReport {
	report := StepReport{
		Step:    step,
		Outputs: make(map[string][]device.Device),
	}

	var produced []device.Identifier

	for _, f := range e.schedule.order {
		if reason, ok := e.runnable(f); !ok {
			e.skip(&report, f, now, reason, "")
			continue
		}

		if !isEligible(f, fresh, produced) {
			e.skip(&report, f, now, SkipNoFreshInput, "")
			continue
		}

		in, reason, source := e.gather(f, step, now)
		if reason != "" {
			e.skip(&report, f, now, reason, source)
			continue
		}

		outputs, err := e.invoke(f, in, step, now)
		if err != nil {
			report.Failed = append(report.Failed, err)
			continue
		}

		report.Invoked = append(report.Invoked, f.name)

		for _, d := range outputs {
			if err := e.registry.Publish(d); err != nil {
				continue
			}

			report.Outputs[f.target] = append(report.Outputs[f.target], d)
			produced = append(produced, d.ID())
		}
	}

	return report
}

func (e *Executor) runnable(f *Function) (SkipReason, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	st := e.states[f.name]
	switch {
	case st.disabled:
		return SkipDisabled, false
	case !st.active:
		return SkipInactive, false
	}

	return "", true
}

func isEligible(
	f *Function,
	fresh map[string]bool,
	produced []device.Identifier,
) bool {
	for _, s := range f.sources {
		engine := s.Engine()
		if engine == "" && len(fresh) > 0 {
			return true
		}

		if fresh[engine] {
			return true
		}

		for _, id := range produced {
			if s.Matches(id) {
				return true
			}
		}
	}

	return false
}

func (e *Executor) gather(
	f *Function,
	step uint64,
	now sim.VTimeInSec,
) (Inputs, SkipReason, string) {
	in := Inputs{
		step:        step,
		now:         now,
		singles:     make(map[string]device.Device),
		collections: make(map[string][]device.Device),
	}

	for _, s := range f.sources {
		if s.Cardinality == Single {
			if e.registry.IsStale(s.ID.Engine()) {
				return Inputs{}, SkipStaleSource, s.Keyword
			}

			d, ok := e.registry.Lookup(s.ID)
			if !ok || !d.HasPayload() {
				return Inputs{}, SkipMissing, s.Keyword
			}

			in.singles[s.Keyword] = d

			continue
		}

		var devices []device.Device
		for _, d := range e.registry.LookupMatching(s.Filter) {
			if e.registry.IsStale(d.ID().Engine()) {
				continue
			}

			devices = append(devices, d)
			if s.Limit > 0 && len(devices) == s.Limit {
				break
			}
		}

		in.collections[s.Keyword] = devices
	}

	return in, "", ""
}

func (e *Executor) invoke(
	f *Function,
	in Inputs,
	step uint64,
	now sim.VTimeInSec,
) ([]device.Device, *FunctionError) {
	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Now:    now,
		Pos:    HookPosInvokeStart,
		Item:   f.name,
	})

	start := time.Now()
	outputs, err := f.call(in)
	duration := time.Since(start)

	if err == nil {
		outputs, err = stampOutputs(f, outputs, step, now)
	}

	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Now:    now,
		Pos:    HookPosInvokeEnd,
		Item: Invocation{
			Function: f.name,
			Step:     step,
			Inputs:   in.Len(),
			Outputs:  outputs,
			Duration: duration,
			Err:      err,
		},
	})

	if err != nil {
		return nil, e.fail(f, step, now, err)
	}

	e.lock.Lock()
	st := e.states[f.name]
	st.invocations++
	st.consecutive = 0
	e.lock.Unlock()

	return outputs, nil
}

func stampOutputs(
	f *Function,
	outputs []device.Device,
	step uint64,
	now sim.VTimeInSec,
) ([]device.Device, error) {
	stamped := make([]device.Device, 0, len(outputs))

	var errs []error
	for _, d := range outputs {
		if err := f.checkOutput(d.ID()); err != nil {
			errs = append(errs, err)
			continue
		}

		if !d.HasPayload() {
			errs = append(errs, fmt.Errorf("%w: %s has no payload",
				ErrInvalidOutput, d.ID()))
			continue
		}

		stamped = append(stamped, d.Stamped(step, now))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return stamped, nil
}

func (e *Executor) fail(
	f *Function,
	step uint64,
	now sim.VTimeInSec,
	err error,
) *FunctionError {
	fnErr := &FunctionError{Function: f.name, Step: step, Err: err}

	e.lock.Lock()
	st := e.states[f.name]
	st.invocations++
	st.failures++
	st.consecutive++
	st.lastErr = fnErr

	disable := e.maxFailures > 0 && st.consecutive >= e.maxFailures
	if disable {
		st.disabled = true
	}
	e.lock.Unlock()

	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Now:    now,
		Pos:    HookPosFailed,
		Item:   fnErr,
	})

	if disable {
		e.InvokeHook(sim.HookCtx{
			Domain: e,
			Now:    now,
			Pos:    HookPosDisabled,
			Item:   f.name,
			Detail: fnErr,
		})
	}

	return fnErr
}

func (e *Executor) skip(
	report *StepReport,
	f *Function,
	now sim.VTimeInSec,
	reason SkipReason,
	source string,
) {
	s := SkipRecord{Function: f.name, Step: report.Step, Reason: reason, Source: source}
	report.Skipped = append(report.Skipped, s)

	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Now:    now,
		Pos:    HookPosSkipped,
		Item:   s,
	})
}
