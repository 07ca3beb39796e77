package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sarchlab/cosim/device"
	"github.com/sarchlab/cosim/sim"
)

// Hook positions triggered by a Handle.
var (
	HookPosStateChange  = &sim.HookPos{Name: "EngineStateChange"}
	HookPosAdvanceRetry = &sim.HookPos{Name: "EngineAdvanceRetry"}
	HookPosShutdownFail = &sim.HookPos{Name: "EngineShutdownFail"}
)

// DefaultShutdownTimeout bounds how long a Handle waits for an adapter to
// shut down.
const DefaultShutdownTimeout = 5 * time.Second

// A Handle supervises an Adapter. It owns the lifecycle state machine,
// retries transient timeouts once, bounds the wall-clock time of advance and
// shutdown calls and records the engine time.
type Handle struct {
	sim.HookableBase

	cfg             Config
	adapter         Adapter
	critical        bool
	advanceTimeout  time.Duration
	shutdownTimeout time.Duration

	lock    sync.Mutex
	state   State
	time    sim.VTimeInSec
	lastErr error
	retries uint64
	steps   uint64
}

// NewHandle creates a Handle for an adapter that is not yet initialized.
func NewHandle(adapter Adapter, cfg Config) *Handle {
	return &Handle{
		cfg:             cfg,
		adapter:         adapter,
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// WithAdvanceTimeout bounds each advance call. Zero disables the bound.
func (h *Handle) WithAdvanceTimeout(d time.Duration) *Handle {
	h.advanceTimeout = d
	return h
}

// WithShutdownTimeout bounds the shutdown call.
func (h *Handle) WithShutdownTimeout(d time.Duration) *Handle {
	h.shutdownTimeout = d
	return h
}

// WithCritical marks the engine as critical: its fault aborts the run.
func (h *Handle) WithCritical(critical bool) *Handle {
	h.critical = critical
	return h
}

// Name returns the engine name.
func (h *Handle) Name() string {
	return h.cfg.Name
}

// Config returns the engine configuration.
func (h *Handle) Config() Config {
	return h.cfg
}

// Timestep returns the engine's own step granularity.
func (h *Handle) Timestep() sim.VTimeInSec {
	return h.cfg.Timestep
}

// Critical tells if a fault of this engine aborts the run.
func (h *Handle) Critical() bool {
	return h.critical
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.state
}

// Time returns the engine time reached by the last successful advance.
func (h *Handle) Time() sim.VTimeInSec {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.time
}

// LastError returns the error that faulted the engine, if any.
func (h *Handle) LastError() error {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.lastErr
}

// Retries returns how many advances were retried after a timeout.
func (h *Handle) Retries() uint64 {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.retries
}

// Steps returns the number of successful advances.
func (h *Handle) Steps() uint64 {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.steps
}

func (h *Handle) transit(to State, cause error) {
	h.lock.Lock()
	from := h.state
	if from == to || !canTransit(from, to) {
		h.lock.Unlock()
		return
	}

	h.state = to
	if to == Faulted {
		h.lastErr = cause
	}
	h.lock.Unlock()

	h.InvokeHook(sim.HookCtx{
		Domain: h,
		Now:    h.Time(),
		Pos:    HookPosStateChange,
		Item:   StateChange{Engine: h.cfg.Name, From: from, To: to, Cause: cause},
	})
}

// Initialize starts the engine and moves it to Ready.
func (h *Handle) Initialize(ctx context.Context) error {
	if s := h.State(); s != Uninitialized {
		return NewError(h.cfg.Name, StartupFailed,
			fmt.Errorf("cannot initialize in state %s", s))
	}

	if h.cfg.Timestep <= 0 {
		err := NewError(h.cfg.Name, StartupFailed,
			fmt.Errorf("timestep must be positive, got %v", h.cfg.Timestep))
		h.transit(Faulted, err)

		return err
	}

	err := h.adapter.Initialize(ctx, h.cfg)
	if err != nil {
		engineErr := NewError(h.cfg.Name, StartupFailed, err)
		h.transit(Faulted, engineErr)

		return engineErr
	}

	h.transit(Ready, nil)

	return nil
}

// Advance moves the engine forward until target. A Timeout reported by the
// adapter is retried once; a second Timeout, a Diverged error, any
// unclassified error or an advance exceeding the wall-clock bound faults the
// engine.
func (h *Handle) Advance(
	ctx context.Context,
	target sim.VTimeInSec,
) (AdvanceReport, error) {
	if s := h.State(); s != Ready {
		return AdvanceReport{}, NewError(h.cfg.Name, Diverged,
			fmt.Errorf("%w: state is %s", ErrNotReady, s))
	}

	for attempt := 0; ; attempt++ {
		h.transit(Stepping, nil)

		report, abandoned, err := h.advanceOnce(ctx, target)
		if err == nil {
			return h.completeAdvance(report)
		}

		kind, _ := KindOf(err)
		if kind == Timeout && attempt == 0 && !abandoned {
			h.transit(Ready, nil)
			h.countRetry(err)

			continue
		}

		engineErr := classify(h.cfg.Name, err, Diverged)
		if engineErr.Kind != Diverged {
			engineErr = NewError(h.cfg.Name, Diverged, engineErr)
		}

		h.transit(Faulted, engineErr)

		return AdvanceReport{}, engineErr
	}
}

func (h *Handle) countRetry(cause error) {
	h.lock.Lock()
	h.retries++
	h.lock.Unlock()

	h.InvokeHook(sim.HookCtx{
		Domain: h,
		Now:    h.Time(),
		Pos:    HookPosAdvanceRetry,
		Item:   h.cfg.Name,
		Detail: cause,
	})
}

func (h *Handle) completeAdvance(report AdvanceReport) (AdvanceReport, error) {
	report.Engine = h.cfg.Name

	h.lock.Lock()
	prev := h.time
	h.lock.Unlock()

	if report.Time < prev {
		err := NewError(h.cfg.Name, Diverged,
			fmt.Errorf("engine time went back from %v to %v", prev, report.Time))
		h.transit(Faulted, err)

		return AdvanceReport{}, err
	}

	h.lock.Lock()
	h.time = report.Time
	h.steps++
	h.lock.Unlock()

	h.transit(Ready, nil)

	return report, nil
}

type advanceResult struct {
	report AdvanceReport
	err    error
}

// advanceOnce runs one adapter advance. When the wall-clock bound expires the
// in-flight call is not interrupted; it is abandoned and reported as such.
func (h *Handle) advanceOnce(
	ctx context.Context,
	target sim.VTimeInSec,
) (AdvanceReport, bool, error) {
	if h.advanceTimeout <= 0 {
		report, err := h.adapter.Advance(ctx, target)
		return report, false, err
	}

	boundedCtx, cancel := context.WithTimeout(ctx, h.advanceTimeout)
	defer cancel()

	done := make(chan advanceResult, 1)
	go func() {
		report, err := h.adapter.Advance(boundedCtx, target)
		done <- advanceResult{report: report, err: err}
	}()

	select {
	case res := <-done:
		return res.report, false, res.err
	case <-boundedCtx.Done():
		return AdvanceReport{}, true, NewError(h.cfg.Name, Diverged,
			fmt.Errorf("advance to %v not completed within %v: %w",
				target, h.advanceTimeout, boundedCtx.Err()))
	}
}

// PushDevices writes input devices into a Ready engine.
func (h *Handle) PushDevices(ctx context.Context, devices []device.Device) error {
	if s := h.State(); s != Ready {
		return NewError(h.cfg.Name, Diverged,
			fmt.Errorf("%w: state is %s", ErrNotReady, s))
	}

	err := h.adapter.PushDevices(ctx, devices)
	if err != nil {
		return h.deviceIOError(err)
	}

	return nil
}

// PullDevices reads output devices from a Ready engine.
func (h *Handle) PullDevices(
	ctx context.Context,
	ids []device.Identifier,
) ([]device.Device, error) {
	if s := h.State(); s != Ready {
		return nil, NewError(h.cfg.Name, Diverged,
			fmt.Errorf("%w: state is %s", ErrNotReady, s))
	}

	devices, err := h.adapter.PullDevices(ctx, ids)
	if err != nil {
		return nil, h.deviceIOError(err)
	}

	return devices, nil
}

// deviceIOError keeps UnknownDevice errors non-fatal; anything else faults
// the engine.
func (h *Handle) deviceIOError(err error) error {
	engineErr := classify(h.cfg.Name, err, Diverged)
	if engineErr.Kind != UnknownDevice {
		h.transit(Faulted, engineErr)
	}

	return engineErr
}

// Shutdown stops the engine. It always ends in Stopped. An adapter that fails
// or does not answer within the shutdown timeout is reported through the
// returned error and a HookPosShutdownFail hook, but never blocks the caller
// for longer than the timeout.
func (h *Handle) Shutdown(ctx context.Context) error {
	state := h.State()
	if state == Stopped || state == ShuttingDown {
		return nil
	}

	h.transit(ShuttingDown, nil)

	var err error
	if state != Uninitialized {
		err = h.shutdownAdapter(ctx)
	}

	h.transit(Stopped, nil)

	if err != nil {
		h.InvokeHook(sim.HookCtx{
			Domain: h,
			Now:    h.Time(),
			Pos:    HookPosShutdownFail,
			Item:   h.cfg.Name,
			Detail: err,
		})
	}

	return err
}

func (h *Handle) shutdownAdapter(ctx context.Context) error {
	boundedCtx, cancel := context.WithTimeout(ctx, h.shutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("shutdown panicked: %v", r)
			}
		}()

		done <- h.adapter.Shutdown(boundedCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-boundedCtx.Done():
		return fmt.Errorf("engine %q did not shut down within %v: %w",
			h.cfg.Name, h.shutdownTimeout, boundedCtx.Err())
	}
}
