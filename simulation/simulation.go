// Package simulation drives a set of engines and transceiver functions
// through discrete global steps.
//
// Each step advances every due engine to the next step boundary, publishes
// the devices the engines changed into the registry, runs the transceiver
// functions whose sources are fresh and queues their outputs as inputs of
// the target engines' next advance.
package simulation

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/cosim/datarecording"
	"github.com/sarchlab/cosim/device"
	"github.com/sarchlab/cosim/engine"
	"github.com/sarchlab/cosim/monitoring"
	"github.com/sarchlab/cosim/registry"
	"github.com/sarchlab/cosim/sim"
	"github.com/sarchlab/cosim/tracing"
	"github.com/sarchlab/cosim/transceiver"
)

// State is the lifecycle state of a Simulation.
type State int

// The simulation states.
const (
	Setup State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Setup:
		return "Setup"
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Hook positions triggered by a Simulation.
var (
	HookPosStateChange   = &sim.HookPos{Name: "SimulationStateChange"}
	HookPosStepEnd       = &sim.HookPos{Name: "SimulationStepEnd"}
	HookPosEngineFaulted = &sim.HookPos{Name: "SimulationEngineFaulted"}
	HookPosEngineAhead   = &sim.HookPos{Name: "SimulationEngineAhead"}
	HookPosDeviceIO      = &sim.HookPos{Name: "SimulationDeviceIOFailed"}
	HookPosTimeout       = &sim.HookPos{Name: "SimulationTimeout"}
)

// StateChange is the item of a HookPosStateChange hook.
type StateChange struct {
	From, To State
}

// StepSummary is the item of a HookPosStepEnd hook.
type StepSummary struct {
	Step      uint64
	Time      sim.VTimeInSec
	Advanced  []string
	Faulted   []string
	Functions transceiver.StepReport
	WallTime  time.Duration
}

// A Simulation is the synchronization loop of a co-simulation.
type Simulation struct {
	*sim.HookableBase

	id                string
	name              string
	timestep          sim.VTimeInSec
	approxRange       sim.VTimeInSec
	simulationTimeout time.Duration
	parallelAdvance   bool
	maxFailures       int
	activeOverrides   map[string]bool
	buildErr          error

	handles  []*engine.Handle
	registry *registry.Registry
	table    *transceiver.Table
	executor *transceiver.Executor

	dataRecorder datarecording.DataRecorder
	ownsRecorder bool
	recorder     *datarecording.Recorder
	dbTracer     *tracing.DBTracer
	monitor      *monitoring.Monitor

	lock    sync.RWMutex
	state   State
	ready   bool
	step    uint64
	now     sim.VTimeInSec
	pending map[string][]device.Device
	faulted map[string]bool

	stopRequested atomic.Bool
	runLock       sync.Mutex
	pauseLock     sync.Mutex
	isPausedLock  sync.Mutex
	isPaused      bool

	taskIDs        sim.IDGenerator
	stepTaskID     string
	functionTaskID string
}

// ID returns the unique ID of the run.
func (s *Simulation) ID() string {
	return s.id
}

// Name returns the name of the simulation.
func (s *Simulation) Name() string {
	return s.name
}

// State returns the lifecycle state.
func (s *Simulation) State() State {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.state
}

// CurrentTime returns the time of the last completed step boundary.
func (s *Simulation) CurrentTime() sim.VTimeInSec {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.now
}

// CurrentStep returns the number of completed steps.
func (s *Simulation) CurrentStep() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.step
}

// Timestep returns the global step length.
func (s *Simulation) Timestep() sim.VTimeInSec {
	return s.timestep
}

// Engines returns the engine handles in declaration order.
func (s *Simulation) Engines() []*engine.Handle {
	return slices.Clone(s.handles)
}

// Engine returns the handle of a named engine.
func (s *Simulation) Engine(name string) (*engine.Handle, bool) {
	for _, h := range s.handles {
		if h.Name() == name {
			return h, true
		}
	}

	return nil, false
}

// Registry returns the device registry.
func (s *Simulation) Registry() *registry.Registry {
	return s.registry
}

// Executor returns the transceiver function executor. It is nil before
// Setup.
func (s *Simulation) Executor() *transceiver.Executor {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.executor
}

// DataRecorder returns the recording backend, if recording is enabled.
func (s *Simulation) DataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// Monitor returns the monitoring server, if monitoring is enabled.
func (s *Simulation) Monitor() *monitoring.Monitor {
	return s.monitor
}

// AcceptHook registers a hook on the simulation and on every part of it, so
// that one hook observes engines, the registry and transceiver functions.
func (s *Simulation) AcceptHook(hook sim.Hook) {
	s.HookableBase.AcceptHook(hook)
	s.registry.AcceptHook(hook)

	for _, h := range s.handles {
		h.AcceptHook(hook)
	}

	if e := s.Executor(); e != nil {
		e.AcceptHook(hook)
	}
}

func (s *Simulation) setState(to State) {
	s.lock.Lock()
	from := s.state
	s.state = to
	now := s.now
	s.lock.Unlock()

	if from == to {
		return
	}

	s.InvokeHook(sim.HookCtx{
		Domain: s,
		Now:    now,
		Pos:    HookPosStateChange,
		Item:   StateChange{From: from, To: to},
	})
}

// SetFunctionActive turns a transceiver function on or off. Before Setup the
// change is applied when the executor is created.
func (s *Simulation) SetFunctionActive(name string, active bool) error {
	if e := s.Executor(); e != nil {
		return e.SetActive(name, active)
	}

	if _, ok := s.table.Get(name); !ok {
		return fmt.Errorf("%w: unknown function %q",
			transceiver.ErrInvalidDeclaration, name)
	}

	s.lock.Lock()
	s.activeOverrides[name] = active
	s.lock.Unlock()

	return nil
}

// Setup checks the declarations and initializes every engine. A run never
// starts with a partial engine set: if any engine fails to start, the others
// are shut down and the simulation stops.
func (s *Simulation) Setup(ctx context.Context) error {
	s.runLock.Lock()
	defer s.runLock.Unlock()

	return s.setup(ctx)
}

func (s *Simulation) setup(ctx context.Context) error {
	if s.ready {
		return nil
	}

	if s.State() != Setup {
		return ErrNotRunning
	}

	if err := s.prepare(); err != nil {
		s.drain(ctx)
		return &FatalError{Reason: SetupFailed, Err: err}
	}

	for _, h := range s.handles {
		if err := h.Initialize(ctx); err != nil {
			s.drain(ctx)
			return &FatalError{Reason: SetupFailed, Err: err}
		}
	}

	s.ready = true

	if s.recorder != nil {
		s.recorder.Start(s.properties())
	}

	s.setState(Running)

	return nil
}

// Schedule checks the declarations without starting any engine and returns
// the order in which the transceiver functions will run.
func (s *Simulation) Schedule() (*transceiver.Schedule, error) {
	if s.buildErr != nil {
		return nil, s.buildErr
	}

	if err := s.table.CheckEngines(s.registry.HasEngine); err != nil {
		return nil, err
	}

	return transceiver.NewSchedule(s.table)
}

func (s *Simulation) prepare() error {
	schedule, err := s.Schedule()
	if err != nil {
		return err
	}

	executor := transceiver.NewExecutor(schedule, s.registry).
		WithMaxConsecutiveFailures(s.maxFailures)

	for _, name := range slices.Sorted(maps.Keys(s.activeOverrides)) {
		if err := executor.SetActive(name, s.activeOverrides[name]); err != nil {
			return err
		}
	}

	for _, hook := range s.Hooks() {
		executor.AcceptHook(hook)
	}

	executor.AcceptHook(sim.HookFunc(s.traceFunction))

	s.lock.Lock()
	s.executor = executor
	s.lock.Unlock()

	return nil
}

func (s *Simulation) properties() map[string]string {
	names := make([]string, 0, len(s.handles))
	for _, h := range s.handles {
		names = append(names, h.Name())
	}

	return map[string]string{
		"name":      s.name,
		"id":        s.id,
		"timestep":  strconv.FormatFloat(float64(s.timestep), 'g', -1, 64),
		"engines":   strings.Join(names, ","),
		"functions": strings.Join(s.Executor().Schedule().Names(), ","),
	}
}

// Run sets the simulation up if needed and runs the given number of steps.
// It returns early, after draining, when stopped, when the context is done
// or when the simulation timeout expires. A nil error after a completed Run
// leaves the simulation Running so that more steps can follow.
func (s *Simulation) Run(ctx context.Context, steps uint64) error {
	s.runLock.Lock()
	defer s.runLock.Unlock()

	if err := s.setup(ctx); err != nil {
		return err
	}

	return s.loop(ctx, steps, false)
}

// RunUntilStopped runs steps until Stop is called, the context is done or
// the simulation timeout expires. The simulation is Stopped when it returns.
func (s *Simulation) RunUntilStopped(ctx context.Context) error {
	s.runLock.Lock()
	defer s.runLock.Unlock()

	if err := s.setup(ctx); err != nil {
		return err
	}

	return s.loop(ctx, 0, true)
}

func (s *Simulation) loop(ctx context.Context, steps uint64, forever bool) error {
	if s.State() != Running {
		return ErrNotRunning
	}

	var bar *monitoring.ProgressBar
	if s.monitor != nil && !forever {
		bar = s.monitor.CreateProgressBar(s.name, steps)
		defer s.monitor.CompleteProgressBar(bar)
	}

	start := time.Now()

	for i := uint64(0); forever || i < steps; i++ {
		done, err := s.next(ctx, start)
		if done {
			return err
		}

		if bar != nil {
			bar.IncrementFinished(1)
		}
	}

	return nil
}

// next runs one step unless the run has to end. It reports whether the
// simulation drained.
func (s *Simulation) next(ctx context.Context, start time.Time) (bool, error) {
	s.pauseLock.Lock()
	defer s.pauseLock.Unlock()

	if s.stopRequested.Load() {
		s.drain(ctx)
		return true, nil
	}

	if err := ctx.Err(); err != nil {
		s.drain(ctx)
		return true, err
	}

	if s.simulationTimeout > 0 && time.Since(start) >= s.simulationTimeout {
		s.InvokeHook(sim.HookCtx{
			Domain: s,
			Now:    s.CurrentTime(),
			Pos:    HookPosTimeout,
			Item:   s.simulationTimeout,
		})
		s.drain(ctx)

		return true, nil
	}

	if err := s.runStep(ctx); err != nil {
		s.drain(ctx)
		return true, err
	}

	return false, nil
}

// Stop asks the loop to drain at the top of the next step.
func (s *Simulation) Stop() {
	s.stopRequested.Store(true)
	s.Continue()
}

// Pause blocks the loop before its next step. It returns once the current
// step has completed.
func (s *Simulation) Pause() {
	s.isPausedLock.Lock()
	defer s.isPausedLock.Unlock()

	if s.isPaused {
		return
	}

	s.pauseLock.Lock()
	s.isPaused = true
}

// Continue resumes a paused loop.
func (s *Simulation) Continue() {
	s.isPausedLock.Lock()
	defer s.isPausedLock.Unlock()

	if !s.isPaused {
		return
	}

	s.pauseLock.Unlock()
	s.isPaused = false
}

// Shutdown stops a running loop and drains the simulation. Engines that fail
// to shut down are reported through hooks; Shutdown itself never fails.
func (s *Simulation) Shutdown(ctx context.Context) {
	s.stopRequested.Store(true)
	s.Continue()

	s.runLock.Lock()
	defer s.runLock.Unlock()

	s.drain(ctx)
}

func (s *Simulation) drain(ctx context.Context) {
	if st := s.State(); st == Draining || st == Stopped {
		return
	}

	s.setState(Draining)

	ctx = context.WithoutCancel(ctx)

	var g errgroup.Group
	for _, h := range s.handles {
		g.Go(func() error {
			_ = h.Shutdown(ctx)
			return nil
		})
	}
	_ = g.Wait()

	s.closeOutputs()
	s.setState(Stopped)
}

func (s *Simulation) closeOutputs() {
	if s.monitor != nil {
		s.monitor.StopServer()
	}

	if s.dbTracer != nil {
		s.dbTracer.Terminate()
	}

	if s.recorder != nil && s.ready {
		s.recorder.End()
	}

	if s.dataRecorder == nil {
		return
	}

	if !s.ownsRecorder {
		s.dataRecorder.Flush()
		return
	}

	if err := s.dataRecorder.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close recording: %v\n", err)
	}
}
