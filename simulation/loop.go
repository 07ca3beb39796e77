package simulation

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/cosim/datarecording"
	"github.com/sarchlab/cosim/device"
	"github.com/sarchlab/cosim/engine"
	"github.com/sarchlab/cosim/sim"
	"github.com/sarchlab/cosim/tracing"
	"github.com/sarchlab/cosim/transceiver"
)

type advanceResult struct {
	report engine.AdvanceReport
	err    error
}

// runStep executes one global step. Devices and function outputs produced in
// the step carry the step index as generation.
func (s *Simulation) runStep(ctx context.Context) error {
	wallStart := time.Now()

	s.lock.RLock()
	step := s.step
	s.lock.RUnlock()

	target := sim.StepBoundary(step+1, s.timestep)

	s.stepTaskID = s.taskIDs.Generate()
	tracing.StartTask(s.stepTaskID, "", s, tracing.KindStep, "step", step)

	due := s.dueEngines(target)
	due = s.deliverInputs(ctx, due)
	results := s.advance(ctx, due, target)

	fresh := make(map[string]bool)
	advanced := make([]string, 0, len(due))

	for i, h := range due {
		if results[i].err != nil {
			continue
		}

		advanced = append(advanced, h.Name())

		if s.publishChanged(ctx, h, results[i].report, step) {
			fresh[h.Name()] = true
		}
	}

	faulted, critical := s.collectFaults()
	if critical != nil {
		tracing.EndTask(s.stepTaskID, s)
		return &FatalError{Reason: CriticalEngineFaulted, Err: critical}
	}

	s.lock.Lock()
	s.step = step + 1
	s.now = target
	s.lock.Unlock()

	report := s.Executor().Execute(step, target, fresh)
	s.queueOutputs(report)

	summary := StepSummary{
		Step:      step,
		Time:      target,
		Advanced:  advanced,
		Faulted:   faulted,
		Functions: report,
		WallTime:  time.Since(wallStart),
	}

	s.recordStep(summary)
	s.InvokeHook(sim.HookCtx{
		Domain: s,
		Now:    target,
		Pos:    HookPosStepEnd,
		Item:   summary,
	})
	tracing.EndTask(s.stepTaskID, s)

	return nil
}

// dueEngines returns the Ready engines whose time is behind the target. An
// engine is considered at the target when it is within the approximate time
// range of it.
func (s *Simulation) dueEngines(target sim.VTimeInSec) []*engine.Handle {
	var due []*engine.Handle

	for _, h := range s.handles {
		if h.State() != engine.Ready {
			continue
		}

		t := h.Time()
		if t+s.approxRange < target {
			due = append(due, h)
			continue
		}

		if t > target+h.Timestep()+s.approxRange {
			s.InvokeHook(sim.HookCtx{
				Domain: s,
				Now:    s.CurrentTime(),
				Pos:    HookPosEngineAhead,
				Item:   h.Name(),
				Detail: t,
			})
		}
	}

	return due
}

// deliverInputs pushes the queued inputs of every due engine, even when
// there are none. Engines faulted by the push are removed from the step.
func (s *Simulation) deliverInputs(
	ctx context.Context,
	due []*engine.Handle,
) []*engine.Handle {
	ready := due[:0]

	for _, h := range due {
		inputs := s.pending[h.Name()]
		delete(s.pending, h.Name())

		if inputs == nil {
			inputs = []device.Device{}
		}

		err := h.PushDevices(ctx, inputs)
		if err != nil {
			s.deviceIOFailed(h, err)
		}

		if h.State() == engine.Ready {
			ready = append(ready, h)
		}
	}

	return ready
}

func (s *Simulation) advance(
	ctx context.Context,
	due []*engine.Handle,
	target sim.VTimeInSec,
) []advanceResult {
	results := make([]advanceResult, len(due))

	if !s.parallelAdvance {
		for i, h := range due {
			results[i] = s.advanceEngine(ctx, h, target)
		}

		return results
	}

	var g errgroup.Group
	for i, h := range due {
		g.Go(func() error {
			results[i] = s.advanceEngine(ctx, h, target)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *Simulation) advanceEngine(
	ctx context.Context,
	h *engine.Handle,
	target sim.VTimeInSec,
) advanceResult {
	taskID := s.taskIDs.Generate()
	tracing.StartTaskWithSpecificLocation(taskID, s.stepTaskID, s,
		tracing.KindAdvance, "advance", h.Name(), target)

	retries := h.Retries()
	report, err := h.Advance(ctx, target)

	if h.Retries() > retries {
		tracing.AddTaskStep(taskID, s, MilestoneRetry)
	}

	tracing.EndTask(taskID, s)

	return advanceResult{report: report, err: err}
}

// publishChanged pulls the devices an engine changed and publishes them. It
// reports whether anything new reached the registry.
func (s *Simulation) publishChanged(
	ctx context.Context,
	h *engine.Handle,
	report engine.AdvanceReport,
	step uint64,
) bool {
	if len(report.Changed) == 0 {
		return false
	}

	devices, err := h.PullDevices(ctx, report.Changed)
	if err != nil {
		s.deviceIOFailed(h, err)
		return false
	}

	published := false

	for _, d := range devices {
		if s.registry.Publish(d.Stamped(step, report.Time)) == nil {
			published = true
		}
	}

	return published
}

func (s *Simulation) deviceIOFailed(h *engine.Handle, err error) {
	s.InvokeHook(sim.HookCtx{
		Domain: s,
		Now:    s.CurrentTime(),
		Pos:    HookPosDeviceIO,
		Item:   h.Name(),
		Detail: err,
	})
}

// collectFaults handles the engines that faulted since the last step. Their
// devices become stale and their queued inputs are dropped. The error of a
// faulted critical engine is returned.
func (s *Simulation) collectFaults() (faulted []string, critical error) {
	for _, h := range s.handles {
		if h.State() != engine.Faulted || s.faulted[h.Name()] {
			continue
		}

		s.faulted[h.Name()] = true
		faulted = append(faulted, h.Name())

		s.registry.MarkEngineStale(h.Name())
		delete(s.pending, h.Name())

		s.InvokeHook(sim.HookCtx{
			Domain: s,
			Now:    s.CurrentTime(),
			Pos:    HookPosEngineFaulted,
			Item:   h.Name(),
			Detail: h.LastError(),
		})

		if h.Critical() && critical == nil {
			critical = h.LastError()
		}
	}

	return faulted, critical
}

func (s *Simulation) queueOutputs(report transceiver.StepReport) {
	for engineName, devices := range report.Outputs {
		if s.faulted[engineName] {
			continue
		}

		s.pending[engineName] = append(s.pending[engineName], devices...)
	}
}

func (s *Simulation) recordStep(summary StepSummary) {
	if s.recorder == nil {
		return
	}

	s.recorder.RecordStep(datarecording.StepEntry{
		Step:     summary.Step,
		Time:     float64(summary.Time),
		Advanced: len(summary.Advanced),
		Invoked:  len(summary.Functions.Invoked),
		Skipped:  len(summary.Functions.Skipped),
		Failed:   len(summary.Functions.Failed),
		WallNS:   summary.WallTime.Nanoseconds(),
	})
}

// Milestones of traced tasks.
const (
	MilestoneRetry  = "retry"
	MilestoneFailed = "failed"
	MilestoneOutput = "output"
)

// traceFunction turns function invocations into tracing tasks below the
// current step. A failed invocation reaches MilestoneFailed; a successful
// one reaches MilestoneOutput once per produced device.
func (s *Simulation) traceFunction(ctx sim.HookCtx) {
	switch ctx.Pos {
	case transceiver.HookPosInvokeStart:
		s.functionTaskID = s.taskIDs.Generate()
		tracing.StartTaskWithSpecificLocation(s.functionTaskID, s.stepTaskID,
			s, tracing.KindFunction, ctx.Item.(string),
			s.functionTarget(ctx.Item.(string)), nil)
	case transceiver.HookPosInvokeEnd:
		inv := ctx.Item.(transceiver.Invocation)
		if inv.Err != nil {
			tracing.AddTaskStep(s.functionTaskID, s, MilestoneFailed)
		}

		for range inv.Outputs {
			tracing.AddTaskStep(s.functionTaskID, s, MilestoneOutput)
		}

		tracing.EndTask(s.functionTaskID, s)
	}
}

func (s *Simulation) functionTarget(name string) string {
	f, ok := s.table.Get(name)
	if !ok {
		return s.name
	}

	return f.TargetEngine()
}
