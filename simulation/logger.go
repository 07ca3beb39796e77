package simulation

import (
	"log"

	"github.com/sarchlab/cosim/engine"
	"github.com/sarchlab/cosim/registry"
	"github.com/sarchlab/cosim/sim"
	"github.com/sarchlab/cosim/transceiver"
)

// Logger is a hook that prints the warnings of a run: faulted engines, stale
// writes, retried advances and failing transceiver functions.
type Logger struct {
	sim.LogHookBase
}

// NewLogger creates a Logger writing to l.
func NewLogger(l *log.Logger) *Logger {
	h := new(Logger)
	h.Logger = l

	return h
}

// Func prints the hook if it is worth a warning.
func (h *Logger) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case HookPosStateChange:
		c := ctx.Item.(StateChange)
		h.Printf("%.6f, simulation, %s -> %s", ctx.Now, c.From, c.To)
	case HookPosEngineFaulted:
		h.Printf("%.6f, %s, engine faulted, devices are stale: %v",
			ctx.Now, ctx.Item, ctx.Detail)
	case HookPosEngineAhead:
		h.Printf("%.6f, %s, engine is ahead of simulation time at %.6f",
			ctx.Now, ctx.Item, ctx.Detail)
	case HookPosDeviceIO:
		h.Printf("%.6f, %s, device exchange failed: %v",
			ctx.Now, ctx.Item, ctx.Detail)
	case HookPosTimeout:
		h.Printf("%.6f, simulation, timeout of %v reached", ctx.Now, ctx.Item)
	case engine.HookPosAdvanceRetry:
		h.Printf("%.6f, %s, advance timed out, retrying: %v",
			ctx.Now, ctx.Item, ctx.Detail)
	case engine.HookPosShutdownFail:
		h.Printf("%.6f, %s, shutdown failed: %v", ctx.Now, ctx.Item, ctx.Detail)
	case registry.HookPosStaleWrite:
		w := ctx.Item.(registry.StaleWrite)
		h.Printf("%.6f, %s, stale write of generation %d dropped, "+
			"registry holds generation %d",
			ctx.Now, w.Rejected.ID(), w.Rejected.Generation(),
			w.Current.Generation())
	case transceiver.HookPosFailed:
		h.Printf("%.6f, %v", ctx.Now, ctx.Item)
	case transceiver.HookPosDisabled:
		h.Printf("%.6f, %s, transceiver function disabled after "+
			"consecutive failures", ctx.Now, ctx.Item)
	case transceiver.HookPosSkipped:
		h.logSkip(ctx)
	}
}

func (h *Logger) logSkip(ctx sim.HookCtx) {
	skip := ctx.Item.(transceiver.SkipRecord)
	if skip.Reason != transceiver.SkipStaleSource {
		return
	}

	h.Printf("%.6f, %s, skipped, source %s is stale",
		ctx.Now, skip.Function, skip.Source)
}
