package tracing

import (
	"fmt"
	"reflect"

	"github.com/sarchlab/cosim/sim"
)

// HookLister lists the hooks attached to a domain.
type HookLister interface {
	Hooks() []sim.Hook
}

// CollectTrace let the tracer to collect trace from a domain
func CollectTrace(domain NamedHookable, tracer Tracer) {
	if lister, ok := domain.(HookLister); ok {
		for _, hook := range lister.Hooks() {
			hook, ok := hook.(*traceHook)
			if ok && hook.t == tracer {
				panic(fmt.Sprintf(
					"domain %s already has tracer %s",
					domain.Name(), reflect.TypeOf(tracer)))
			}
		}
	}

	h := traceHook{t: tracer}
	domain.AcceptHook(&h)
}

// A traceHook is a hook that traces tasks
type traceHook struct {
	t Tracer
}

// Func calls the tracer interfaces when the hook is triggered
func (h *traceHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case HookPosTaskStart:
		h.t.StartTask(ctx.Item.(Task))
	case HookPosTaskStep:
		h.t.StepTask(ctx.Item.(Task))
	case HookPosTaskEnd:
		h.t.EndTask(ctx.Item.(Task))
	}
}
