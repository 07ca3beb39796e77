package tracing

import "github.com/sarchlab/cosim/sim"

// Task kinds emitted by a co-simulation run.
const (
	KindStep     = "step"
	KindAdvance  = "advance"
	KindFunction = "tf"
)

// A TaskStep represents a milestone in the processing of task
type TaskStep struct {
	Time sim.VTimeInSec `json:"time"`
	What string         `json:"what"`
}

// A Task is a unit of work of the co-simulation, such as a global step, an
// engine advance or a transceiver function invocation.
type Task struct {
	ID        string         `json:"id"`
	ParentID  string         `json:"parent_id"`
	Kind      string         `json:"kind"`
	What      string         `json:"what"`
	Where     string         `json:"where"`
	StartTime sim.VTimeInSec `json:"start_time"`
	EndTime   sim.VTimeInSec `json:"end_time"`
	Steps     []TaskStep     `json:"steps"`
	Detail    interface{}    `json:"-"`
}

// TaskFilter is a function that can filter interesting tasks. If this function
// returns true, the task is considered useful.
type TaskFilter func(t Task) bool

// KindIs returns a filter accepting tasks of a kind.
func KindIs(kind string) TaskFilter {
	return func(t Task) bool {
		return t.Kind == kind
	}
}

// WhereIs returns a filter accepting tasks of a kind happening at a
// location, e.g. the advances of one engine.
func WhereIs(kind, where string) TaskFilter {
	return func(t Task) bool {
		return t.Kind == kind && t.Where == where
	}
}
