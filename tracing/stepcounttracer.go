package tracing

import (
	"sync"
)

type milestoneCount struct {
	steps uint64
	tasks uint64
}

type taskCount struct {
	tasks      uint64
	milestones map[string]*milestoneCount
}

// StepCountTracer counts tasks and the milestones they reach, grouped by task
// name. For transceiver function tasks the name is the function, so the
// tracer tells how often each function ran and how often it failed.
type StepCountTracer struct {
	filter TaskFilter

	lock     sync.Mutex
	inflight map[string]*inflightTask
	names    []string
	counts   map[string]*taskCount
}

type inflightTask struct {
	name    string
	reached map[string]bool
}

// NewStepCountTracer creates a tracer counting the tasks accepted by the
// filter.
func NewStepCountTracer(filter TaskFilter) *StepCountTracer {
	return &StepCountTracer{
		filter:   filter,
		inflight: make(map[string]*inflightTask),
		counts:   make(map[string]*taskCount),
	}
}

// Names returns the task names in the order they were first seen.
func (t *StepCountTracer) Names() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]string(nil), t.names...)
}

// TaskCount returns how many tasks with the name started.
func (t *StepCountTracer) TaskCount(name string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	c, ok := t.counts[name]
	if !ok {
		return 0
	}

	return c.tasks
}

// StepCount returns how often tasks with the name reached a milestone.
func (t *StepCountTracer) StepCount(name, milestone string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	if m := t.milestone(name, milestone, false); m != nil {
		return m.steps
	}

	return 0
}

// TaskCountWithStep returns how many tasks with the name reached a
// milestone at least once.
func (t *StepCountTracer) TaskCountWithStep(name, milestone string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	if m := t.milestone(name, milestone, false); m != nil {
		return m.tasks
	}

	return 0
}

func (t *StepCountTracer) milestone(
	name, milestone string,
	create bool,
) *milestoneCount {
	c, ok := t.counts[name]
	if !ok {
		return nil
	}

	m, ok := c.milestones[milestone]
	if !ok && create {
		m = &milestoneCount{}
		c.milestones[milestone] = m
	}

	return m
}

// StartTask counts the task if the filter accepts it.
func (t *StepCountTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	c, ok := t.counts[task.What]
	if !ok {
		c = &taskCount{milestones: make(map[string]*milestoneCount)}
		t.counts[task.What] = c
		t.names = append(t.names, task.What)
	}
	c.tasks++

	t.inflight[task.ID] = &inflightTask{
		name:    task.What,
		reached: make(map[string]bool),
	}
}

// StepTask counts the milestone of a counted task.
func (t *StepCountTracer) StepTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	inflight, ok := t.inflight[task.ID]
	if !ok || len(task.Steps) == 0 {
		return
	}

	what := task.Steps[0].What
	m := t.milestone(inflight.name, what, true)
	m.steps++

	if !inflight.reached[what] {
		inflight.reached[what] = true
		m.tasks++
	}
}

// EndTask forgets the task. Later milestones are not counted.
func (t *StepCountTracer) EndTask(task Task) {
	t.lock.Lock()
	delete(t.inflight, task.ID)
	t.lock.Unlock()
}
