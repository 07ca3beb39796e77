package tracing

import (
	"sync"

	"github.com/sarchlab/cosim/datarecording"
	"github.com/sarchlab/cosim/sim"
)

// TraceTable is the table a DBTracer writes to.
const TraceTable = "trace"

// TaskEntry is a completed task as stored in the database.
type TaskEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	StartTime float64
	EndTime   float64
}

// DBTracer is a tracer that stores completed tasks through a DataRecorder.
// Tasks that never end are not written.
type DBTracer struct {
	lock       sync.Mutex
	timeTeller sim.TimeTeller
	backend    datarecording.DataRecorder

	tracingTasks map[string]Task
}

// NewDBTracer creates a new DBTracer.
func NewDBTracer(
	timeTeller sim.TimeTeller,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable(TraceTable, TaskEntry{})

	return &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tracingTasks: make(map[string]Task),
	}
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	task.StartTime = t.timeTeller.CurrentTime()

	t.lock.Lock()
	t.tracingTasks[task.ID] = task
	t.lock.Unlock()
}

// StepTask does nothing.
func (t *DBTracer) StepTask(_ Task) {
	// Do nothing for now.
}

// EndTask writes the task.
func (t *DBTracer) EndTask(task Task) {
	endTime := t.timeTeller.CurrentTime()

	t.lock.Lock()
	originalTask, ok := t.tracingTasks[task.ID]
	if ok {
		delete(t.tracingTasks, task.ID)
	}
	t.lock.Unlock()

	if !ok {
		return
	}

	t.backend.InsertData(TraceTable, TaskEntry{
		ID:        originalTask.ID,
		ParentID:  originalTask.ParentID,
		Kind:      originalTask.Kind,
		What:      originalTask.What,
		Location:  originalTask.Where,
		StartTime: float64(originalTask.StartTime),
		EndTime:   float64(endTime),
	})
}

// Terminate drops unfinished tasks and flushes the backend.
func (t *DBTracer) Terminate() {
	t.lock.Lock()
	t.tracingTasks = make(map[string]Task)
	t.lock.Unlock()

	t.backend.Flush()
}
