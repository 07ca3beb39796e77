package datarecording

import (
	"os"
	"strings"
	"time"
)

// Struct ExecInfo is feed to DataRecorder
type execInfo struct {
	Property string
	Value    string
}

// Records program execution
type execRecorder struct {
	tablename string
	recorder  DataRecorder
	entries   []execInfo
}

const execTimeFormat = "2006-01-02 15:04:05.000000000"

// Start logs the current execution.
func (e *execRecorder) Start(properties map[string]string) {
	e.entries = append(e.entries,
		execInfo{"Start Time", time.Now().Format(execTimeFormat)},
		execInfo{"Command", strings.Join(os.Args, " ")},
	)

	if cwd, err := os.Getwd(); err == nil {
		e.entries = append(e.entries, execInfo{"Working Directory", cwd})
	}

	for _, k := range sortedKeys(properties) {
		e.entries = append(e.entries, execInfo{k, properties[k]})
	}
}

// End writes data into SQLite along with program exit time.
func (e *execRecorder) End() {
	for _, entry := range e.entries {
		e.recorder.InsertData(e.tablename, entry)
	}

	timeEntry := execInfo{"End Time", time.Now().Format(execTimeFormat)}
	e.recorder.InsertData(e.tablename, timeEntry)

	e.entries = nil

	e.recorder.Flush()
}

func newExecRecorder(recorder DataRecorder) *execRecorder {
	e := &execRecorder{
		tablename: "exec_info",
		recorder:  recorder,
	}

	e.recorder.CreateTable(e.tablename, execInfo{})

	return e
}
