package datarecording

import (
	"maps"
	"slices"
	"sync"

	"github.com/sarchlab/cosim/device"
	"github.com/sarchlab/cosim/engine"
	"github.com/sarchlab/cosim/registry"
	"github.com/sarchlab/cosim/sim"
	"github.com/sarchlab/cosim/transceiver"
)

// Table names used by a Recorder.
const (
	TablePublication  = "device_publication"
	TableStaleWrite   = "stale_write"
	TableEngineState  = "engine_state"
	TableEngineRetry  = "engine_retry"
	TableTFInvocation = "tf_invocation"
	TableTFSkip       = "tf_skip"
	TableStep         = "step"
)

// PublicationEntry is a device value accepted by the registry. Payload holds
// the canonical CBOR encoding of the device payload.
type PublicationEntry struct {
	Generation uint64
	Time       float64
	Engine     string
	Name       string
	Type       string
	Kind       string
	Payload    []byte
}

// StaleWriteEntry is a publication dropped by the registry.
type StaleWriteEntry struct {
	Time             float64
	Engine           string
	Name             string
	Type             string
	Generation       uint64
	StoredGeneration uint64
}

// EngineStateEntry is a lifecycle transition of an engine.
type EngineStateEntry struct {
	Time   float64
	Engine string
	From   string
	To     string
	Cause  string
}

// EngineRetryEntry is an advance retried after a timeout.
type EngineRetryEntry struct {
	Time   float64
	Engine string
	Cause  string
}

// TFInvocationEntry is a transceiver function run.
type TFInvocationEntry struct {
	Step       uint64
	Time       float64
	Function   string
	Inputs     int
	Outputs    int
	DurationNS int64
	Error      string
}

// TFSkipEntry is a transceiver function that did not run in a step.
type TFSkipEntry struct {
	Step     uint64
	Time     float64
	Function string
	Reason   string
	Source   string
}

// StepEntry summarizes a global step.
type StepEntry struct {
	Step     uint64
	Time     float64
	Advanced int
	Invoked  int
	Skipped  int
	Failed   int
	WallNS   int64
}

// A Recorder is a hook that writes engine, registry and transceiver function
// activity into a DataRecorder.
type Recorder struct {
	lock    sync.Mutex
	backend DataRecorder
	exec    *execRecorder
}

// NewRecorder creates the tables of a run in the backend.
func NewRecorder(backend DataRecorder) *Recorder {
	backend.CreateTable(TablePublication, PublicationEntry{})
	backend.CreateTable(TableStaleWrite, StaleWriteEntry{})
	backend.CreateTable(TableEngineState, EngineStateEntry{})
	backend.CreateTable(TableEngineRetry, EngineRetryEntry{})
	backend.CreateTable(TableTFInvocation, TFInvocationEntry{})
	backend.CreateTable(TableTFSkip, TFSkipEntry{})
	backend.CreateTable(TableStep, StepEntry{})

	return &Recorder{
		backend: backend,
		exec:    newExecRecorder(backend),
	}
}

// Backend returns the DataRecorder written to.
func (r *Recorder) Backend() DataRecorder {
	return r.backend
}

// Start records the beginning of the run with extra properties.
func (r *Recorder) Start(properties map[string]string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.exec.Start(properties)
}

// End records the end of the run and flushes everything.
func (r *Recorder) End() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.exec.End()
}

// RecordStep writes the summary of a completed step.
func (r *Recorder) RecordStep(entry StepEntry) {
	r.backend.InsertData(TableStep, entry)
}

// Func records the hook if it is one the recorder knows about.
func (r *Recorder) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case registry.HookPosPublished:
		r.recordPublication(ctx)
	case registry.HookPosStaleWrite:
		r.recordStaleWrite(ctx)
	case engine.HookPosStateChange:
		r.recordStateChange(ctx)
	case engine.HookPosAdvanceRetry:
		r.recordRetry(ctx)
	case transceiver.HookPosInvokeEnd:
		r.recordInvocation(ctx)
	case transceiver.HookPosSkipped:
		r.recordSkip(ctx)
	}
}

func (r *Recorder) recordPublication(ctx sim.HookCtx) {
	d := ctx.Item.(device.Device)
	id := d.ID()

	payload, err := device.MarshalPayload(d.Payload())
	if err != nil {
		payload = nil
	}

	r.backend.InsertData(TablePublication, PublicationEntry{
		Generation: d.Generation(),
		Time:       float64(d.Time()),
		Engine:     id.Engine(),
		Name:       id.Name(),
		Type:       id.Type(),
		Kind:       payloadKind(d),
		Payload:    payload,
	})
}

func payloadKind(d device.Device) string {
	if !d.HasPayload() {
		return device.KindNone.String()
	}

	return d.Payload().Kind().String()
}

func (r *Recorder) recordStaleWrite(ctx sim.HookCtx) {
	sw := ctx.Item.(registry.StaleWrite)
	id := sw.Rejected.ID()

	r.backend.InsertData(TableStaleWrite, StaleWriteEntry{
		Time:             float64(ctx.Now),
		Engine:           id.Engine(),
		Name:             id.Name(),
		Type:             id.Type(),
		Generation:       sw.Rejected.Generation(),
		StoredGeneration: sw.Current.Generation(),
	})
}

func (r *Recorder) recordStateChange(ctx sim.HookCtx) {
	change := ctx.Item.(engine.StateChange)

	r.backend.InsertData(TableEngineState, EngineStateEntry{
		Time:   float64(ctx.Now),
		Engine: change.Engine,
		From:   change.From.String(),
		To:     change.To.String(),
		Cause:  errorString(change.Cause),
	})
}

func (r *Recorder) recordRetry(ctx sim.HookCtx) {
	cause, _ := ctx.Detail.(error)

	r.backend.InsertData(TableEngineRetry, EngineRetryEntry{
		Time:   float64(ctx.Now),
		Engine: ctx.Item.(string),
		Cause:  errorString(cause),
	})
}

func (r *Recorder) recordInvocation(ctx sim.HookCtx) {
	inv := ctx.Item.(transceiver.Invocation)

	r.backend.InsertData(TableTFInvocation, TFInvocationEntry{
		Step:       inv.Step,
		Time:       float64(ctx.Now),
		Function:   inv.Function,
		Inputs:     inv.Inputs,
		Outputs:    len(inv.Outputs),
		DurationNS: inv.Duration.Nanoseconds(),
		Error:      errorString(inv.Err),
	})
}

func (r *Recorder) recordSkip(ctx sim.HookCtx) {
	skip := ctx.Item.(transceiver.SkipRecord)

	// Inactive functions would add a row for every step.
	if skip.Reason == transceiver.SkipInactive {
		return
	}

	r.backend.InsertData(TableTFSkip, TFSkipEntry{
		Step:     skip.Step,
		Time:     float64(ctx.Now),
		Function: skip.Function,
		Reason:   string(skip.Reason),
		Source:   skip.Source,
	})
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
