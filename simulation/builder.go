package simulation

import (
	"errors"
	"fmt"
	"log"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/sarchlab/cosim/datarecording"
	"github.com/sarchlab/cosim/device"
	"github.com/sarchlab/cosim/engine"
	"github.com/sarchlab/cosim/monitoring"
	"github.com/sarchlab/cosim/registry"
	"github.com/sarchlab/cosim/sim"
	"github.com/sarchlab/cosim/tracing"
	"github.com/sarchlab/cosim/transceiver"
)

// Defaults of a Builder.
const (
	DefaultTimestep             sim.VTimeInSec = 0.01
	DefaultApproximateTimeRange sim.VTimeInSec = 0.0001
	DefaultAdvanceTimeout                      = 10 * time.Second
)

type engineSpec struct {
	adapter  engine.Adapter
	cfg      engine.Config
	critical bool
}

// Builder can be used to build a simulation.
type Builder struct {
	name              string
	timestep          sim.VTimeInSec
	approxRange       sim.VTimeInSec
	advanceTimeout    time.Duration
	shutdownTimeout   time.Duration
	simulationTimeout time.Duration
	parallelAdvance   bool
	maxFailures       int

	engines           []engineSpec
	functions         []*transceiver.Function
	activeOverrides   map[string]bool
	requiredFunctions []string

	recordingOn    bool
	outputFileName string
	dataRecorder   datarecording.DataRecorder

	monitorOn   bool
	monitorPort int

	logger *log.Logger
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		name:            "cosim",
		timestep:        DefaultTimestep,
		approxRange:     DefaultApproximateTimeRange,
		advanceTimeout:  DefaultAdvanceTimeout,
		shutdownTimeout: engine.DefaultShutdownTimeout,
		maxFailures:     transceiver.DefaultMaxConsecutiveFailures,
		logger:          log.New(os.Stderr, "", log.LstdFlags),
	}
}

// WithName sets the name of the simulation.
func (b Builder) WithName(name string) Builder {
	b.name = name
	return b
}

// WithTimestep sets the length of a global step.
func (b Builder) WithTimestep(t sim.VTimeInSec) Builder {
	b.timestep = t
	return b
}

// WithApproximateTimeRange sets how close to a step boundary an engine has to
// be to count as having reached it.
func (b Builder) WithApproximateTimeRange(r sim.VTimeInSec) Builder {
	b.approxRange = r
	return b
}

// WithAdvanceTimeout bounds every engine advance in wall-clock time. Zero
// disables the bound.
func (b Builder) WithAdvanceTimeout(d time.Duration) Builder {
	b.advanceTimeout = d
	return b
}

// WithShutdownTimeout bounds every engine shutdown in wall-clock time.
func (b Builder) WithShutdownTimeout(d time.Duration) Builder {
	b.shutdownTimeout = d
	return b
}

// WithSimulationTimeout bounds the wall-clock duration of a run. Zero
// disables the bound.
func (b Builder) WithSimulationTimeout(d time.Duration) Builder {
	b.simulationTimeout = d
	return b
}

// WithParallelAdvance advances the engines of a step concurrently.
func (b Builder) WithParallelAdvance() Builder {
	b.parallelAdvance = true
	return b
}

// WithMaxConsecutiveFailures sets after how many consecutive failed steps a
// transceiver function is disabled. Zero never disables.
func (b Builder) WithMaxConsecutiveFailures(n int) Builder {
	b.maxFailures = n
	return b
}

// WithEngine adds an engine. An engine without a timestep uses the global
// timestep.
func (b Builder) WithEngine(adapter engine.Adapter, cfg engine.Config) Builder {
	b.engines = append(slices.Clone(b.engines),
		engineSpec{adapter: adapter, cfg: cfg})
	return b
}

// WithCriticalEngine adds an engine whose fault aborts the run.
func (b Builder) WithCriticalEngine(
	adapter engine.Adapter,
	cfg engine.Config,
) Builder {
	b.engines = append(slices.Clone(b.engines),
		engineSpec{adapter: adapter, cfg: cfg, critical: true})
	return b
}

// WithFunction adds a transceiver function. Functions are scheduled in
// declaration order when they do not depend on each other.
func (b Builder) WithFunction(f *transceiver.Function) Builder {
	b.functions = append(slices.Clone(b.functions), f)
	return b
}

// WithFunctionActive overrides the initial active flag of a function.
func (b Builder) WithFunctionActive(name string, active bool) Builder {
	b.activeOverrides = maps.Clone(b.activeOverrides)
	if b.activeOverrides == nil {
		b.activeOverrides = make(map[string]bool)
	}

	b.activeOverrides[name] = active

	return b
}

// WithOutputFileName enables recording into the given sqlite file, without
// its extension.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.recordingOn = true
	b.outputFileName = filename

	return b
}

// WithRecording enables recording into a file with a unique name.
func (b Builder) WithRecording() Builder {
	b.recordingOn = true
	return b
}

// WithDataRecorder records into a recorder owned by the caller.
func (b Builder) WithDataRecorder(dr datarecording.DataRecorder) Builder {
	b.dataRecorder = dr
	return b
}

// WithMonitoring starts the monitoring server on a random port.
func (b Builder) WithMonitoring() Builder {
	b.monitorOn = true
	return b
}

// WithMonitorPort starts the monitoring server on the given port.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorOn = true
	b.monitorPort = port

	return b
}

// WithoutMonitoring disables the monitoring server.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	b.monitorPort = 0

	return b
}

// WithLogger sets where warnings are printed.
func (b Builder) WithLogger(l *log.Logger) Builder {
	b.logger = l
	return b
}

// WithoutLogging disables the warning logger.
func (b Builder) WithoutLogging() Builder {
	b.logger = nil
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.timestep <= 0 {
		log.Panicf("timestep must be positive, got %v", b.timestep)
	}

	if b.approxRange < 0 || b.approxRange >= b.timestep {
		log.Panicf("approximate time range %v must be in [0, %v)",
			b.approxRange, b.timestep)
	}
}

// Build builds the simulation. Declaration problems, such as duplicated
// engines or functions, are reported by Setup.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		HookableBase:      sim.NewHookableBase(),
		id:                sim.UniqueIDGenerator{}.Generate(),
		taskIDs:           sim.NewSequentialIDGenerator(""),
		name:              b.name,
		timestep:          b.timestep,
		approxRange:       b.approxRange,
		simulationTimeout: b.simulationTimeout,
		parallelAdvance:   b.parallelAdvance,
		maxFailures:       b.maxFailures,
		activeOverrides:   maps.Clone(b.activeOverrides),
		registry:          registry.New(),
		table:             transceiver.NewTable(),
		pending:           make(map[string][]device.Device),
		faulted:           make(map[string]bool),
	}

	if s.activeOverrides == nil {
		s.activeOverrides = make(map[string]bool)
	}

	s.buildErr = errors.Join(b.buildEngines(s), b.buildFunctions(s))

	if b.logger != nil {
		s.AcceptHook(NewLogger(b.logger))
	}

	b.buildRecording(s)

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor().WithPortNumber(b.monitorPort)
		s.monitor.RegisterController(s)
		s.monitor.StartServer()
	}

	return s
}

func (b Builder) buildEngines(s *Simulation) error {
	var errs []error

	for _, spec := range b.engines {
		cfg := spec.cfg
		if cfg.Timestep == 0 {
			cfg.Timestep = b.timestep
		}

		if cfg.Name == "" {
			errs = append(errs, fmt.Errorf("engine of type %q has no name",
				cfg.Type))
			continue
		}

		if s.registry.HasEngine(cfg.Name) {
			errs = append(errs, fmt.Errorf("engine %q declared twice",
				cfg.Name))
			continue
		}

		h := engine.NewHandle(spec.adapter, cfg).
			WithAdvanceTimeout(b.advanceTimeout).
			WithShutdownTimeout(b.shutdownTimeout).
			WithCritical(spec.critical)

		s.handles = append(s.handles, h)
		s.registry.RegisterEngine(cfg.Name)
	}

	return errors.Join(errs...)
}

func (b Builder) buildFunctions(s *Simulation) error {
	var errs []error

	for _, f := range b.functions {
		if err := s.table.Register(f); err != nil {
			errs = append(errs, err)
		}
	}

	for _, name := range slices.Sorted(maps.Keys(b.activeOverrides)) {
		if _, ok := s.table.Get(name); !ok {
			errs = append(errs, fmt.Errorf("%w: unknown function %q",
				transceiver.ErrInvalidDeclaration, name))
		}
	}

	for _, name := range b.requiredFunctions {
		_, ok := s.table.Get(name)
		if _, overridden := b.activeOverrides[name]; !ok && !overridden {
			errs = append(errs, fmt.Errorf("%w: unknown function %q",
				transceiver.ErrInvalidDeclaration, name))
		}
	}

	return errors.Join(errs...)
}

func (b Builder) buildRecording(s *Simulation) {
	switch {
	case b.dataRecorder != nil:
		s.dataRecorder = b.dataRecorder
	case b.recordingOn:
		s.dataRecorder = datarecording.New(b.outputFileName)
		s.ownsRecorder = true
	default:
		return
	}

	s.recorder = datarecording.NewRecorder(s.dataRecorder)
	s.AcceptHook(s.recorder)

	s.dbTracer = tracing.NewDBTracer(tracing.NewWallClock(), s.dataRecorder)
	tracing.CollectTrace(s, s.dbTracer)
}
