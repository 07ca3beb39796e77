// Package transceiver declares, orders and runs transceiver functions.
//
// A transceiver function reads devices published by some engines and
// produces devices destined for one target engine. Declarations are static:
// they are built once with a Builder, collected in a Table and ordered by a
// Schedule before the first step. An Executor runs them after every step.
package transceiver

import (
	"fmt"
	"slices"

	"github.com/sarchlab/cosim/device"
	"github.com/sarchlab/cosim/sim"
)

// Cardinality tells how many devices a source binds.
type Cardinality int

// The cardinalities.
const (
	// Single binds exactly one device. A missing device skips the
	// invocation.
	Single Cardinality = iota

	// Collection binds every device matching a filter, possibly none.
	Collection
)

func (c Cardinality) String() string {
	if c == Collection {
		return "collection"
	}

	return "single"
}

// A Source binds a keyword to one device or to a collection of devices.
type Source struct {
	Keyword     string
	Cardinality Cardinality

	// ID is the bound device of a Single source.
	ID device.Identifier

	// Filter selects the devices of a Collection source. Limit, if
	// positive, caps the number of devices passed to the function.
	Filter device.Filter
	Limit  int
}

// Matches tells if the source would bind the device.
func (s Source) Matches(id device.Identifier) bool {
	if s.Cardinality == Single {
		return s.ID == id
	}

	return s.Filter.Match(id)
}

// Engine returns the engine the source reads from. It is empty for a
// collection that spans all engines.
func (s Source) Engine() string {
	if s.Cardinality == Single {
		return s.ID.Engine()
	}

	return s.Filter.Engine
}

func (s Source) String() string {
	if s.Cardinality == Single {
		return fmt.Sprintf("%s=%s", s.Keyword, s.ID)
	}

	return fmt.Sprintf("%s=[%s]", s.Keyword, s.Filter)
}

// Inputs holds the devices gathered for one invocation.
type Inputs struct {
	step        uint64
	now         sim.VTimeInSec
	singles     map[string]device.Device
	collections map[string][]device.Device
}

// Step returns the global step the invocation belongs to.
func (in Inputs) Step() uint64 {
	return in.step
}

// Time returns the simulation time at the end of the step.
func (in Inputs) Time() sim.VTimeInSec {
	return in.now
}

// Single returns the device bound to a Single source.
func (in Inputs) Single(keyword string) (device.Device, bool) {
	d, ok := in.singles[keyword]
	return d, ok
}

// MustSingle returns the device bound to a Single source and panics if the
// keyword is not declared.
func (in Inputs) MustSingle(keyword string) device.Device {
	d, ok := in.singles[keyword]
	if !ok {
		panic(fmt.Sprintf("no single source %q", keyword))
	}

	return d
}

// Collection returns the devices bound to a Collection source, ordered by
// identifier.
func (in Inputs) Collection(keyword string) []device.Device {
	return slices.Clone(in.collections[keyword])
}

// Len returns the number of gathered devices.
func (in Inputs) Len() int {
	n := len(in.singles)
	for _, c := range in.collections {
		n += len(c)
	}

	return n
}

// Func is the user mapping. It returns the devices to publish, each
// carrying its own destination identifier.
type Func func(in Inputs) ([]device.Device, error)

// A Function is a declared transceiver function.
type Function struct {
	name    string
	target  string
	sources []Source
	outputs []device.Identifier
	fn      Func
	active  bool
}

// Name returns the unique name of the function.
func (f *Function) Name() string {
	return f.name
}

// TargetEngine returns the engine receiving the outputs.
func (f *Function) TargetEngine() string {
	return f.target
}

// Sources returns the source bindings in declaration order.
func (f *Function) Sources() []Source {
	return slices.Clone(f.sources)
}

// Outputs returns the declared outputs. An empty list means the outputs are
// only known at run time.
func (f *Function) Outputs() []device.Identifier {
	return slices.Clone(f.outputs)
}

// InitiallyActive tells if the function runs before anyone toggles it.
func (f *Function) InitiallyActive() bool {
	return f.active
}

// SourceEngines returns the distinct engines the function reads from in
// sorted order. An empty name stands for a collection spanning all engines.
func (f *Function) SourceEngines() []string {
	var engines []string
	for _, s := range f.sources {
		if !slices.Contains(engines, s.Engine()) {
			engines = append(engines, s.Engine())
		}
	}

	slices.Sort(engines)

	return engines
}

// Consumes tells if any source binds the device.
func (f *Function) Consumes(id device.Identifier) bool {
	for _, s := range f.sources {
		if s.Matches(id) {
			return true
		}
	}

	return false
}

// Produces tells if the device is among the declared outputs.
func (f *Function) Produces(id device.Identifier) bool {
	return slices.Contains(f.outputs, id)
}

// checkOutput verifies a device returned by an invocation.
func (f *Function) checkOutput(id device.Identifier) error {
	if id.Engine() != f.target {
		return fmt.Errorf("%w: %s is not on target engine %q",
			ErrInvalidOutput, id, f.target)
	}

	if f.Consumes(id) {
		return fmt.Errorf("%w: %s is also a source: %w",
			ErrInvalidOutput, id, ErrSelfLoop)
	}

	if len(f.outputs) > 0 && !f.Produces(id) {
		return fmt.Errorf("%w: %s is not a declared output",
			ErrInvalidOutput, id)
	}

	return nil
}

func (f *Function) call(in Inputs) (out []device.Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return f.fn(in)
}
