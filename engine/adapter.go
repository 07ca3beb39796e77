// Package engine wraps independently stepped simulators behind a uniform
// lifecycle and device I/O contract.
package engine

import (
	"context"

	"github.com/sarchlab/cosim/device"
	"github.com/sarchlab/cosim/sim"
)

// Config describes one engine instance of an experiment.
type Config struct {
	// Name is the engine name that device identifiers refer to.
	Name string

	// Type selects the factory in a Catalog.
	Type string

	// Timestep is the engine's own step granularity.
	Timestep sim.VTimeInSec

	// Params are passed through to the adapter unchanged.
	Params map[string]string
}

// An AdvanceReport tells what an engine did during one advance.
type AdvanceReport struct {
	Engine string

	// Time is the engine time reached. It is at least the requested target
	// unless the engine is coarser than the global step.
	Time sim.VTimeInSec

	// Changed lists the output devices updated during the advance.
	Changed []device.Identifier
}

// An Adapter normalizes a specific simulator behind a uniform contract. The
// Handle guarantees that calls on a single adapter never overlap.
type Adapter interface {
	// Initialize starts or attaches to the engine. Failures should be
	// classified as StartupFailed.
	Initialize(ctx context.Context, cfg Config) error

	// Advance simulates forward until target. A Timeout error may be retried
	// once; a Diverged error is fatal to the engine.
	Advance(ctx context.Context, target sim.VTimeInSec) (AdvanceReport, error)

	// PushDevices writes input devices into the engine.
	PushDevices(ctx context.Context, devices []device.Device) error

	// PullDevices reads output devices. Unknown identifiers fail with
	// UnknownDevice.
	PullDevices(ctx context.Context, ids []device.Identifier) ([]device.Device, error)

	// Shutdown stops the engine. It is best effort.
	Shutdown(ctx context.Context) error
}
