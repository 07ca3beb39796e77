package simulation

import (
	"fmt"
	"slices"

	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/engine"
	"github.com/sarchlab/cosim/sim"
)

// WithExperiment applies an experiment description. Engines are created with
// the catalog; transceiver functions still have to be added with
// WithFunction, the experiment only overrides their active flags. Build
// fails if the experiment lists a function that was never added.
func (b Builder) WithExperiment(
	exp config.Experiment,
	catalog *engine.Catalog,
) (Builder, error) {
	b = b.WithName(exp.Name).
		WithTimestep(sim.VTimeInSec(exp.Timestep)).
		WithSimulationTimeout(exp.SimulationTimeout)

	if exp.ApproximateTimeRange != nil {
		b = b.WithApproximateTimeRange(sim.VTimeInSec(*exp.ApproximateTimeRange))
	}

	if exp.AdvanceTimeout != nil {
		b = b.WithAdvanceTimeout(*exp.AdvanceTimeout)
	}

	if exp.MaxConsecutiveTFFailures != nil {
		b = b.WithMaxConsecutiveFailures(*exp.MaxConsecutiveTFFailures)
	}

	if exp.ParallelAdvance {
		b = b.WithParallelAdvance()
	}

	for _, e := range exp.Engines {
		cfg := engine.Config{
			Name:     e.Name,
			Type:     e.Type,
			Timestep: sim.VTimeInSec(e.Timestep),
			Params:   e.Params,
		}

		adapter, err := catalog.Build(cfg)
		if err != nil {
			return b, fmt.Errorf("%s: %w", exp.Name, err)
		}

		if e.Critical {
			b = b.WithCriticalEngine(adapter, cfg)
		} else {
			b = b.WithEngine(adapter, cfg)
		}
	}

	for _, f := range exp.TransceiverFunctions {
		b.requiredFunctions = append(slices.Clone(b.requiredFunctions), f.Name)

		if active, set := exp.FunctionActive(f.Name); set {
			b = b.WithFunctionActive(f.Name, active)
		}
	}

	if exp.Recording.Enabled {
		b = b.WithOutputFileName(exp.Recording.Output)
	}

	if exp.Monitoring.Enabled {
		b = b.WithMonitorPort(exp.Monitoring.Port)
	}

	return b, nil
}
