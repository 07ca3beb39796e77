package cmd

import (
	"io"
	"log"

	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/simulation"
)

type buildOptions struct {
	quiet       bool
	monitor     bool
	monitorPort int
	record      string
}

// buildSimulation loads an experiment file and builds its simulation. No
// engine is started.
func buildSimulation(
	exp Experiment,
	path string,
	opts buildOptions,
	logOutput io.Writer,
) (*simulation.Simulation, config.Experiment, error) {
	experiment, err := config.Load(path)
	if err != nil {
		return nil, config.Experiment{}, err
	}

	b := simulation.MakeBuilder().
		WithLogger(log.New(logOutput, "", 0))
	if opts.quiet {
		b = b.WithoutLogging()
	}

	for _, f := range exp.Functions {
		b = b.WithFunction(f)
	}

	b, err = b.WithExperiment(experiment, exp.Catalog)
	if err != nil {
		return nil, config.Experiment{}, err
	}

	if opts.monitor {
		b = b.WithMonitorPort(opts.monitorPort)
	}

	if opts.record != "" {
		b = b.WithOutputFileName(opts.record)
	}

	return b.Build(), experiment, nil
}
