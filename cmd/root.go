// Package cmd provides the command-line interface of co-simulation
// experiments. An experiment binary declares its engine types and
// transceiver functions and hands them to Execute.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/cosim/engine"
	"github.com/sarchlab/cosim/transceiver"
)

// An Experiment is what a binary knows about its co-simulation beyond the
// configuration file.
type Experiment struct {
	// Name is the name of the binary.
	Name string

	// Catalog creates the engines listed in the configuration file.
	Catalog *engine.Catalog

	// Functions are the transceiver functions of the experiment. The
	// configuration file can only turn them on or off.
	Functions []*transceiver.Function
}

// NewRootCommand creates the command tree of an experiment binary.
func NewRootCommand(exp Experiment) *cobra.Command {
	root := &cobra.Command{
		Use:   exp.Name,
		Short: "Run the " + exp.Name + " co-simulation.",
		Long: `Run the ` + exp.Name + ` co-simulation. The experiment file lists ` +
			`the engines, their timesteps and the transceiver functions to ` +
			`activate. Use validate to check an experiment file, order to ` +
			`print the execution order of the transceiver functions and ` +
			`inspect to summarize a recorded run.`,
	}

	root.AddCommand(newRunCommand(exp))
	root.AddCommand(newValidateCommand(exp))
	root.AddCommand(newOrderCommand(exp))
	root.AddCommand(newInspectCommand())

	return root
}

// Execute runs the command line and exits. Exit handlers registered with
// atexit, such as recorder flushes, run before the process ends.
func Execute(exp Experiment) {
	err := NewRootCommand(exp).Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
