package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand(exp Experiment) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <experiment.yaml>",
		Short: "Check an experiment file without starting any engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			s, _, err := buildSimulation(exp, args[0],
				buildOptions{quiet: true}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			schedule, err := s.Schedule()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"%s: OK, %d engines, %d transceiver functions\n",
				s.Name(), len(s.Engines()), len(schedule.Names()))

			return nil
		},
	}
}
