package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newOrderCommand(exp Experiment) *cobra.Command {
	return &cobra.Command{
		Use:   "order <experiment.yaml>",
		Short: "Print the execution order of the transceiver functions",
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

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tFUNCTION\tTARGET\tAFTER")

			for i, f := range schedule.Order() {
				after := strings.Join(schedule.Upstream(f.Name()), ",")
				if after == "" {
					after = "-"
				}

				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
					i, f.Name(), f.TargetEngine(), after)
			}

			return w.Flush()
		},
	}
}
