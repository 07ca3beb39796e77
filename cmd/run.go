package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/cosim/simulation"
	"github.com/sarchlab/cosim/tracing"
)

func newRunCommand(exp Experiment) *cobra.Command {
	var (
		opts  buildOptions
		steps uint64
	)

	runCmd := &cobra.Command{
		Use:   "run <experiment.yaml>",
		Short: "Run an experiment",
		Long: `Run an experiment. Without a step count, the simulation runs ` +
			`until its simulation timeout expires, it is stopped from the ` +
			`monitor or the process is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			s, experiment, err := buildSimulation(exp, args[0], opts,
				cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("steps") {
				steps = experiment.Steps
			}

			return runSimulation(cmd.Context(), s, steps, cmd.OutOrStdout())
		},
	}

	runCmd.Flags().Uint64VarP(&steps, "steps", "n", 0,
		"number of global steps to run, overriding the experiment file; "+
			"0 runs until stopped")
	runCmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false,
		"do not print warnings")
	runCmd.Flags().BoolVar(&opts.monitor, "monitor", false,
		"start the monitoring server")
	runCmd.Flags().IntVar(&opts.monitorPort, "monitor-port", 0,
		"port of the monitoring server, 0 picks a free port")
	runCmd.Flags().StringVar(&opts.record, "record", "",
		"record the run into this sqlite file")

	return runCmd
}

func runSimulation(
	ctx context.Context,
	s *simulation.Simulation,
	steps uint64,
	out io.Writer,
) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	atexit.Register(func() { s.Shutdown(context.Background()) })

	clock := tracing.NewWallClock()
	advanceTimes := make(map[string]*tracing.TotalTimeTracer)

	for _, h := range s.Engines() {
		t := tracing.NewTotalTimeTracer(clock,
			tracing.WhereIs(tracing.KindAdvance, h.Name()))
		tracing.CollectTrace(s, t)
		advanceTimes[h.Name()] = t
	}

	functionCounts := tracing.NewStepCountTracer(
		tracing.KindIs(tracing.KindFunction))
	tracing.CollectTrace(s, functionCounts)

	var err error
	if steps > 0 {
		err = s.Run(ctx, steps)
		s.Shutdown(ctx)
	} else {
		err = s.RunUntilStopped(ctx)
	}

	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(out, "Interrupted.")
		err = nil
	}

	printSummary(out, s, advanceTimes, functionCounts)

	return err
}

func printSummary(
	out io.Writer,
	s *simulation.Simulation,
	advanceTimes map[string]*tracing.TotalTimeTracer,
	functionCounts *tracing.StepCountTracer,
) {
	fmt.Fprintf(out, "Simulation %s (%s) stopped at step %d, time %.6f s\n\n",
		s.Name(), s.ID(), s.CurrentStep(), s.CurrentTime())

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "ENGINE\tSTATE\tADVANCES\tRETRIES\tWALL TIME (s)\tAVERAGE (s)")
	for _, h := range s.Engines() {
		t := advanceTimes[h.Name()]
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.6f\t%.6f\n",
			h.Name(), h.State(), h.Steps(), h.Retries(),
			t.TotalTime(), t.AverageTime())
	}

	if e := s.Executor(); e != nil && len(e.Statuses()) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w,
			"FUNCTION\tTARGET\tINVOCATIONS\tOUTPUTS\tFAILURES\tSTATUS")

		for _, st := range e.Statuses() {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				st.Name, st.TargetEngine,
				functionCounts.TaskCount(st.Name),
				functionCounts.StepCount(st.Name, simulation.MilestoneOutput),
				functionCounts.StepCount(st.Name, simulation.MilestoneFailed),
				functionStatus(st.Active, st.Disabled))
		}
	}

	_ = w.Flush()
}

func functionStatus(active, disabled bool) string {
	switch {
	case disabled:
		return "disabled"
	case !active:
		return "inactive"
	default:
		return "active"
	}
}
