package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cosim/datarecording"
)

func newInspectCommand() *cobra.Command {
	var errorLimit int

	inspectCmd := &cobra.Command{
		Use:   "inspect <recording.sqlite3>",
		Short: "Summarize a run recorded with run --record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			reader, err := datarecording.NewReader(args[0])
			if err != nil {
				return err
			}
			defer reader.Close()

			return inspectRecording(cmd.Context(), reader, args[0],
				errorLimit, cmd.OutOrStdout())
		},
	}

	inspectCmd.Flags().IntVar(&errorLimit, "errors", 10,
		"list at most this many failed invocations, 0 for none")

	return inspectCmd
}

type functionRecord struct {
	invocations int
	outputs     int
	failures    int
	skips       int
}

func inspectRecording(
	ctx context.Context,
	reader datarecording.DataReader,
	name string,
	errorLimit int,
	out io.Writer,
) error {
	datarecording.MapRecorderTables(reader)

	last, steps, err := reader.Query(ctx, datarecording.TableStep,
		datarecording.QueryParams{OrderBy: "Step DESC", Limit: 1})
	if err != nil {
		return err
	}

	if steps == 0 {
		fmt.Fprintf(out, "Recording %s: no steps\n", name)
		return nil
	}

	final := last[0].(*datarecording.StepEntry)
	fmt.Fprintf(out, "Recording %s: %d steps, last step %d at %.6f s\n",
		name, steps, final.Step, final.Time)

	names, records, err := functionRecords(ctx, reader)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	if len(names) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "FUNCTION\tINVOCATIONS\tOUTPUTS\tFAILURES\tSKIPS")

		for _, n := range names {
			r := records[n]
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n",
				n, r.invocations, r.outputs, r.failures, r.skips)
		}
	}

	if errorLimit > 0 {
		if err := printFailures(ctx, reader, errorLimit, w); err != nil {
			return err
		}
	}

	return w.Flush()
}

func functionRecords(
	ctx context.Context,
	reader datarecording.DataReader,
) ([]string, map[string]*functionRecord, error) {
	var names []string
	records := make(map[string]*functionRecord)

	record := func(function string) *functionRecord {
		r, ok := records[function]
		if !ok {
			r = &functionRecord{}
			records[function] = r
			names = append(names, function)
		}

		return r
	}

	invocations, _, err := reader.Query(ctx, datarecording.TableTFInvocation,
		datarecording.QueryParams{OrderBy: "Step"})
	if err != nil {
		return nil, nil, err
	}

	for _, e := range invocations {
		inv := e.(*datarecording.TFInvocationEntry)
		r := record(inv.Function)
		r.invocations++
		r.outputs += inv.Outputs

		if inv.Error != "" {
			r.failures++
		}
	}

	skips, _, err := reader.Query(ctx, datarecording.TableTFSkip,
		datarecording.QueryParams{OrderBy: "Step"})
	if err != nil {
		return nil, nil, err
	}

	for _, e := range skips {
		record(e.(*datarecording.TFSkipEntry).Function).skips++
	}

	return names, records, nil
}

func printFailures(
	ctx context.Context,
	reader datarecording.DataReader,
	limit int,
	w io.Writer,
) error {
	failures, total, err := reader.Query(ctx, datarecording.TableTFInvocation,
		datarecording.QueryParams{
			Where:   "Error != ?",
			Args:    []any{""},
			OrderBy: "Step",
			Limit:   limit,
		})
	if err != nil || total == 0 {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "FAILED INVOCATIONS (%d of %d)\n", len(failures), total)
	fmt.Fprintln(w, "STEP\tFUNCTION\tERROR")

	for _, e := range failures {
		inv := e.(*datarecording.TFInvocationEntry)
		fmt.Fprintf(w, "%d\t%s\t%s\n", inv.Step, inv.Function, inv.Error)
	}

	return nil
}
