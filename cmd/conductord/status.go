package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/status"
)

var (
	statusJSON  bool
	statusState string
	statusQueue string
	statusLimit int
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show queue depths, one job's state, or the jobs in a state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}
		ctx := cmd.Context()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			st, err := a.eng.Lookup(ctx, args[0])
			if err != nil {
				return err
			}
			if statusJSON {
				return printJSON(out, st)
			}
			printJob(out, st)
			return nil
		}

		if statusState != "" {
			jobs, err := a.eng.List(ctx, status.ListFilter{
				State: job.State(statusState),
				Queue: statusQueue,
				Limit: statusLimit,
			})
			if err != nil {
				return err
			}
			if statusJSON {
				return printJSON(out, jobs)
			}
			printJobs(out, jobs)
			return nil
		}

		snap := a.eng.Status(ctx)
		if statusJSON {
			return printJSON(out, snap)
		}
		printSnapshot(out, snap)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON instead of a table")
	statusCmd.Flags().StringVar(&statusState, "state", "", "list jobs in this state (waiting, active, completed, failed)")
	statusCmd.Flags().StringVar(&statusQueue, "queue", "", "with --state, only list jobs of this queue")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 50, "with --state, the maximum number of jobs to list")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSnapshot(out io.Writer, snap *status.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	headerColor.Fprintf(w, "Queues (%s)\n", snap.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintln(w, "QUEUE\tWAITING\tDELAYED\tACTIVE\tCOMPLETED\tFAILED")
	for _, q := range snap.Queues {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n",
			q.Queue, q.Waiting, q.Delayed, q.Active, q.Completed, failedCell(q.Failed))
	}
	t := snap.Totals
	fmt.Fprintf(w, "total\t%d\t%d\t%d\t%d\t%s\n", t.Waiting, t.Delayed, t.Active, t.Completed, failedCell(t.Failed))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Pending fan-ins:\t%d\n", snap.PendingParents)
	fmt.Fprintf(w, "Dead letters:\t%s\n", failedCell(snap.DeadLetters))

	for _, e := range snap.Errors {
		badColor.Fprintf(w, "error: %s\n", e)
	}
}

func printJob(out io.Writer, st *status.JobStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	headerColor.Fprintf(w, "Job %s\n", st.ID)
	fmt.Fprintf(w, "Type:\t%s\n", st.Type)
	fmt.Fprintf(w, "Queue:\t%s\n", st.Queue)
	fmt.Fprintf(w, "State:\t%s\n", stateColor(st).Sprint(st.State))
	fmt.Fprintf(w, "Attempts:\t%d/%d\n", st.Attempts, st.MaxAttempts)
	if st.QueuePosition != nil {
		fmt.Fprintf(w, "Queue position:\t%d\n", *st.QueuePosition)
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "Last error:\t%s\n", badColor.Sprint(st.LastError))
	}
	if st.ParentJobID != "" {
		fmt.Fprintf(w, "Parent:\t%s\n", st.ParentJobID)
	}
	if len(st.SpawnedChildIDs) > 0 {
		fmt.Fprintf(w, "Children:\t%d spawned, %d pending\n", len(st.SpawnedChildIDs), len(st.PendingChildren))
	}
	if st.ProcessingTime > 0 {
		fmt.Fprintf(w, "Processing time:\t%s\n", st.ProcessingTime)
	}
}

func printJobs(out io.Writer, jobs []*status.JobStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tTYPE\tQUEUE\tSTATE\tATTEMPTS\tCREATED\tLAST ERROR")
	for _, st := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			st.ID, st.Type, st.Queue, stateColor(st).Sprint(st.State),
			st.Attempts, st.MaxAttempts,
			st.CreatedAt.Format("2006-01-02 15:04:05"), st.LastError)
	}
	if len(jobs) == 0 {
		warnColor.Fprintln(w, "no jobs")
	}
}

func stateColor(st *status.JobStatus) *color.Color {
	switch st.State {
	case job.StateCompleted:
		return goodColor
	case job.StateFailed:
		return badColor
	default:
		return warnColor
	}
}

func failedCell(n int64) string {
	if n == 0 {
		return "0"
	}
	return badColor.Sprint(n)
}
