package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/conductor/job"
)

var (
	submitType     string
	submitPayload  string
	submitPriority int
	submitParent   string
	submitID       string
	submitTrack    bool
	submitWait     time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job to the configured store",
	Example: `  conductord submit --type case-analysis --payload '{"caseId":"c-1","entityInvolved":true}'
  conductord submit --type document-embedding --payload '"clause text"' --wait 2m`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return submit(cmd.Context(), cmd)
	},
}

func init() {
	f := submitCmd.Flags()
	f.StringVarP(&submitType, "type", "t", "", "job type (required)")
	f.StringVarP(&submitPayload, "payload", "p", "", "JSON payload")
	f.IntVar(&submitPriority, "priority", 0, "priority, lower runs sooner (0 uses the queue tier)")
	f.StringVar(&submitParent, "parent", "", "parent job ID")
	f.StringVar(&submitID, "id", "", "job ID (generated when empty)")
	f.BoolVar(&submitTrack, "track", false, "log this job's lifecycle at info level")
	f.DurationVar(&submitWait, "wait", 0, "poll until the job finishes or this long has passed")
	_ = submitCmd.MarkFlagRequired("type")
}

func submit(ctx context.Context, cmd *cobra.Command) error {
	var payload any
	if submitPayload != "" {
		if err := json.Unmarshal([]byte(submitPayload), &payload); err != nil {
			return fmt.Errorf("payload is not valid JSON: %w", err)
		}
	}

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	jobID, err := a.eng.Submit(ctx, job.Record{
		ID:          submitID,
		Type:        job.Type(submitType),
		Priority:    submitPriority,
		Payload:     payload,
		ParentJobID: submitParent,
		Metadata:    job.Metadata{Track: submitTrack},
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, jobID)

	if submitWait <= 0 {
		return nil
	}
	waitCtx, cancel := context.WithTimeout(ctx, submitWait)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := a.eng.Lookup(waitCtx, jobID)
		if err != nil {
			return err
		}
		if st.State.Terminal() {
			return printJSON(out, st)
		}
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("job %s still %s: %w", jobID, st.State, waitCtx.Err())
		case <-ticker.C:
		}
	}
}
