package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/backoffice/internal/app"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Sync job queue operations",
}

var reclaimOlderThan time.Duration

var jobsReclaimCmd = &cobra.Command{
	Use:   "reclaim",
	Short: "Return stale claims to pending",
	Long: `Moves jobs claimed longer ago than --older-than back to pending so another
terminal can pick them up. Defaults to JOB_CLAIM_TIMEOUT.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		olderThan := reclaimOlderThan
		if olderThan == 0 {
			olderThan = cfg.JobClaimTimeout
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			n, err := a.Queue.ReclaimStale(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reclaimed %d job(s) claimed more than %s ago\n", n, olderThan)
			return nil
		})
	},
}

var (
	enqueueBranch   int64
	enqueueRegister int64
	enqueueDate     string
	enqueueInitial  bool
)

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Enqueue a sync job for a branch register",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		payloadDate, err := time.Parse(time.DateOnly, enqueueDate)
		if err != nil {
			return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			job, err := a.Queue.Enqueue(cmd.Context(), enqueueBranch, enqueueRegister, payloadDate, enqueueInitial)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		})
	},
}

func init() {
	jobsReclaimCmd.Flags().DurationVar(&reclaimOlderThan, "older-than", 0, "claim age threshold (default JOB_CLAIM_TIMEOUT)")

	jobsEnqueueCmd.Flags().Int64Var(&enqueueBranch, "branch", 0, "branch id")
	jobsEnqueueCmd.Flags().Int64Var(&enqueueRegister, "register", 0, "register id")
	jobsEnqueueCmd.Flags().StringVar(&enqueueDate, "date", time.Now().Format(time.DateOnly), "payload date")
	jobsEnqueueCmd.Flags().BoolVar(&enqueueInitial, "initial", false, "initial full-load job")
	_ = jobsEnqueueCmd.MarkFlagRequired("branch")
	_ = jobsEnqueueCmd.MarkFlagRequired("register")

	jobsCmd.AddCommand(jobsReclaimCmd, jobsEnqueueCmd)
}
