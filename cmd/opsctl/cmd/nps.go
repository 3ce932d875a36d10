package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lalithlochan/backoffice/internal/app"
	"github.com/lalithlochan/backoffice/internal/circuitbreaker"
	"github.com/lalithlochan/backoffice/internal/worker"
)

var npsCmd = &cobra.Command{
	Use:   "nps",
	Short: "NPS survey scheduling and dispatch",
}

var npsDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run one dispatch cycle",
	Long: `Sends every pending envelope that is eligible now and records each attempt.
Overlapping runs are refused while another cycle holds the dispatch lock.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			summary, err := a.Dispatcher.RunOnce(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			out := struct {
				*worker.Summary
				Breakers []circuitbreaker.Stats `json:"breakers,omitempty"`
			}{Summary: summary}
			for _, cb := range a.Breakers {
				out.Breakers = append(out.Breakers, cb.Stats())
			}
			return printJSON(cmd.OutOrStdout(), out)
		})
	},
}

var npsRequeueErroredCmd = &cobra.Command{
	Use:   "requeue-errored",
	Short: "Requeue errored envelopes that have attempts left, with backoff",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			n, err := a.Scheduler.RequeueErrored(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d envelope(s)\n", n)
			return nil
		})
	},
}

var requeueAt string

var npsRequeueCmd = &cobra.Command{
	Use:   "requeue <envelope-id>",
	Short: "Requeue one errored envelope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid envelope id: %w", err)
		}
		var eligibleAt time.Time
		if requeueAt != "" {
			if eligibleAt, err = time.Parse(time.RFC3339, requeueAt); err != nil {
				return fmt.Errorf("--at must be RFC3339: %w", err)
			}
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			env, err := a.Scheduler.Requeue(cmd.Context(), id, eligibleAt)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), env)
		})
	},
}

func init() {
	npsRequeueCmd.Flags().StringVar(&requeueAt, "at", "", "eligibility time (RFC3339, default now)")

	npsCmd.AddCommand(npsDispatchCmd, npsRequeueErroredCmd, npsRequeueCmd)
}
