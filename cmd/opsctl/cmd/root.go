// Package cmd holds the opsctl command tree: cron and operator entry points
// for the work the gateway never does on a timer.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/app"
	"github.com/lalithlochan/backoffice/internal/config"
	"github.com/lalithlochan/backoffice/internal/observ"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "opsctl",
	Short: "Back-office operations: job reclaim, NPS dispatch, device admin",
	Long: `opsctl runs one-shot operations against the back-office database.

Cron runs "opsctl nps dispatch" and "opsctl jobs reclaim"; operators use the
device and token commands.`,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setup(_ *cobra.Command, _ []string) error {
	var err error
	if cfg, err = config.Load(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logger, err = observ.NewLogger(cfg.Env, cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}

// withApp builds the full object graph for commands that touch storage.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(jobsCmd, npsCmd, deviceCmd, tokenCmd)
}
