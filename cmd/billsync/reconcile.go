package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/billsync/pkg/logger"
	"github.com/dmitrymomot/billsync/pkg/reconcile"
	"github.com/dmitrymomot/billsync/pkg/trigger"
)

type reconcileFlags struct {
	dryRun bool
	output string
}

func newReconcileCmd(root *rootFlags) *cobra.Command {
	flags := &reconcileFlags{}
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and print its report",
		Long: `Run one reconciliation pass synchronously: read the ledger, compare it with
the mirror database, repair orphans, drift and missing records, then print
the report. Exits with status 1 when the pass fails or any repair failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := reconcile.ParseFormat(flags.output)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(root.envFiles...)
			if err != nil {
				return err
			}
			if flags.dryRun {
				cfg.Reconcile.DryRun = true
			}

			log := newLogger(cfg.settings, cmd.ErrOrStderr())
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				log.ErrorContext(ctx, "startup failed", logger.Error(err))
				return err
			}
			defer func() {
				if err := a.Close(context.WithoutCancel(ctx)); err != nil {
					log.WarnContext(ctx, "failed to close connections", logger.Error(err))
				}
			}()

			return runReconcile(ctx, a.runner, format, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "plan repairs without writing to the mirror")
	cmd.Flags().StringVarP(&flags.output, "output", "o", string(reconcile.FormatText), "report format: text, json or yaml")
	return cmd
}

// runReconcile triggers one pass and writes its report to out. A partial
// outcome returns ErrIncompleteRepair so the process exits non-zero.
func runReconcile(ctx context.Context, runner *trigger.Runner, format reconcile.Format, out io.Writer) error {
	report, runErr := runner.Trigger(ctx, trigger.SourceCLI)
	if report != nil {
		if err := report.Encode(out, format); err != nil {
			return errors.Join(runErr, fmt.Errorf("write report: %w", err))
		}
	}
	if runErr != nil {
		return runErr
	}
	if report.Outcome == reconcile.OutcomePartial {
		return fmt.Errorf("%w: %d repair(s) failed", reconcile.ErrIncompleteRepair, report.Failed)
	}
	return nil
}
