// Command billsync keeps the mirror database's subscription records in line
// with the billing ledger.
//
//	billsync reconcile [--dry-run] [--output text|json|yaml]
//	billsync serve
//	billsync version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	envFiles []string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "billsync",
		Short:         "Reconcile ledger subscriptions into the mirror database",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", nil,
		"dotenv file(s) to load instead of ./.env")

	cmd.AddCommand(
		newReconcileCmd(flags),
		newServeCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
