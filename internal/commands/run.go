package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"invoice-reconciliation-backend/internal/services/reconciliation"
)

func newRunCommand(flags *globalFlags) *cobra.Command {
	var invoiceIDs, transactionIDs []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the matching engine and commit its matches",
		Long: `Run the matching engine over every invoice and transaction, or over the
records named with --invoice and --transaction, and commit the result.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(invoiceIDs, transactionIDs)
			if err != nil {
				return err
			}

			a, err := flags.open()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.recon.Run(cmd.Context(), a.actor, scope)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s %s after %d attempt(s)\n", res.Run.ID, res.Run.Status, res.Run.Attempts)
			fmt.Fprintf(out, "  new matches:            %d\n", res.Run.NewMatches)
			fmt.Fprintf(out, "  invalidated:            %d\n", res.Run.Invalidated)
			fmt.Fprintf(out, "  unmatched invoices:     %d\n", res.Run.UnmatchedInvoices)
			fmt.Fprintf(out, "  unmatched transactions: %d\n", res.Run.UnmatchedTransactions)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&invoiceIDs, "invoice", nil, "limit the run to these invoice ids")
	cmd.Flags().StringSliceVar(&transactionIDs, "transaction", nil, "limit the run to these transaction ids")

	return cmd
}

func parseScope(invoiceIDs, transactionIDs []string) (reconciliation.Scope, error) {
	var scope reconciliation.Scope
	for _, s := range invoiceIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return scope, fmt.Errorf("--invoice %q: %w", s, err)
		}
		scope.InvoiceIDs = append(scope.InvoiceIDs, id)
	}
	for _, s := range transactionIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return scope, fmt.Errorf("--transaction %q: %w", s, err)
		}
		scope.TransactionIDs = append(scope.TransactionIDs, id)
	}
	return scope, nil
}
