package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"invoice-reconciliation-backend/internal/services/reconciliation"
)

func newIngestCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.json>",
		Short: "Upsert invoices and transactions from a JSON file",
		Long: `Upsert normalized records by externalId. The file holds
{"invoices": [...], "transactions": [...]}, the same body POST /api/ingest takes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			var req reconciliation.IngestRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			a, err := flags.open()
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.recon.Ingest(cmd.Context(), req, a.actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"invoices: %d created, %d updated; transactions: %d created, %d updated; %d matches invalidated\n",
				res.InvoicesCreated, res.InvoicesUpdated, res.TransactionsCreated, res.TransactionsUpdated, res.Invalidated)
			return nil
		},
	}
}
