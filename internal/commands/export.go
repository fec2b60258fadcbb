package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"invoice-reconciliation-backend/internal/services/audit"
	"invoice-reconciliation-backend/internal/services/export"
)

func newExportCommand(flags *globalFlags) *cobra.Command {
	var format, outPath string

	cmd := &cobra.Command{
		Use:   "export <kind>",
		Short: "Write a report as CSV or XLSX",
		Long: `Write one report. Kinds: reconciliation-report, unmatched-invoices,
unmatched-transactions, audit-log.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := export.ParseKind(args[0])
			if err != nil {
				return err
			}
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			a, err := flags.open()
			if err != nil {
				return err
			}
			defer a.Close()

			var src export.Source
			if kind == export.KindAuditLog {
				if src.Audit, err = a.audit.Entries(cmd.Context(), audit.Filter{}); err != nil {
					return err
				}
			} else {
				ledger, err := a.recon.Ledger(cmd.Context())
				if err != nil {
					return err
				}
				src = export.Source{Invoices: ledger.Invoices, Transactions: ledger.Transactions, Matches: ledger.Matches}
			}
			table := export.Build(kind, src)

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				file, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("creating %s: %w", outPath, err)
				}
				defer file.Close()
				w = file
			}
			if err := export.Write(w, table, f); err != nil {
				return err
			}
			if outPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", len(table.Rows), outPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "csv", "csv or xlsx")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")

	return cmd
}
