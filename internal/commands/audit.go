package commands

import (
	"github.com/spf13/cobra"

	"invoice-reconciliation-backend/internal/services/audit"
	"invoice-reconciliation-backend/internal/services/export"
)

func newAuditCommand(flags *globalFlags) *cobra.Command {
	var entity, from, to string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print audit entries as CSV, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := audit.ParseFilter(entity, from, to)
			if err != nil {
				return err
			}

			a, err := flags.open()
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.audit.Entries(cmd.Context(), f)
			if err != nil {
				return err
			}
			return export.WriteCSV(cmd.OutOrStdout(), export.AuditLog(entries))
		},
	}

	cmd.Flags().StringVar(&entity, "entity", "", "invoice, transaction, match or run id")
	cmd.Flags().StringVar(&from, "from", "", "earliest entry (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "latest entry (RFC3339 or YYYY-MM-DD)")

	return cmd
}
