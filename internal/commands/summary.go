package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSummaryCommand(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print dashboard totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open()
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.recon.Summary(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Invoices\t%d\t(%d matched)\n", s.TotalInvoices, s.MatchedInvoicesCount)
			fmt.Fprintf(w, "Transactions\t%d\t(%d matched)\n", s.TotalTransactions, s.MatchedTransactionsCount)
			fmt.Fprintf(w, "Invoice amount\t%s\t\n", s.TotalInvoiceAmount.StringFixed(2))
			fmt.Fprintf(w, "Transaction amount\t%s\t\n", s.TotalTransactionAmount.StringFixed(2))
			fmt.Fprintf(w, "Matched amount\t%s\t\n", s.MatchedAmount.StringFixed(2))
			fmt.Fprintf(w, "Outstanding\t%s\t\n", s.OutstandingBalance.StringFixed(2))
			fmt.Fprintf(w, "Overpayment credits\t%s\t\n", s.OverpaymentCredits.StringFixed(2))
			fmt.Fprintf(w, "Matched by count\t%.2f%%\t\n", s.MatchPercentByCount*100)
			fmt.Fprintf(w, "Matched by amount\t%.2f%%\t\n", s.MatchPercentByAmount*100)
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")

	return cmd
}
