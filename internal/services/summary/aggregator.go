// Package summary computes dashboard totals from the current match state.
package summary

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"invoice-reconciliation-backend/internal/models"
	"invoice-reconciliation-backend/internal/services/status"
)

type DashboardSummary struct {
	TotalInvoices            int64           `json:"totalInvoices"`
	TotalTransactions        int64           `json:"totalTransactions"`
	MatchedInvoicesCount     int64           `json:"matchedInvoicesCount"`
	MatchedTransactionsCount int64           `json:"matchedTransactionsCount"`
	TotalInvoiceAmount       decimal.Decimal `json:"totalInvoiceAmount"`
	TotalTransactionAmount   decimal.Decimal `json:"totalTransactionAmount"`
	MatchedAmount            decimal.Decimal `json:"matchedAmount"`
	MatchPercentByCount      float64         `json:"matchPercentByCount"`
	MatchPercentByAmount     float64         `json:"matchPercentByAmount"`
	OutstandingBalance       decimal.Decimal `json:"outstandingBalance"`
	OverpaymentCredits       decimal.Decimal `json:"overpaymentCredits"`
}

// Compute derives the summary from active matches rather than the stored
// derived columns, so it cannot drift from the match set.
func Compute(invoices []models.Invoice, txs []models.BankTransaction, matches []models.Match) DashboardSummary {
	byInvoice := make(map[uuid.UUID][]models.Match)
	byTx := make(map[uuid.UUID][]models.Match)
	for _, m := range matches {
		if !m.Active {
			continue
		}
		byInvoice[m.InvoiceID] = append(byInvoice[m.InvoiceID], m)
		byTx[m.TransactionID] = append(byTx[m.TransactionID], m)
	}

	s := DashboardSummary{
		TotalInvoices:          int64(len(invoices)),
		TotalTransactions:      int64(len(txs)),
		TotalInvoiceAmount:     decimal.Zero,
		TotalTransactionAmount: decimal.Zero,
		MatchedAmount:          decimal.Zero,
		OutstandingBalance:     decimal.Zero,
		OverpaymentCredits:     decimal.Zero,
	}

	for _, inv := range invoices {
		r := status.ResolveInvoice(inv.Amount, byInvoice[inv.ID])
		s.TotalInvoiceAmount = s.TotalInvoiceAmount.Add(inv.Amount)
		s.MatchedAmount = s.MatchedAmount.Add(decimal.Min(r.MatchedAmount, inv.Amount))
		if gap := inv.Amount.Sub(r.MatchedAmount); gap.IsPositive() {
			s.OutstandingBalance = s.OutstandingBalance.Add(gap)
		}
		if excess := r.MatchedAmount.Sub(inv.Amount); excess.IsPositive() {
			s.OverpaymentCredits = s.OverpaymentCredits.Add(excess)
		}
		if r.Status == models.StatusMatched || r.Status == models.StatusOverpaid {
			s.MatchedInvoicesCount++
		}
	}

	for _, tx := range txs {
		r := status.ResolveTransaction(tx.Amount, byTx[tx.ID])
		s.TotalTransactionAmount = s.TotalTransactionAmount.Add(tx.Amount)
		if r.Status == models.StatusMatched {
			s.MatchedTransactionsCount++
		}
	}

	if s.TotalInvoices > 0 {
		s.MatchPercentByCount = float64(s.MatchedInvoicesCount) / float64(s.TotalInvoices)
	}
	if s.TotalInvoiceAmount.IsPositive() {
		s.MatchPercentByAmount, _ = s.MatchedAmount.Div(s.TotalInvoiceAmount).Round(4).Float64()
	}
	return s
}
