// Package export turns reconciliation state into flat tables and writes
// them as CSV or XLSX.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"invoice-reconciliation-backend/internal/models"
)

const dateLayout = "2006-01-02"

// Kind names a downloadable report.
type Kind string

const (
	KindReconciliationReport  Kind = "reconciliation-report"
	KindUnmatchedInvoices     Kind = "unmatched-invoices"
	KindUnmatchedTransactions Kind = "unmatched-transactions"
	KindAuditLog              Kind = "audit-log"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindReconciliationReport, KindUnmatchedInvoices, KindUnmatchedTransactions, KindAuditLog:
		return k, nil
	}
	return "", fmt.Errorf("unknown report %q", s)
}

// Table is a header plus string rows.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// ReconciliationReport lists every invoice with the transactions allocated to it.
func ReconciliationReport(invoices []models.Invoice, matches []models.Match) Table {
	byInvoice := make(map[uuid.UUID][]models.Match)
	for _, m := range matches {
		if m.Active {
			byInvoice[m.InvoiceID] = append(byInvoice[m.InvoiceID], m)
		}
	}

	t := Table{
		Name: string(KindReconciliationReport),
		Header: []string{
			"InvoiceId", "ExternalId", "Reference", "Amount", "Date", "Status",
			"MatchedAmount", "Outstanding", "OverpaymentCredit", "Confidence", "TransactionIds", "MatchTypes",
		},
	}
	for _, inv := range invoices {
		var txIDs, sources []string
		for _, m := range byInvoice[inv.ID] {
			txIDs = append(txIDs, m.TransactionID.String())
			sources = append(sources, string(m.Source))
		}
		t.Rows = append(t.Rows, []string{
			inv.ID.String(),
			inv.ExternalID,
			inv.Reference,
			inv.Amount.StringFixed(2),
			inv.Date.Format(dateLayout),
			string(inv.Status),
			inv.MatchedAmount.StringFixed(2),
			inv.Remaining().StringFixed(2),
			inv.OverpaymentCredit().StringFixed(2),
			confidence(inv.Confidence),
			strings.Join(txIDs, ";"),
			strings.Join(sources, ";"),
		})
	}
	return t
}

// UnmatchedInvoices lists invoices with nothing allocated.
func UnmatchedInvoices(invoices []models.Invoice) Table {
	t := Table{
		Name:   string(KindUnmatchedInvoices),
		Header: []string{"Id", "ExternalId", "Reference", "Amount", "Date", "Description", "CustomerName", "Status"},
	}
	for _, inv := range invoices {
		if inv.MatchedAmount.IsPositive() {
			continue
		}
		t.Rows = append(t.Rows, []string{
			inv.ID.String(),
			inv.ExternalID,
			inv.Reference,
			inv.Amount.StringFixed(2),
			inv.Date.Format(dateLayout),
			inv.Description,
			inv.CustomerName,
			string(inv.Status),
		})
	}
	return t
}

// UnmatchedTransactions lists transactions with nothing allocated.
func UnmatchedTransactions(txs []models.BankTransaction) Table {
	t := Table{
		Name:   string(KindUnmatchedTransactions),
		Header: []string{"Id", "ExternalId", "Date", "Amount", "Description", "Reference", "Status"},
	}
	for _, tx := range txs {
		if tx.MatchedAmount.IsPositive() {
			continue
		}
		t.Rows = append(t.Rows, []string{
			tx.ID.String(),
			tx.ExternalID,
			tx.TransactionDate.Format(dateLayout),
			tx.Amount.StringFixed(2),
			tx.Description,
			tx.ReferenceNumber,
			string(tx.Status),
		})
	}
	return t
}

func AuditLog(entries []models.AuditEntry) Table {
	t := Table{
		Name: string(KindAuditLog),
		Header: []string{
			"Seq", "Timestamp", "ActorId", "ActorRole", "Action", "InvoiceId", "TransactionId",
			"MatchId", "RunId", "BeforeAmount", "AfterAmount", "Reason", "Detail",
		},
	}
	for _, e := range entries {
		t.Rows = append(t.Rows, []string{
			fmt.Sprint(e.Seq),
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.ActorID,
			string(e.ActorRole),
			string(e.Action),
			optionalID(e.InvoiceID),
			optionalID(e.TransactionID),
			optionalID(e.MatchID),
			optionalID(e.RunID),
			optionalAmount(e.BeforeAmount.Valid, e.BeforeAmount.Decimal.StringFixed(2)),
			optionalAmount(e.AfterAmount.Valid, e.AfterAmount.Decimal.StringFixed(2)),
			e.Reason,
			e.Detail,
		})
	}
	return t
}

func confidence(c *float64) string {
	if c == nil {
		return ""
	}
	return fmt.Sprintf("%.4f", *c)
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func optionalAmount(valid bool, s string) string {
	if !valid {
		return ""
	}
	return s
}

// Source is the state a report is cut from. Audit is only read for the
// audit-log report.
type Source struct {
	Invoices     []models.Invoice
	Transactions []models.BankTransaction
	Matches      []models.Match
	Audit        []models.AuditEntry
}

// Build produces the table for kind.
func Build(kind Kind, src Source) Table {
	switch kind {
	case KindUnmatchedInvoices:
		return UnmatchedInvoices(src.Invoices)
	case KindUnmatchedTransactions:
		return UnmatchedTransactions(src.Transactions)
	case KindAuditLog:
		return AuditLog(src.Audit)
	default:
		return ReconciliationReport(src.Invoices, src.Matches)
	}
}
