// Package matching computes automatic invoice to transaction allocations.
//
// Reconcile is pure: it reads a snapshot of invoices, transactions and active
// matches and returns the matches to create and the stale AUTO matches to
// deactivate. Persisting the result is the caller's job.
package matching

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"invoice-reconciliation-backend/internal/models"
	"invoice-reconciliation-backend/internal/services/status"
)

const (
	passExact = "exact"
	passFuzzy = "fuzzy"
)

// Input is the snapshot a run works on.
type Input struct {
	Invoices      []models.Invoice
	Transactions  []models.BankTransaction
	ActiveMatches []models.Match
}

// Invalidation is an AUTO match whose inputs changed since it was created.
type Invalidation struct {
	Match  models.Match
	Reason string
}

// Result is the outcome of one run. NewMatches carry no ID, RunID or
// CreatedBy yet.
type Result struct {
	NewMatches              []models.Match
	Invalidated             []Invalidation
	UnmatchedInvoiceIDs     []uuid.UUID
	UnmatchedTransactionIDs []uuid.UUID
}

type edge struct {
	invoice *models.Invoice
	tx      *models.BankTransaction
	pass    string
	score   Score
}

// balances tracks what is left to allocate while a run proceeds.
type balances struct {
	eps     decimal.Decimal
	inv     map[uuid.UUID]decimal.Decimal
	tx      map[uuid.UUID]decimal.Decimal
	invUsed map[uuid.UUID]decimal.Decimal
	txUsed  map[uuid.UUID]decimal.Decimal
	// closed transactions are withheld from further invoices
	closed map[uuid.UUID]bool
}

func (b *balances) open(remaining decimal.Decimal) bool {
	return remaining.GreaterThan(b.eps)
}

func (b *balances) invoiceOpen(id uuid.UUID) bool { return b.open(b.inv[id]) }

func (b *balances) txOpen(id uuid.UUID) bool { return !b.closed[id] && b.open(b.tx[id]) }

// Reconcile runs invalidation, the exact pass, the fuzzy pass and greedy
// assignment over the snapshot.
func Reconcile(in Input, cfg Config) Result {
	var res Result

	invByID := make(map[uuid.UUID]*models.Invoice, len(in.Invoices))
	for i := range in.Invoices {
		invByID[in.Invoices[i].ID] = &in.Invoices[i]
	}
	txByID := make(map[uuid.UUID]*models.BankTransaction, len(in.Transactions))
	for i := range in.Transactions {
		txByID[in.Transactions[i].ID] = &in.Transactions[i]
	}

	bal := &balances{
		eps:     status.Epsilon,
		inv:     make(map[uuid.UUID]decimal.Decimal),
		tx:      make(map[uuid.UUID]decimal.Decimal),
		invUsed: make(map[uuid.UUID]decimal.Decimal),
		txUsed:  make(map[uuid.UUID]decimal.Decimal),
		closed:  make(map[uuid.UUID]bool),
	}

	for _, m := range in.ActiveMatches {
		if !m.Active {
			continue
		}
		inv, okInv := invByID[m.InvoiceID]
		tx, okTx := txByID[m.TransactionID]
		if m.Source == models.SourceAuto && okInv && okTx && m.Checksum != Checksum(*inv, *tx) {
			res.Invalidated = append(res.Invalidated, Invalidation{
				Match: m,
				Reason: fmt.Sprintf("amounts changed since match (invoice %s, transaction %s)",
					inv.Amount.StringFixed(2), tx.Amount.StringFixed(2)),
			})
			continue
		}
		bal.invUsed[m.InvoiceID] = bal.invUsed[m.InvoiceID].Add(m.AllocatedAmount)
		bal.txUsed[m.TransactionID] = bal.txUsed[m.TransactionID].Add(m.AllocatedAmount)
	}

	for _, inv := range in.Invoices {
		bal.inv[inv.ID] = inv.Amount.Sub(bal.invUsed[inv.ID])
	}
	for _, tx := range in.Transactions {
		if !tx.IsCredit() {
			bal.tx[tx.ID] = decimal.Zero
			continue
		}
		bal.tx[tx.ID] = tx.Amount.Sub(bal.txUsed[tx.ID])
		if !cfg.AllowSplit && bal.txUsed[tx.ID].IsPositive() {
			bal.closed[tx.ID] = true
		}
	}

	invoices := sortedInvoices(in.Invoices)
	txs := sortedTransactions(in.Transactions)

	exact := exactEdges(invoices, txs, bal, cfg)
	res.NewMatches = append(res.NewMatches, assign(exact, bal, cfg)...)

	fuzzy := fuzzyEdges(invoices, txs, bal, cfg)
	res.NewMatches = append(res.NewMatches, assign(fuzzy, bal, cfg)...)

	for _, inv := range invoices {
		if !bal.invUsed[inv.ID].IsPositive() {
			res.UnmatchedInvoiceIDs = append(res.UnmatchedInvoiceIDs, inv.ID)
		}
	}
	for _, tx := range txs {
		if tx.IsCredit() && !bal.txUsed[tx.ID].IsPositive() {
			res.UnmatchedTransactionIDs = append(res.UnmatchedTransactionIDs, tx.ID)
		}
	}

	return res
}

func exactEdges(invoices []*models.Invoice, txs []*models.BankTransaction, bal *balances, cfg Config) []edge {
	var edges []edge
	for _, inv := range invoices {
		if !bal.invoiceOpen(inv.ID) {
			continue
		}
		for _, tx := range txs {
			if !bal.txOpen(tx.ID) {
				continue
			}
			if inv.Amount.Sub(tx.Amount).Abs().GreaterThan(status.Epsilon) {
				continue
			}
			if !referencesMatch(inv.Reference, tx.ReferenceNumber, tx.Description) {
				continue
			}
			edges = append(edges, edge{
				invoice: inv,
				tx:      tx,
				pass:    passExact,
				score:   Score{Amount: 1, Date: dateCloseness(inv.Date, tx.TransactionDate, cfg.DateWindowDays), Text: 1, Total: 1},
			})
		}
	}
	return edges
}

func fuzzyEdges(invoices []*models.Invoice, txs []*models.BankTransaction, bal *balances, cfg Config) []edge {
	var edges []edge
	for _, inv := range invoices {
		if !bal.invoiceOpen(inv.ID) {
			continue
		}
		for _, tx := range txs {
			if !bal.txOpen(tx.ID) {
				continue
			}
			s := computeScore(*inv, *tx, cfg)
			if s.Total < cfg.MinConfidence || s.Total <= 0 {
				continue
			}
			edges = append(edges, edge{invoice: inv, tx: tx, pass: passFuzzy, score: s})
		}
	}
	return edges
}

// assign commits edges highest score first. Ties go to the earlier
// transaction date, then the lower invoice id, then the lower transaction id.
func assign(edges []edge, bal *balances, cfg Config) []models.Match {
	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.score.Total != b.score.Total {
			return a.score.Total > b.score.Total
		}
		if !a.tx.TransactionDate.Equal(b.tx.TransactionDate) {
			return a.tx.TransactionDate.Before(b.tx.TransactionDate)
		}
		if c := bytes.Compare(a.invoice.ID[:], b.invoice.ID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.tx.ID[:], b.tx.ID[:]) < 0
	})

	var out []models.Match
	for _, e := range edges {
		invID, txID := e.invoice.ID, e.tx.ID
		if !bal.invoiceOpen(invID) || !bal.txOpen(txID) {
			continue
		}
		amount := decimal.Min(bal.inv[invID], bal.tx[txID])
		bal.inv[invID] = bal.inv[invID].Sub(amount)
		bal.tx[txID] = bal.tx[txID].Sub(amount)
		bal.invUsed[invID] = bal.invUsed[invID].Add(amount)
		bal.txUsed[txID] = bal.txUsed[txID].Add(amount)
		if !cfg.AllowSplit && bal.open(bal.tx[txID]) {
			bal.closed[txID] = true
		}
		out = append(out, e.toMatch(amount))
	}
	return out
}

func (e edge) toMatch(amount decimal.Decimal) models.Match {
	var reason string
	if e.pass == passExact {
		reason = fmt.Sprintf("exact: reference %q, amount %s", e.invoice.Reference, e.invoice.Amount.StringFixed(2))
	} else {
		reason = fmt.Sprintf("fuzzy: score %.2f (amount %.2f, date %.2f, text %.2f)",
			e.score.Total, e.score.Amount, e.score.Date, e.score.Text)
	}

	details := map[string]interface{}{
		"pass":                  e.pass,
		"invoice_reference":     e.invoice.Reference,
		"transaction_reference": e.tx.ReferenceNumber,
		"transaction_desc":      e.tx.Description,
		"amount_score":          e.score.Amount,
		"date_score":            e.score.Date,
		"text_score":            e.score.Text,
		"final_score":           e.score.Total,
		"allocated":             amount.StringFixed(2),
	}
	detailsJSON, _ := json.Marshal(details)

	return models.Match{
		InvoiceID:       e.invoice.ID,
		TransactionID:   e.tx.ID,
		AllocatedAmount: amount,
		Confidence:      e.score.Total,
		Source:          models.SourceAuto,
		Reason:          reason,
		Checksum:        Checksum(*e.invoice, *e.tx),
		ScoreDetails:    datatypes.JSON(detailsJSON),
		Active:          true,
	}
}

func sortedInvoices(in []models.Invoice) []*models.Invoice {
	out := make([]*models.Invoice, len(in))
	for i := range in {
		out[i] = &in[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

func sortedTransactions(in []models.BankTransaction) []*models.BankTransaction {
	out := make([]*models.BankTransaction, len(in))
	for i := range in {
		out[i] = &in[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.Before(out[j].TransactionDate)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}
