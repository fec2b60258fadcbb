package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"invoice-reconciliation-backend/internal/apperror"
	"invoice-reconciliation-backend/internal/models"
	"invoice-reconciliation-backend/internal/repository"
	"invoice-reconciliation-backend/internal/services/allocation"
)

// InvoiceRecord is a normalized ledger row. ExternalID is the upsert key.
type InvoiceRecord struct {
	ExternalID   string          `json:"externalId"`
	Reference    string          `json:"reference"`
	Description  string          `json:"description"`
	CustomerName string          `json:"customerName"`
	Amount       decimal.Decimal `json:"amount"`
	Date         string          `json:"date"`
}

// TransactionRecord is a normalized statement row. ExternalID is the upsert key.
type TransactionRecord struct {
	ExternalID  string          `json:"externalId"`
	Date        string          `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference"`
}

type IngestRequest struct {
	Invoices     []InvoiceRecord     `json:"invoices"`
	Transactions []TransactionRecord `json:"transactions"`
}

type IngestResult struct {
	InvoicesCreated     int `json:"invoicesCreated"`
	InvoicesUpdated     int `json:"invoicesUpdated"`
	TransactionsCreated int `json:"transactionsCreated"`
	TransactionsUpdated int `json:"transactionsUpdated"`
	Invalidated         int `json:"invalidated"`
}

const correctionReason = "amount corrected by ingestion"

// Ingest upserts records by external id. A correction that changes an amount
// invalidates the AUTO matches built on the old amount in the same commit;
// MANUAL matches stay and must still fit the new amount.
func (s *ReconciliationService) Ingest(ctx context.Context, req IngestRequest, actor models.Actor) (*IngestResult, error) {
	const op = "reconciliation.Ingest"
	if !actor.CanMutate() {
		return nil, apperror.Authorization(op, "role %q may not ingest records", actor.Role)
	}
	if len(req.Invoices) == 0 && len(req.Transactions) == 0 {
		return nil, apperror.Validation(op, "nothing to ingest")
	}

	invoices, err := parseInvoices(op, req.Invoices)
	if err != nil {
		return nil, err
	}
	txs, err := parseTransactions(op, req.Transactions)
	if err != nil {
		return nil, err
	}

	var result IngestResult
	_, err = allocation.WithRetry(ctx, op, s.maxAttempts, func(int) error {
		result = IngestResult{}
		return s.store.Transaction(ctx, func(tx *repository.Store) error {
			cs := allocation.ChangeSet{Actor: actor}

			for i := range invoices {
				changed, created, err := upsertInvoice(ctx, tx, &invoices[i])
				if err != nil {
					return err
				}
				switch {
				case created:
					result.InvoicesCreated++
				case changed != nil:
					result.InvoicesUpdated++
					if *changed {
						cs.TouchInvoices = append(cs.TouchInvoices, invoices[i].ID)
					}
				}
			}
			for i := range txs {
				changed, created, err := upsertTransaction(ctx, tx, &txs[i])
				if err != nil {
					return err
				}
				switch {
				case created:
					result.TransactionsCreated++
				case changed != nil:
					result.TransactionsUpdated++
					if *changed {
						cs.TouchTransactions = append(cs.TouchTransactions, txs[i].ID)
					}
				}
			}

			stale, err := staleAutoMatches(ctx, tx, cs.TouchInvoices, cs.TouchTransactions)
			if err != nil {
				return err
			}
			for _, m := range stale {
				cs.Deactivate = append(cs.Deactivate, allocation.Deactivation{
					MatchID: m.ID,
					Action:  models.ActionMatchInvalidated,
					Reason:  correctionReason,
				})
			}
			result.Invalidated = len(stale)

			cs.Audit = append(cs.Audit, models.AuditEntry{
				Action: models.ActionRecordsIngested,
				Detail: fmt.Sprintf("invoices created=%d updated=%d; transactions created=%d updated=%d; invalidated=%d",
					result.InvoicesCreated, result.InvoicesUpdated,
					result.TransactionsCreated, result.TransactionsUpdated, result.Invalidated),
			})

			_, err = allocation.Commit(ctx, tx, cs)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("ingested %d invoices, %d transactions (%d matches invalidated) by %s",
		len(invoices), len(txs), result.Invalidated, actor.ID)
	return &result, nil
}

// upsertInvoice creates or updates inv, filling in its ID and version. changed
// is nil when nothing differed, otherwise it reports whether the amount moved.
func upsertInvoice(ctx context.Context, tx *repository.Store, inv *models.Invoice) (changed *bool, created bool, err error) {
	existing, err := tx.Invoices.GetByExternalID(ctx, inv.ExternalID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		inv.ID = uuid.New()
		inv.Status = models.StatusUnmatched
		inv.MatchedAmount = decimal.Zero
		inv.Version = 1
		if err := tx.Invoices.Create(ctx, inv); err != nil {
			return nil, false, fmt.Errorf("create invoice %s: %w", inv.ExternalID, err)
		}
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load invoice %s: %w", inv.ExternalID, err)
	}

	inv.ID = existing.ID
	if existing.Reference == inv.Reference &&
		existing.Description == inv.Description &&
		existing.CustomerName == inv.CustomerName &&
		existing.Amount.Equal(inv.Amount) &&
		sameDay(existing.Date, inv.Date) {
		return nil, false, nil
	}

	amountMoved := !existing.Amount.Equal(inv.Amount)
	existing.Reference = inv.Reference
	existing.Description = inv.Description
	existing.CustomerName = inv.CustomerName
	existing.Amount = inv.Amount
	existing.Date = inv.Date
	if err := tx.Invoices.UpdateContent(ctx, existing); err != nil {
		return nil, false, err
	}
	return &amountMoved, false, nil
}

func upsertTransaction(ctx context.Context, tx *repository.Store, t *models.BankTransaction) (changed *bool, created bool, err error) {
	existing, err := tx.Transactions.GetByExternalID(ctx, t.ExternalID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		t.ID = uuid.New()
		t.Status = models.StatusUnmatched
		t.MatchedAmount = decimal.Zero
		t.Version = 1
		if err := tx.Transactions.Create(ctx, t); err != nil {
			return nil, false, fmt.Errorf("create transaction %s: %w", t.ExternalID, err)
		}
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load transaction %s: %w", t.ExternalID, err)
	}

	t.ID = existing.ID
	if existing.ReferenceNumber == t.ReferenceNumber &&
		existing.Description == t.Description &&
		existing.Amount.Equal(t.Amount) &&
		sameDay(existing.TransactionDate, t.TransactionDate) {
		return nil, false, nil
	}

	amountMoved := !existing.Amount.Equal(t.Amount)
	existing.ReferenceNumber = t.ReferenceNumber
	existing.Description = t.Description
	existing.Amount = t.Amount
	existing.TransactionDate = t.TransactionDate
	if err := tx.Transactions.UpdateContent(ctx, existing); err != nil {
		return nil, false, err
	}
	return &amountMoved, false, nil
}

func staleAutoMatches(ctx context.Context, tx *repository.Store, invoiceIDs, txIDs []uuid.UUID) ([]models.Match, error) {
	byInvoice, err := tx.Matches.ListActiveForInvoices(ctx, invoiceIDs)
	if err != nil {
		return nil, fmt.Errorf("load invoice matches: %w", err)
	}
	byTx, err := tx.Matches.ListActiveForTransactions(ctx, txIDs)
	if err != nil {
		return nil, fmt.Errorf("load transaction matches: %w", err)
	}
	var stale []models.Match
	for _, m := range mergeMatches(byInvoice, byTx) {
		if m.Source == models.SourceAuto {
			stale = append(stale, m)
		}
	}
	return stale, nil
}

func parseInvoices(op string, records []InvoiceRecord) ([]models.Invoice, error) {
	seen := make(map[string]bool, len(records))
	out := make([]models.Invoice, 0, len(records))
	for i, r := range records {
		ext := strings.TrimSpace(r.ExternalID)
		if ext == "" {
			return nil, apperror.Validation(op, "invoice %d: externalId is required", i)
		}
		if seen[ext] {
			return nil, apperror.Validation(op, "invoice %s appears twice", ext)
		}
		seen[ext] = true
		if !r.Amount.IsPositive() {
			return nil, apperror.Validation(op, "invoice %s: amount must be positive", ext)
		}
		date, err := parseDate(r.Date)
		if err != nil {
			return nil, apperror.Validation(op, "invoice %s: invalid date %q", ext, r.Date)
		}
		out = append(out, models.Invoice{
			ExternalID:   ext,
			Reference:    strings.TrimSpace(r.Reference),
			Description:  r.Description,
			CustomerName: r.CustomerName,
			Amount:       r.Amount,
			Date:         date,
		})
	}
	// Upserts run in external id order so overlapping ingests lock rows in
	// the same order.
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func parseTransactions(op string, records []TransactionRecord) ([]models.BankTransaction, error) {
	seen := make(map[string]bool, len(records))
	out := make([]models.BankTransaction, 0, len(records))
	for i, r := range records {
		ext := strings.TrimSpace(r.ExternalID)
		if ext == "" {
			return nil, apperror.Validation(op, "transaction %d: externalId is required", i)
		}
		if seen[ext] {
			return nil, apperror.Validation(op, "transaction %s appears twice", ext)
		}
		seen[ext] = true
		date, err := parseDate(r.Date)
		if err != nil {
			return nil, apperror.Validation(op, "transaction %s: invalid date %q", ext, r.Date)
		}
		out = append(out, models.BankTransaction{
			ExternalID:      ext,
			TransactionDate: date,
			Amount:          r.Amount,
			Description:     r.Description,
			ReferenceNumber: strings.TrimSpace(r.Reference),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
