// Package override applies manual link, unlink and note changes made by
// reviewers. Every change is attributed to an actor and audited.
package override

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"invoice-reconciliation-backend/internal/apperror"
	"invoice-reconciliation-backend/internal/models"
	"invoice-reconciliation-backend/internal/repository"
	"invoice-reconciliation-backend/internal/services/allocation"
	"invoice-reconciliation-backend/internal/services/status"
)

// LinkRequest asks for a manual allocation. A nil Amount takes the largest
// amount the balances allow.
type LinkRequest struct {
	InvoiceID        uuid.UUID
	TransactionID    uuid.UUID
	Amount           *decimal.Decimal
	Reason           string
	AllowOverpayment bool
}

type Manager struct {
	store       *repository.Store
	maxAttempts int
	pairs       *keyedMutex
}

func NewManager(store *repository.Store, maxAttempts int) *Manager {
	return &Manager{
		store:       store,
		maxAttempts: maxAttempts,
		pairs:       newKeyedMutex(),
	}
}

// Link creates a MANUAL match between an invoice and a transaction.
func (m *Manager) Link(ctx context.Context, req LinkRequest, actor models.Actor) (*models.Match, error) {
	const op = "override.Link"
	if !actor.CanMutate() {
		return nil, apperror.Authorization(op, "role %q may not link matches", actor.Role)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, apperror.Validation(op, "reason is required")
	}

	unlock := m.pairs.Lock(pairKey(req.InvoiceID, req.TransactionID))
	defer unlock()

	var created models.Match
	_, err := allocation.WithRetry(ctx, op, m.maxAttempts, func(int) error {
		return m.store.Transaction(ctx, func(tx *repository.Store) error {
			inv, t, err := loadPair(ctx, tx, op, req.InvoiceID, req.TransactionID)
			if err != nil {
				return err
			}
			invRemaining, txRemaining, err := remaining(ctx, tx, inv, t)
			if err != nil {
				return err
			}

			amount, err := linkAmount(op, req, invRemaining, txRemaining)
			if err != nil {
				return err
			}

			out, err := allocation.Commit(ctx, tx, allocation.ChangeSet{
				Actor: actor,
				Create: []models.Match{{
					InvoiceID:          inv.ID,
					TransactionID:      t.ID,
					AllocatedAmount:    amount,
					Confidence:         1.0,
					Source:             models.SourceManual,
					Reason:             reason,
					OverpaymentAllowed: req.AllowOverpayment,
				}},
				Versions: map[uuid.UUID]int64{inv.ID: inv.Version, t.ID: t.Version},
			})
			if err != nil {
				return err
			}
			created = out.Created[0]
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("manual link %s: invoice %s <- transaction %s amount %s by %s",
		created.ID, created.InvoiceID, created.TransactionID, created.AllocatedAmount.StringFixed(2), actor.ID)
	return &created, nil
}

// linkAmount applies the balance rules for a manual link.
func linkAmount(op string, req LinkRequest, invRemaining, txRemaining decimal.Decimal) (decimal.Decimal, error) {
	if !txRemaining.IsPositive() {
		return decimal.Zero, apperror.Validation(op, "transaction has no remaining balance")
	}
	if !invRemaining.IsPositive() && !req.AllowOverpayment {
		return decimal.Zero, apperror.Validation(op, "invoice is already fully matched; allow overpayment to add more")
	}

	var amount decimal.Decimal
	switch {
	case req.Amount != nil:
		amount = *req.Amount
	case req.AllowOverpayment:
		amount = txRemaining
	default:
		amount = decimal.Min(invRemaining, txRemaining)
	}

	if !amount.IsPositive() {
		return decimal.Zero, apperror.Validation(op, "amount must be positive, got %s", amount.StringFixed(2))
	}
	if amount.GreaterThan(txRemaining) {
		return decimal.Zero, apperror.Validation(op, "amount %s exceeds transaction remaining balance %s",
			amount.StringFixed(2), txRemaining.StringFixed(2))
	}
	if amount.GreaterThan(invRemaining) && !req.AllowOverpayment {
		return decimal.Zero, apperror.Validation(op, "amount %s exceeds invoice remaining balance %s",
			amount.StringFixed(2), invRemaining.StringFixed(2))
	}
	return amount, nil
}

// Unlink deactivates one match. The allocation stays on record.
func (m *Manager) Unlink(ctx context.Context, matchID uuid.UUID, actor models.Actor, reason string) (*models.Match, error) {
	const op = "override.Unlink"
	if !actor.CanMutate() {
		return nil, apperror.Authorization(op, "role %q may not unlink matches", actor.Role)
	}

	existing, err := m.store.Matches.GetByID(ctx, matchID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound(op, "match %s not found", matchID)
	}
	if err != nil {
		return nil, fmt.Errorf("load match: %w", err)
	}

	unlock := m.pairs.Lock(pairKey(existing.InvoiceID, existing.TransactionID))
	defer unlock()

	var removed models.Match
	_, err = allocation.WithRetry(ctx, op, m.maxAttempts, func(int) error {
		return m.store.Transaction(ctx, func(tx *repository.Store) error {
			current, err := tx.Matches.GetByID(ctx, matchID)
			if err != nil {
				return fmt.Errorf("load match: %w", err)
			}
			if !current.Active {
				return apperror.Validation(op, "match %s is not active", matchID)
			}
			out, err := allocation.Commit(ctx, tx, allocation.ChangeSet{
				Actor: actor,
				Deactivate: []allocation.Deactivation{{
					MatchID: matchID,
					Action:  models.ActionMatchRemoved,
					Reason:  reason,
				}},
			})
			if err != nil {
				return err
			}
			removed = out.Deactivated[0]
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Printf("manual unlink %s: invoice %s, transaction %s by %s", removed.ID, removed.InvoiceID, removed.TransactionID, actor.ID)
	return &removed, nil
}

// UnlinkPair deactivates every active match between an invoice and a transaction.
func (m *Manager) UnlinkPair(ctx context.Context, invoiceID, transactionID uuid.UUID, actor models.Actor, reason string) ([]models.Match, error) {
	const op = "override.UnlinkPair"
	if !actor.CanMutate() {
		return nil, apperror.Authorization(op, "role %q may not unlink matches", actor.Role)
	}

	unlock := m.pairs.Lock(pairKey(invoiceID, transactionID))
	defer unlock()

	var removed []models.Match
	_, err := allocation.WithRetry(ctx, op, m.maxAttempts, func(int) error {
		return m.store.Transaction(ctx, func(tx *repository.Store) error {
			if _, _, err := loadPair(ctx, tx, op, invoiceID, transactionID); err != nil {
				return err
			}
			active, err := tx.Matches.ListActiveByPair(ctx, invoiceID, transactionID)
			if err != nil {
				return fmt.Errorf("load matches: %w", err)
			}
			if len(active) == 0 {
				return apperror.NotFound(op, "no active match between invoice %s and transaction %s", invoiceID, transactionID)
			}

			cs := allocation.ChangeSet{Actor: actor}
			for _, match := range active {
				cs.Deactivate = append(cs.Deactivate, allocation.Deactivation{
					MatchID: match.ID,
					Action:  models.ActionMatchRemoved,
					Reason:  reason,
				})
			}
			out, err := allocation.Commit(ctx, tx, cs)
			if err != nil {
				return err
			}
			removed = out.Deactivated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// UpdateInvoiceNotes replaces the reviewer notes on an invoice.
func (m *Manager) UpdateInvoiceNotes(ctx context.Context, invoiceID uuid.UUID, notes string, actor models.Actor) (*models.Invoice, error) {
	const op = "override.UpdateInvoiceNotes"
	if !actor.CanMutate() {
		return nil, apperror.Authorization(op, "role %q may not edit notes", actor.Role)
	}

	var updated *models.Invoice
	_, err := allocation.WithRetry(ctx, op, m.maxAttempts, func(int) error {
		return m.store.Transaction(ctx, func(tx *repository.Store) error {
			inv, err := tx.Invoices.GetByID(ctx, invoiceID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperror.NotFound(op, "invoice %s not found", invoiceID)
			}
			if err != nil {
				return fmt.Errorf("load invoice: %w", err)
			}

			before := inv.InternalNotes
			inv.InternalNotes = notes
			if err := tx.Invoices.UpdateNotes(ctx, inv); err != nil {
				return err
			}
			if err := tx.Audit.Append(ctx, &models.AuditEntry{
				ActorID:   actor.ID,
				ActorRole: actor.Role,
				Action:    models.ActionNotesUpdated,
				InvoiceID: &inv.ID,
				Detail:    fmt.Sprintf("notes changed from %q to %q", before, notes),
			}); err != nil {
				return fmt.Errorf("append audit entry: %w", err)
			}
			updated = inv
			return nil
		})
	})
	return updated, err
}

// loadPair locks the invoice and then the transaction row.
func loadPair(ctx context.Context, tx *repository.Store, op string, invoiceID, transactionID uuid.UUID) (*models.Invoice, *models.BankTransaction, error) {
	inv, err := tx.Invoices.LockByID(ctx, invoiceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, apperror.NotFound(op, "invoice %s not found", invoiceID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load invoice: %w", err)
	}
	t, err := tx.Transactions.LockByID(ctx, transactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, apperror.NotFound(op, "transaction %s not found", transactionID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load transaction: %w", err)
	}
	return inv, t, nil
}

// remaining recomputes both open balances from the active matches. Debits
// have nothing to give.
func remaining(ctx context.Context, tx *repository.Store, inv *models.Invoice, t *models.BankTransaction) (decimal.Decimal, decimal.Decimal, error) {
	invMatches, err := tx.Matches.ListActiveForInvoices(ctx, []uuid.UUID{inv.ID})
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("load invoice matches: %w", err)
	}
	txMatches, err := tx.Matches.ListActiveForTransactions(ctx, []uuid.UUID{t.ID})
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("load transaction matches: %w", err)
	}

	inv.MatchedAmount = status.ResolveInvoice(inv.Amount, invMatches).MatchedAmount
	t.MatchedAmount = status.ResolveTransaction(t.Amount, txMatches).MatchedAmount
	return inv.Remaining(), t.Remaining(), nil
}

func pairKey(invoiceID, transactionID uuid.UUID) string {
	return invoiceID.String() + "/" + transactionID.String()
}
