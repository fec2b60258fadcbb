// Package allocation is the one write path for match state. Reconciliation
// runs, manual overrides and ingest corrections all build a ChangeSet and
// hand it to Commit inside a store transaction.
package allocation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"invoice-reconciliation-backend/internal/apperror"
	"invoice-reconciliation-backend/internal/models"
	"invoice-reconciliation-backend/internal/repository"
	"invoice-reconciliation-backend/internal/services/status"
)

// Deactivation switches off one active match.
type Deactivation struct {
	MatchID uuid.UUID
	// Action is MATCH_REMOVED for unlinks and MATCH_INVALIDATED for stale AUTO matches.
	Action models.AuditAction
	Reason string
}

// ChangeSet describes one atomic mutation.
type ChangeSet struct {
	Actor      models.Actor
	RunID      *uuid.UUID
	Deactivate []Deactivation
	Create     []models.Match

	// TouchInvoices and TouchTransactions are re-resolved even when no match
	// of theirs changes, e.g. after an amount correction.
	TouchInvoices     []uuid.UUID
	TouchTransactions []uuid.UUID

	// Versions holds the version each entity had when the caller read it.
	// Entities listed here abort the commit with ErrStaleVersion if they moved.
	Versions map[uuid.UUID]int64

	// Audit is appended after the match entries.
	Audit []models.AuditEntry
}

// Outcome is the committed state of everything the change set touched.
type Outcome struct {
	Created      []models.Match
	Deactivated  []models.Match
	Invoices     map[uuid.UUID]*models.Invoice
	Transactions map[uuid.UUID]*models.BankTransaction
}

// Commit applies cs through tx. It must run inside Store.Transaction; any
// error leaves the caller to roll back.
func Commit(ctx context.Context, tx *repository.Store, cs ChangeSet) (*Outcome, error) {
	const op = "allocation.Commit"

	if !cs.Actor.CanMutate() {
		return nil, apperror.Authorization(op, "role %q may not change match state", cs.Actor.Role)
	}

	now := time.Now().UTC()
	out := &Outcome{
		Invoices:     make(map[uuid.UUID]*models.Invoice),
		Transactions: make(map[uuid.UUID]*models.BankTransaction),
	}
	invIDs := newIDSet(cs.TouchInvoices)
	txIDs := newIDSet(cs.TouchTransactions)
	var entries []models.AuditEntry

	for _, d := range cs.Deactivate {
		m, err := tx.Matches.GetByID(ctx, d.MatchID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound(op, "match %s not found", d.MatchID)
		}
		if err != nil {
			return nil, fmt.Errorf("load match %s: %w", d.MatchID, err)
		}
		if err := tx.Matches.Deactivate(ctx, m.ID, cs.Actor.ID, now); err != nil {
			return nil, err
		}
		m.Active = false
		m.DeactivatedAt = &now
		m.DeactivatedBy = cs.Actor.ID
		out.Deactivated = append(out.Deactivated, *m)
		invIDs.add(m.InvoiceID)
		txIDs.add(m.TransactionID)

		entries = append(entries, models.AuditEntry{
			Action:        d.Action,
			InvoiceID:     ptr(m.InvoiceID),
			TransactionID: ptr(m.TransactionID),
			MatchID:       ptr(m.ID),
			RunID:         cs.RunID,
			BeforeAmount:  decimal.NewNullDecimal(m.AllocatedAmount),
			Reason:        d.Reason,
		})
	}

	for _, m := range cs.Create {
		if !m.AllocatedAmount.IsPositive() {
			return nil, apperror.Validation(op, "allocated amount must be positive, got %s", m.AllocatedAmount.StringFixed(2))
		}
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.Source == models.SourceAuto && m.RunID == nil {
			m.RunID = cs.RunID
		}
		m.Active = true
		m.CreatedBy = cs.Actor.ID
		m.CreatedAt = now
		if err := tx.Matches.Create(ctx, &m); err != nil {
			return nil, fmt.Errorf("create match: %w", err)
		}
		out.Created = append(out.Created, m)
		invIDs.add(m.InvoiceID)
		txIDs.add(m.TransactionID)

		entries = append(entries, models.AuditEntry{
			Action:        models.ActionMatchCreated,
			InvoiceID:     ptr(m.InvoiceID),
			TransactionID: ptr(m.TransactionID),
			MatchID:       ptr(m.ID),
			RunID:         m.RunID,
			AfterAmount:   decimal.NewNullDecimal(m.AllocatedAmount),
			Reason:        m.Reason,
			Detail:        fmt.Sprintf("source=%s confidence=%.4f", m.Source, m.Confidence),
		})
	}

	if err := resolveInvoices(ctx, tx, invIDs.sorted(), cs.Versions, out); err != nil {
		return nil, err
	}
	if err := resolveTransactions(ctx, tx, txIDs.sorted(), cs.Versions, out); err != nil {
		return nil, err
	}

	entries = append(entries, cs.Audit...)
	for i := range entries {
		e := entries[i]
		if e.ActorID == "" {
			e.ActorID = cs.Actor.ID
			e.ActorRole = cs.Actor.Role
		}
		e.CreatedAt = now
		if err := tx.Audit.Append(ctx, &e); err != nil {
			return nil, fmt.Errorf("append audit entry: %w", err)
		}
	}

	return out, nil
}

func resolveInvoices(ctx context.Context, tx *repository.Store, ids []uuid.UUID, versions map[uuid.UUID]int64, out *Outcome) error {
	const op = "allocation.resolveInvoices"
	if len(ids) == 0 {
		return nil
	}
	invoices, err := tx.Invoices.GetByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load invoices: %w", err)
	}
	if len(invoices) != len(ids) {
		return apperror.NotFound(op, "%d of %d invoices not found", len(ids)-len(invoices), len(ids))
	}
	active, err := tx.Matches.ListActiveForInvoices(ctx, ids)
	if err != nil {
		return fmt.Errorf("load invoice matches: %w", err)
	}
	byInvoice := make(map[uuid.UUID][]models.Match)
	for _, m := range active {
		byInvoice[m.InvoiceID] = append(byInvoice[m.InvoiceID], m)
	}

	for i := range invoices {
		inv := &invoices[i]
		if v, ok := versions[inv.ID]; ok && v != inv.Version {
			return repository.ErrStaleVersion
		}
		matches := byInvoice[inv.ID]
		r := status.ResolveInvoice(inv.Amount, matches)
		if r.MatchedAmount.GreaterThan(inv.Amount) && !overpaymentAllowed(matches) {
			return apperror.Validation(op, "invoice %s would be allocated %s of %s without an overpayment flag",
				inv.ExternalID, r.MatchedAmount.StringFixed(2), inv.Amount.StringFixed(2))
		}
		inv.MatchedAmount = r.MatchedAmount
		inv.Status = r.Status
		inv.Confidence = r.Confidence
		if err := tx.Invoices.UpdateDerived(ctx, inv); err != nil {
			return err
		}
		out.Invoices[inv.ID] = inv
	}
	return nil
}

func resolveTransactions(ctx context.Context, tx *repository.Store, ids []uuid.UUID, versions map[uuid.UUID]int64, out *Outcome) error {
	const op = "allocation.resolveTransactions"
	if len(ids) == 0 {
		return nil
	}
	txs, err := tx.Transactions.GetByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}
	if len(txs) != len(ids) {
		return apperror.NotFound(op, "%d of %d transactions not found", len(ids)-len(txs), len(ids))
	}
	active, err := tx.Matches.ListActiveForTransactions(ctx, ids)
	if err != nil {
		return fmt.Errorf("load transaction matches: %w", err)
	}
	byTx := make(map[uuid.UUID][]models.Match)
	for _, m := range active {
		byTx[m.TransactionID] = append(byTx[m.TransactionID], m)
	}

	for i := range txs {
		t := &txs[i]
		if v, ok := versions[t.ID]; ok && v != t.Version {
			return repository.ErrStaleVersion
		}
		r := status.ResolveTransaction(t.Amount, byTx[t.ID])
		if r.MatchedAmount.IsPositive() && r.MatchedAmount.GreaterThan(t.Amount) {
			return apperror.Validation(op, "transaction %s would be allocated %s of %s",
				t.ExternalID, r.MatchedAmount.StringFixed(2), t.Amount.StringFixed(2))
		}
		t.MatchedAmount = r.MatchedAmount
		t.Status = r.Status
		t.Confidence = r.Confidence
		if err := tx.Transactions.UpdateDerived(ctx, t); err != nil {
			return err
		}
		out.Transactions[t.ID] = t
	}
	return nil
}

func overpaymentAllowed(matches []models.Match) bool {
	for _, m := range matches {
		if m.Active && m.OverpaymentAllowed {
			return true
		}
	}
	return false
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }

type idSet map[uuid.UUID]struct{}

func newIDSet(ids []uuid.UUID) idSet {
	s := make(idSet, len(ids))
	for _, id := range ids {
		s.add(id)
	}
	return s
}

func (s idSet) add(id uuid.UUID) { s[id] = struct{}{} }

// sorted keeps row update order stable across commits.
func (s idSet) sorted() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
