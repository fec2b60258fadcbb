package reconciliation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"invoice-reconciliation-backend/internal/apperror"
	"invoice-reconciliation-backend/internal/models"
	"invoice-reconciliation-backend/internal/repository"
	"invoice-reconciliation-backend/internal/services/allocation"
	"invoice-reconciliation-backend/internal/services/matching"
	"invoice-reconciliation-backend/internal/services/summary"
)

var tracer = otel.Tracer("reconciliation")

type ReconciliationService struct {
	store       *repository.Store
	matching    matching.Config
	maxAttempts int

	// afterSnapshot, when set, runs between the snapshot and the commit of
	// every attempt.
	afterSnapshot func(ctx context.Context) error
}

func NewReconciliationService(store *repository.Store, cfg matching.Config, maxAttempts int) *ReconciliationService {
	return &ReconciliationService{
		store:       store,
		matching:    cfg,
		maxAttempts: maxAttempts,
	}
}

// Scope limits a run to the listed invoices and transactions. An empty
// side means all records on that side.
type Scope struct {
	InvoiceIDs     []uuid.UUID `json:"invoiceIds"`
	TransactionIDs []uuid.UUID `json:"transactionIds"`
}

// RunResult is what one run committed.
type RunResult struct {
	Run         models.ReconciliationRun `json:"run"`
	NewMatches  []models.Match           `json:"newMatches"`
	Invalidated []models.Match           `json:"invalidated"`
}

// Ledger is a consistent view of every record and active match.
type Ledger struct {
	Invoices     []models.Invoice
	Transactions []models.BankTransaction
	Matches      []models.Match
}

// Run executes the matching engine over a snapshot and commits its output
// atomically, replaying the whole read-match-commit cycle on version conflicts.
func (s *ReconciliationService) Run(ctx context.Context, actor models.Actor, scope Scope) (*RunResult, error) {
	const op = "reconciliation.Run"
	if !actor.CanMutate() {
		return nil, apperror.Authorization(op, "role %q may not run reconciliation", actor.Role)
	}

	ctx, span := tracer.Start(ctx, "Run", trace.WithAttributes(
		attribute.String("actor", actor.ID),
		attribute.Int("scope.invoices", len(scope.InvoiceIDs)),
		attribute.Int("scope.transactions", len(scope.TransactionIDs)),
	))
	defer span.End()

	now := time.Now().UTC()
	run := models.ReconciliationRun{
		ID:        uuid.New(),
		StartedBy: actor.ID,
		Status:    models.RunStatusRunning,
		StartedAt: now,
		CreatedAt: now,
	}
	if err := s.store.Runs.Create(ctx, &run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	span.SetAttributes(attribute.String("run.id", run.ID.String()))

	var result RunResult
	attempts, err := allocation.WithRetry(ctx, op, s.maxAttempts, func(attempt int) error {
		span.AddEvent("attempt", trace.WithAttributes(attribute.Int("n", attempt)))
		r, err := s.runOnce(ctx, actor, scope, run.ID)
		if err != nil {
			return err
		}
		result = *r
		return nil
	})

	completed := time.Now().UTC()
	run.Attempts = attempts
	run.CompletedAt = &completed
	switch {
	case err == nil:
		run.Status = models.RunStatusCompleted
		run.NewMatches = len(result.NewMatches)
		run.Invalidated = len(result.Invalidated)
		run.UnmatchedInvoices = result.Run.UnmatchedInvoices
		run.UnmatchedTransactions = result.Run.UnmatchedTransactions
	case apperror.Is(err, apperror.KindConflict):
		run.Status = models.RunStatusConflict
	default:
		run.Status = models.RunStatusFailed
	}
	if ferr := s.store.Runs.Finish(context.WithoutCancel(ctx), &run); ferr != nil {
		log.Printf("run %s: recording outcome: %v", run.ID, ferr)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("run %s failed after %d attempt(s): %v", run.ID, attempts, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("matches.new", run.NewMatches),
		attribute.Int("matches.invalidated", run.Invalidated),
	)
	log.Printf("run %s completed: %d new, %d invalidated, %d/%d unmatched invoices/transactions",
		run.ID, run.NewMatches, run.Invalidated, run.UnmatchedInvoices, run.UnmatchedTransactions)

	result.Run = run
	return &result, nil
}

func (s *ReconciliationService) runOnce(ctx context.Context, actor models.Actor, scope Scope, runID uuid.UUID) (*RunResult, error) {
	in, err := s.snapshot(ctx, scope)
	if err != nil {
		return nil, err
	}
	if s.afterSnapshot != nil {
		if err := s.afterSnapshot(ctx); err != nil {
			return nil, err
		}
	}

	_, span := tracer.Start(ctx, "Reconcile")
	res := matching.Reconcile(*in, s.matching)
	span.SetAttributes(
		attribute.Int("candidates.invoices", len(in.Invoices)),
		attribute.Int("candidates.transactions", len(in.Transactions)),
	)
	span.End()

	versions := make(map[uuid.UUID]int64)
	invVersion := make(map[uuid.UUID]int64, len(in.Invoices))
	for _, inv := range in.Invoices {
		invVersion[inv.ID] = inv.Version
	}
	txVersion := make(map[uuid.UUID]int64, len(in.Transactions))
	for _, t := range in.Transactions {
		txVersion[t.ID] = t.Version
	}
	pin := func(m models.Match) {
		if v, ok := invVersion[m.InvoiceID]; ok {
			versions[m.InvoiceID] = v
		}
		if v, ok := txVersion[m.TransactionID]; ok {
			versions[m.TransactionID] = v
		}
	}

	cs := allocation.ChangeSet{Actor: actor, RunID: &runID, Versions: versions}
	for _, inv := range res.Invalidated {
		pin(inv.Match)
		cs.Deactivate = append(cs.Deactivate, allocation.Deactivation{
			MatchID: inv.Match.ID,
			Action:  models.ActionMatchInvalidated,
			Reason:  inv.Reason,
		})
	}
	for _, m := range res.NewMatches {
		pin(m)
		cs.Create = append(cs.Create, m)
	}
	cs.Audit = append(cs.Audit, models.AuditEntry{
		Action: models.ActionReconcileRun,
		RunID:  &runID,
		Detail: fmt.Sprintf("new=%d invalidated=%d unmatched_invoices=%d unmatched_transactions=%d",
			len(res.NewMatches), len(res.Invalidated), len(res.UnmatchedInvoiceIDs), len(res.UnmatchedTransactionIDs)),
	})

	commitCtx, commitSpan := tracer.Start(ctx, "Commit")
	defer commitSpan.End()

	var out *allocation.Outcome
	err = s.store.Transaction(commitCtx, func(tx *repository.Store) error {
		var err error
		out, err = allocation.Commit(commitCtx, tx, cs)
		return err
	})
	if err != nil {
		commitSpan.RecordError(err)
		return nil, err
	}

	return &RunResult{
		Run: models.ReconciliationRun{
			UnmatchedInvoices:     len(res.UnmatchedInvoiceIDs),
			UnmatchedTransactions: len(res.UnmatchedTransactionIDs),
		},
		NewMatches:  out.Created,
		Invalidated: out.Deactivated,
	}, nil
}

// snapshot loads the run's candidates and every active match touching them.
func (s *ReconciliationService) snapshot(ctx context.Context, scope Scope) (*matching.Input, error) {
	ctx, span := tracer.Start(ctx, "Snapshot")
	defer span.End()

	in := &matching.Input{}
	err := s.store.Snapshot(ctx, func(tx *repository.Store) error {
		var err error
		if len(scope.InvoiceIDs) > 0 {
			in.Invoices, err = tx.Invoices.GetByIDs(ctx, scope.InvoiceIDs)
		} else {
			in.Invoices, err = tx.Invoices.GetAll(ctx)
		}
		if err != nil {
			return fmt.Errorf("load invoices: %w", err)
		}

		if len(scope.TransactionIDs) > 0 {
			in.Transactions, err = tx.Transactions.GetByIDs(ctx, scope.TransactionIDs)
		} else {
			in.Transactions, err = tx.Transactions.GetAll(ctx)
		}
		if err != nil {
			return fmt.Errorf("load transactions: %w", err)
		}

		if len(scope.InvoiceIDs) == 0 && len(scope.TransactionIDs) == 0 {
			in.ActiveMatches, err = tx.Matches.ListActive(ctx)
			if err != nil {
				return fmt.Errorf("load matches: %w", err)
			}
			return nil
		}

		byInvoice, err := tx.Matches.ListActiveForInvoices(ctx, invoiceIDs(in.Invoices))
		if err != nil {
			return fmt.Errorf("load invoice matches: %w", err)
		}
		byTx, err := tx.Matches.ListActiveForTransactions(ctx, transactionIDs(in.Transactions))
		if err != nil {
			return fmt.Errorf("load transaction matches: %w", err)
		}
		in.ActiveMatches = mergeMatches(byInvoice, byTx)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return in, nil
}

// Ledger reads invoices, transactions and active matches from one snapshot.
func (s *ReconciliationService) Ledger(ctx context.Context) (*Ledger, error) {
	l := &Ledger{}
	err := s.store.Snapshot(ctx, func(tx *repository.Store) error {
		var err error
		if l.Invoices, err = tx.Invoices.GetAll(ctx); err != nil {
			return fmt.Errorf("load invoices: %w", err)
		}
		if l.Transactions, err = tx.Transactions.GetAll(ctx); err != nil {
			return fmt.Errorf("load transactions: %w", err)
		}
		if l.Matches, err = tx.Matches.ListActive(ctx); err != nil {
			return fmt.Errorf("load matches: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Summary recomputes dashboard totals on every call.
func (s *ReconciliationService) Summary(ctx context.Context) (summary.DashboardSummary, error) {
	l, err := s.Ledger(ctx)
	if err != nil {
		return summary.DashboardSummary{}, err
	}
	return summary.Compute(l.Invoices, l.Transactions, l.Matches), nil
}

func (s *ReconciliationService) ListInvoices(ctx context.Context, search string, statuses []string) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := s.store.Snapshot(ctx, func(tx *repository.Store) error {
		var err error
		invoices, err = tx.Invoices.SearchInvoices(ctx, search, statuses)
		return err
	})
	return invoices, err
}

func (s *ReconciliationService) ListTransactions(ctx context.Context, search string, statuses []string) ([]models.BankTransaction, error) {
	var txs []models.BankTransaction
	err := s.store.Snapshot(ctx, func(tx *repository.Store) error {
		var err error
		txs, err = tx.Transactions.SearchTransactions(ctx, search, statuses)
		return err
	})
	return txs, err
}

// InvoiceMatches returns the full match history of one invoice.
func (s *ReconciliationService) InvoiceMatches(ctx context.Context, invoiceID uuid.UUID) ([]models.Match, error) {
	const op = "reconciliation.InvoiceMatches"
	if _, err := s.store.Invoices.GetByID(ctx, invoiceID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound(op, "invoice %s not found", invoiceID)
		}
		return nil, err
	}
	return s.store.Matches.History(ctx, invoiceID)
}

func (s *ReconciliationService) GetRun(ctx context.Context, id uuid.UUID) (*models.ReconciliationRun, error) {
	const op = "reconciliation.GetRun"
	run, err := s.store.Runs.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound(op, "run %s not found", id)
	}
	return run, err
}

func invoiceIDs(invoices []models.Invoice) []uuid.UUID {
	ids := make([]uuid.UUID, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.ID
	}
	return ids
}

func transactionIDs(txs []models.BankTransaction) []uuid.UUID {
	ids := make([]uuid.UUID, len(txs))
	for i, t := range txs {
		ids[i] = t.ID
	}
	return ids
}

func mergeMatches(lists ...[]models.Match) []models.Match {
	seen := make(map[uuid.UUID]bool)
	var out []models.Match
	for _, list := range lists {
		for _, m := range list {
			if !seen[m.ID] {
				seen[m.ID] = true
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out
}
