package reconciliation

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-reconciliation-backend/internal/apperror"
	"invoice-reconciliation-backend/internal/models"
	"invoice-reconciliation-backend/internal/repository"
	"invoice-reconciliation-backend/internal/services/allocation"
	"invoice-reconciliation-backend/internal/services/matching"
	"invoice-reconciliation-backend/internal/services/override"
	tu "invoice-reconciliation-backend/internal/testutil"
)

func newService(t *testing.T) (*ReconciliationService, *override.Manager) {
	t.Helper()
	s := tu.NewStore(t)
	return NewReconciliationService(s, matching.DefaultConfig(), allocation.DefaultMaxAttempts),
		override.NewManager(s, allocation.DefaultMaxAttempts)
}

func TestRun_ExactMatch(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	inv := tu.Invoice(t, svc.store, "L-1", "INV-1", "100.00", tu.Day)
	tx := tu.Transaction(t, svc.store, "S-1", "INV-1", "", "100.00", tu.Day)

	res, err := svc.Run(ctx, tu.Editor, Scope{})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, res.Run.Status)
	assert.Equal(t, 1, res.Run.Attempts)
	require.Len(t, res.NewMatches, 1)
	m := res.NewMatches[0]
	assert.Equal(t, models.SourceAuto, m.Source)
	assert.Equal(t, 1.0, m.Confidence)
	require.NotNil(t, m.RunID)
	assert.Equal(t, res.Run.ID, *m.RunID)

	assert.Equal(t, models.StatusMatched, tu.ReloadInvoice(t, svc.store, inv.ID).Status)
	assert.Equal(t, models.StatusMatched, tu.ReloadTransaction(t, svc.store, tx.ID).Status)

	run, err := svc.GetRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.NewMatches)
	assert.NotNil(t, run.CompletedAt)

	assert.Equal(t, []models.AuditAction{models.ActionMatchCreated, models.ActionReconcileRun},
		tu.AuditActions(t, svc.store, res.Run.ID))
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	tu.Invoice(t, svc.store, "L-1", "INV-1", "100.00", tu.Day)
	tu.Invoice(t, svc.store, "L-2", "INV-2041", "250.00", tu.Day)
	tu.Transaction(t, svc.store, "S-1", "INV-1", "", "100.00", tu.Day)
	tu.Transaction(t, svc.store, "S-2", "", "ACME CORP PAYMENT INV2041", "250.00", tu.Day.AddDate(0, 0, 1))

	first, err := svc.Run(ctx, tu.Admin, Scope{})
	require.NoError(t, err)
	require.Len(t, first.NewMatches, 2)

	before, err := svc.Ledger(ctx)
	require.NoError(t, err)

	second, err := svc.Run(ctx, tu.Admin, Scope{})
	require.NoError(t, err)
	assert.Empty(t, second.NewMatches)
	assert.Empty(t, second.Invalidated)

	after, err := svc.Ledger(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, matchIDs(before.Matches), matchIDs(after.Matches))
	for i := range before.Invoices {
		assert.Equal(t, before.Invoices[i].Status, after.Invoices[i].Status)
		assert.Equal(t, before.Invoices[i].Version, after.Invoices[i].Version, "untouched rows keep their version")
	}
}

func TestRun_GivesUpOnPersistentConflict(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	inv := tu.Invoice(t, svc.store, "L-1", "INV-1", "100.00", tu.Day)
	tu.Transaction(t, svc.store, "S-1", "INV-1", "", "100.00", tu.Day)

	edits := 0
	svc.afterSnapshot = func(ctx context.Context) error {
		edits++
		cur := tu.ReloadInvoice(t, svc.store, inv.ID)
		cur.InternalNotes = fmt.Sprintf("edited concurrently %d", edits)
		return svc.store.Invoices.UpdateNotes(ctx, cur)
	}

	_, err := svc.Run(ctx, tu.Editor, Scope{})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindConflict), "err: %v", err)
	assert.ErrorIs(t, err, repository.ErrStaleVersion)
	assert.Equal(t, allocation.DefaultMaxAttempts, edits)

	var runs []models.ReconciliationRun
	require.NoError(t, svc.store.DB().Find(&runs).Error)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusConflict, runs[0].Status)
	assert.Equal(t, allocation.DefaultMaxAttempts, runs[0].Attempts)
	assert.Zero(t, runs[0].NewMatches)
	assert.NotNil(t, runs[0].CompletedAt)

	active, err := svc.store.Matches.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	var created int64
	require.NoError(t, svc.store.DB().Model(&models.AuditEntry{}).
		Where("action = ?", models.ActionMatchCreated).Count(&created).Error)
	assert.Zero(t, created)
	assert.Empty(t, tu.AuditActions(t, svc.store, runs[0].ID))

	got := tu.ReloadInvoice(t, svc.store, inv.ID)
	assert.Equal(t, models.StatusUnmatched, got.Status)
	assert.True(t, got.MatchedAmount.IsZero())
}

func TestRun_RecoversFromSingleConflict(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	inv := tu.Invoice(t, svc.store, "L-1", "INV-1", "100.00", tu.Day)
	tu.Transaction(t, svc.store, "S-1", "INV-1", "", "100.00", tu.Day)

	edits := 0
	svc.afterSnapshot = func(ctx context.Context) error {
		edits++
		if edits > 1 {
			return nil
		}
		cur := tu.ReloadInvoice(t, svc.store, inv.ID)
		cur.InternalNotes = "edited concurrently"
		return svc.store.Invoices.UpdateNotes(ctx, cur)
	}

	res, err := svc.Run(ctx, tu.Editor, Scope{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Run.Attempts)
	require.Len(t, res.NewMatches, 1)

	got := tu.ReloadInvoice(t, svc.store, inv.ID)
	assert.Equal(t, models.StatusMatched, got.Status)
	assert.Equal(t, "edited concurrently", got.InternalNotes)
}

func TestRun_ViewerRejected(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Run(context.Background(), tu.Viewer, Scope{})
	assert.True(t, apperror.Is(err, apperror.KindAuthorization))
}

func TestRun_Scoped(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	a := tu.Invoice(t, svc.store, "L-1", "INV-1", "100.00", tu.Day)
	tu.Invoice(t, svc.store, "L-2", "INV-2", "70.00", tu.Day)
	tu.Transaction(t, svc.store, "S-1", "INV-1", "", "100.00", tu.Day)
	tu.Transaction(t, svc.store, "S-2", "INV-2", "", "70.00", tu.Day)

	res, err := svc.Run(ctx, tu.Admin, Scope{InvoiceIDs: []uuid.UUID{a.ID}})
	require.NoError(t, err)
	require.Len(t, res.NewMatches, 1)
	assert.Equal(t, a.ID, res.NewMatches[0].InvoiceID)

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, sum.MatchedInvoicesCount)
}

func TestRun_LeavesManualMatchesAlone(t *testing.T) {
	ctx := context.Background()
	svc, overrides := newService(t)
	inv := tu.Invoice(t, svc.store, "L-1", "INV-1", "100.00", tu.Day)
	tx := tu.Transaction(t, svc.store, "S-1", "unrelated", "", "100.00", tu.Day.AddDate(0, 0, 30))

	manual, err := overrides.Link(ctx, override.LinkRequest{InvoiceID: inv.ID, TransactionID: tx.ID, Reason: "confirmed by phone"}, tu.Editor)
	require.NoError(t, err)

	res, err := svc.Run(ctx, tu.Admin, Scope{})
	require.NoError(t, err)
	assert.Empty(t, res.NewMatches)
	assert.Empty(t, res.Invalidated)

	active, err := svc.store.Matches.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, manual.ID, active[0].ID)
}

func TestIngest_CreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	req := IngestRequest{
		Invoices: []InvoiceRecord{{ExternalID: "L-1", Reference: "INV-1", Amount: tu.Dec("100"), Date: "2025-03-10"}},
		Transactions: []TransactionRecord{
			{ExternalID: "S-1", Reference: "INV-1", Amount: tu.Dec("100"), Date: "2025-03-10T15:04:05Z"},
		},
	}
	res, err := svc.Ingest(ctx, req, tu.Editor)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{InvoicesCreated: 1, TransactionsCreated: 1}, *res)

	res, err = svc.Ingest(ctx, req, tu.Editor)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{}, *res, "identical records change nothing")

	req.Invoices[0].CustomerName = "Acme"
	res, err = svc.Ingest(ctx, req, tu.Editor)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InvoicesUpdated)

	inv, err := svc.store.Invoices.GetByExternalID(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", inv.CustomerName)
	assert.Equal(t, int64(2), inv.Version)
}

func TestIngest_AmountCorrectionInvalidatesAutoMatch(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	inv := tu.Invoice(t, svc.store, "L-1", "INV-1", "100.00", tu.Day)
	tx := tu.Transaction(t, svc.store, "S-1", "INV-1", "", "100.00", tu.Day)

	run, err := svc.Run(ctx, tu.Admin, Scope{})
	require.NoError(t, err)
	require.Len(t, run.NewMatches, 1)

	res, err := svc.Ingest(ctx, IngestRequest{
		Invoices: []InvoiceRecord{{ExternalID: "L-1", Reference: "INV-1", Amount: tu.Dec("90"), Date: "2025-03-10"}},
	}, tu.Editor)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InvoicesUpdated)
	assert.Equal(t, 1, res.Invalidated)

	gotInv := tu.ReloadInvoice(t, svc.store, inv.ID)
	assert.Equal(t, models.StatusUnmatched, gotInv.Status)
	assert.True(t, gotInv.Amount.Equal(tu.Dec("90")))
	assert.Equal(t, models.StatusUnmatched, tu.ReloadTransaction(t, svc.store, tx.ID).Status)

	assert.Contains(t, tu.AuditActions(t, svc.store, run.NewMatches[0].ID), models.ActionMatchInvalidated)
}

func TestIngest_CorrectionCannotOverallocateManualMatch(t *testing.T) {
	ctx := context.Background()
	svc, overrides := newService(t)
	inv := tu.Invoice(t, svc.store, "L-1", "INV-1", "100.00", tu.Day)
	tx := tu.Transaction(t, svc.store, "S-1", "", "", "100.00", tu.Day)
	_, err := overrides.Link(ctx, override.LinkRequest{InvoiceID: inv.ID, TransactionID: tx.ID, Reason: "ok"}, tu.Editor)
	require.NoError(t, err)

	_, err = svc.Ingest(ctx, IngestRequest{
		Invoices: []InvoiceRecord{{ExternalID: "L-1", Reference: "INV-1", Amount: tu.Dec("80"), Date: "2025-03-10"}},
	}, tu.Editor)
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	got := tu.ReloadInvoice(t, svc.store, inv.ID)
	assert.True(t, got.Amount.Equal(tu.Dec("100")), "rejected ingest rolls back")
}

func TestIngest_Rejections(t *testing.T) {
	svc, _ := newService(t)
	tests := []struct {
		name  string
		req   IngestRequest
		actor models.Actor
		kind  apperror.Kind
	}{
		{"viewer", IngestRequest{Invoices: []InvoiceRecord{{ExternalID: "L-1", Amount: tu.Dec("1"), Date: "2025-03-10"}}}, tu.Viewer, apperror.KindAuthorization},
		{"empty", IngestRequest{}, tu.Editor, apperror.KindValidation},
		{"missing id", IngestRequest{Invoices: []InvoiceRecord{{Amount: tu.Dec("1"), Date: "2025-03-10"}}}, tu.Editor, apperror.KindValidation},
		{"zero amount", IngestRequest{Invoices: []InvoiceRecord{{ExternalID: "L-1", Date: "2025-03-10"}}}, tu.Editor, apperror.KindValidation},
		{"bad date", IngestRequest{Transactions: []TransactionRecord{{ExternalID: "S-1", Amount: tu.Dec("1"), Date: "10/03/2025"}}}, tu.Editor, apperror.KindValidation},
		{"duplicate", IngestRequest{Transactions: []TransactionRecord{
			{ExternalID: "S-1", Amount: tu.Dec("1"), Date: "2025-03-10"},
			{ExternalID: "S-1", Amount: tu.Dec("2"), Date: "2025-03-10"},
		}}, tu.Editor, apperror.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(context.Background(), tt.req, tt.actor)
			assert.Equal(t, tt.kind, apperror.KindOf(err), "err: %v", err)
		})
	}
}

func TestParseRecords_OrderedByExternalID(t *testing.T) {
	invoices, err := parseInvoices("test", []InvoiceRecord{
		{ExternalID: "L-3", Amount: tu.Dec("1"), Date: "2025-03-10"},
		{ExternalID: "L-1", Amount: tu.Dec("1"), Date: "2025-03-10"},
		{ExternalID: " L-2 ", Amount: tu.Dec("1"), Date: "2025-03-10"},
	})
	require.NoError(t, err)
	var got []string
	for _, inv := range invoices {
		got = append(got, inv.ExternalID)
	}
	assert.Equal(t, []string{"L-1", "L-2", "L-3"}, got)

	txs, err := parseTransactions("test", []TransactionRecord{
		{ExternalID: "S-2", Amount: tu.Dec("1"), Date: "2025-03-10"},
		{ExternalID: "S-1", Amount: tu.Dec("1"), Date: "2025-03-10"},
	})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "S-1", txs[0].ExternalID)
	assert.Equal(t, "S-2", txs[1].ExternalID)
}

func TestInvoiceMatches(t *testing.T) {
	ctx := context.Background()
	svc, overrides := newService(t)
	inv := tu.Invoice(t, svc.store, "L-1", "INV-1", "100.00", tu.Day)
	tx := tu.Transaction(t, svc.store, "S-1", "", "", "100.00", tu.Day)

	m, err := overrides.Link(ctx, override.LinkRequest{InvoiceID: inv.ID, TransactionID: tx.ID, Reason: "ok"}, tu.Editor)
	require.NoError(t, err)
	_, err = overrides.Unlink(ctx, m.ID, tu.Editor, "undo")
	require.NoError(t, err)

	history, err := svc.InvoiceMatches(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Active)

	_, err = svc.InvoiceMatches(ctx, uuid.New())
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	_, err = svc.GetRun(ctx, uuid.New())
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestListInvoices_Filters(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	tu.Invoice(t, svc.store, "L-1", "INV-1", "100.00", tu.Day)
	tu.Invoice(t, svc.store, "L-2", "ACME-7", "50.00", tu.Day)
	tu.Transaction(t, svc.store, "S-1", "INV-1", "", "100.00", tu.Day)
	_, err := svc.Run(ctx, tu.Admin, Scope{})
	require.NoError(t, err)

	got, err := svc.ListInvoices(ctx, "acme", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "L-2", got[0].ExternalID)

	got, err = svc.ListInvoices(ctx, "", []string{string(models.StatusMatched)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "L-1", got[0].ExternalID)

	txs, err := svc.ListTransactions(ctx, "", []string{string(models.StatusUnmatched)})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func matchIDs(matches []models.Match) []uuid.UUID {
	ids := make([]uuid.UUID, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return ids
}
