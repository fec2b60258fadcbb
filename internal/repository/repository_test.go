package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-reconciliation-backend/internal/models"
	"invoice-reconciliation-backend/internal/repository"
	tu "invoice-reconciliation-backend/internal/testutil"
)

func TestUpdateDerived_OptimisticVersion(t *testing.T) {
	ctx := context.Background()
	s := tu.NewStore(t)
	inv := tu.Invoice(t, s, "L-1", "INV-1", "100.00", tu.Day)

	stale := inv
	inv.Status = models.StatusPartiallyMatched
	inv.MatchedAmount = tu.Dec("10")
	require.NoError(t, s.Invoices.UpdateDerived(ctx, &inv))
	assert.Equal(t, int64(2), inv.Version)

	stale.InternalNotes = "late writer"
	err := s.Invoices.UpdateNotes(ctx, &stale)
	assert.True(t, errors.Is(err, repository.ErrStaleVersion))
	assert.Equal(t, int64(1), stale.Version, "version is left alone on conflict")

	got := tu.ReloadInvoice(t, s, inv.ID)
	assert.Equal(t, models.StatusPartiallyMatched, got.Status)
	assert.Empty(t, got.InternalNotes)
}

func TestTransaction_RollsBack(t *testing.T) {
	ctx := context.Background()
	s := tu.NewStore(t)
	boom := errors.New("boom")

	err := s.Transaction(ctx, func(tx *repository.Store) error {
		inv := models.Invoice{ID: uuid.New(), ExternalID: "L-9", Amount: tu.Dec("5"), Date: tu.Day, Version: 1}
		require.NoError(t, tx.Invoices.Create(ctx, &inv))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	all, err := s.Invoices.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := tu.NewStore(t)
	tu.Invoice(t, s, "L-1", "INV-1", "100.00", tu.Day)
	tu.Invoice(t, s, "L-2", "ACME-2", "50.00", tu.Day.AddDate(0, 0, -1))
	tu.Transaction(t, s, "S-1", "REF-77", "Wire from Globex", "10.00", tu.Day)

	got, err := s.Invoices.SearchInvoices(ctx, "acme", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "L-2", got[0].ExternalID)

	all, err := s.Invoices.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "L-2", all[0].ExternalID, "oldest first")

	txs, err := s.Transactions.SearchTransactions(ctx, "globex", []string{string(models.StatusUnmatched)})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestMatchDeactivate_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := tu.NewStore(t)
	inv := tu.Invoice(t, s, "L-1", "INV-1", "100.00", tu.Day)
	tx := tu.Transaction(t, s, "S-1", "", "", "100.00", tu.Day)

	m := models.Match{
		ID: uuid.New(), InvoiceID: inv.ID, TransactionID: tx.ID, AllocatedAmount: tu.Dec("100"),
		Source: models.SourceManual, Active: true, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Matches.Create(ctx, &m))

	require.NoError(t, s.Matches.Deactivate(ctx, m.ID, "editor", time.Now().UTC()))
	assert.True(t, errors.Is(s.Matches.Deactivate(ctx, m.ID, "editor", time.Now().UTC()), repository.ErrStaleVersion))

	active, err := s.Matches.ListActiveByPair(ctx, inv.ID, tx.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := s.Matches.History(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "editor", history[0].DeactivatedBy)
}

func TestAuditEntries_AreImmutable(t *testing.T) {
	ctx := context.Background()
	s := tu.NewStore(t)
	e := models.AuditEntry{ActorID: "a", Action: models.ActionNotesUpdated}
	require.NoError(t, s.Audit.Append(ctx, &e))

	err := s.DB().Model(&e).Update("reason", "rewritten").Error
	assert.ErrorIs(t, err, models.ErrAuditImmutable)
}
