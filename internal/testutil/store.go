// Package testutil builds throwaway SQLite stores and fixtures for tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"invoice-reconciliation-backend/internal/config"
	"invoice-reconciliation-backend/internal/models"
	"invoice-reconciliation-backend/internal/repository"
)

var (
	Admin  = models.Actor{ID: "admin", Role: models.RoleAdmin}
	Editor = models.Actor{ID: "editor", Role: models.RoleEditor}
	Viewer = models.Actor{ID: "viewer", Role: models.RoleViewer}
)

// Day is the date fixtures are anchored to.
var Day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

// NewStore opens a migrated SQLite database in a temp dir.
func NewStore(t testing.TB) *repository.Store {
	t.Helper()
	db, err := config.InitDB(config.DriverSQLite, filepath.Join(t.TempDir(), "recon.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repository.NewStore(db)
}

func Dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Invoice stores an unmatched invoice.
func Invoice(t testing.TB, s *repository.Store, externalID, reference, amount string, date time.Time) models.Invoice {
	t.Helper()
	inv := models.Invoice{
		ID:            uuid.New(),
		ExternalID:    externalID,
		Reference:     reference,
		Amount:        Dec(amount),
		Date:          date,
		Status:        models.StatusUnmatched,
		MatchedAmount: decimal.Zero,
		Version:       1,
	}
	require.NoError(t, s.Invoices.Create(context.Background(), &inv))
	return inv
}

// Transaction stores an unmatched bank transaction.
func Transaction(t testing.TB, s *repository.Store, externalID, reference, description, amount string, date time.Time) models.BankTransaction {
	t.Helper()
	tx := models.BankTransaction{
		ID:              uuid.New(),
		ExternalID:      externalID,
		ReferenceNumber: reference,
		Description:     description,
		Amount:          Dec(amount),
		TransactionDate: date,
		Status:          models.StatusUnmatched,
		MatchedAmount:   decimal.Zero,
		Version:         1,
	}
	require.NoError(t, s.Transactions.Create(context.Background(), &tx))
	return tx
}

// ReloadInvoice reads the stored row back.
func ReloadInvoice(t testing.TB, s *repository.Store, id uuid.UUID) *models.Invoice {
	t.Helper()
	inv, err := s.Invoices.GetByID(context.Background(), id)
	require.NoError(t, err)
	return inv
}

func ReloadTransaction(t testing.TB, s *repository.Store, id uuid.UUID) *models.BankTransaction {
	t.Helper()
	tx, err := s.Transactions.GetByID(context.Background(), id)
	require.NoError(t, err)
	return tx
}

// AuditActions lists the actions of every entry touching entityID, oldest first.
func AuditActions(t testing.TB, s *repository.Store, entityID uuid.UUID) []models.AuditAction {
	t.Helper()
	entries, err := s.Audit.Query(context.Background(), repository.AuditFilter{EntityID: &entityID})
	require.NoError(t, err)
	out := make([]models.AuditAction, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}
