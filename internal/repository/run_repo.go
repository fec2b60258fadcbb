package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"invoice-reconciliation-backend/internal/models"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(ctx context.Context, run *models.ReconciliationRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationRun, error) {
	var run models.ReconciliationRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// Finish records the outcome of a run.
func (r *RunRepository) Finish(ctx context.Context, run *models.ReconciliationRun) error {
	return r.db.WithContext(ctx).Model(&models.ReconciliationRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":                 run.Status,
			"new_matches":            run.NewMatches,
			"invalidated":            run.Invalidated,
			"unmatched_invoices":     run.UnmatchedInvoices,
			"unmatched_transactions": run.UnmatchedTransactions,
			"attempts":               run.Attempts,
			"completed_at":           run.CompletedAt,
		}).Error
}
