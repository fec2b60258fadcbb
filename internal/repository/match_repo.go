package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"invoice-reconciliation-backend/internal/models"
)

// MatchRepository only creates and deactivates; allocations are never edited.
type MatchRepository struct {
	db *gorm.DB
}

func NewMatchRepository(db *gorm.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

func (r *MatchRepository) Create(ctx context.Context, m *models.Match) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *MatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	var m models.Match
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MatchRepository) ListActive(ctx context.Context) ([]models.Match, error) {
	var matches []models.Match
	err := r.db.WithContext(ctx).Where("active = ?", true).Order("created_at ASC, id ASC").Find(&matches).Error
	return matches, err
}

func (r *MatchRepository) ListActiveForInvoices(ctx context.Context, ids []uuid.UUID) ([]models.Match, error) {
	var matches []models.Match
	if len(ids) == 0 {
		return matches, nil
	}
	err := r.db.WithContext(ctx).
		Where("active = ? AND invoice_id IN ?", true, ids).
		Order("created_at ASC, id ASC").
		Find(&matches).Error
	return matches, err
}

func (r *MatchRepository) ListActiveForTransactions(ctx context.Context, ids []uuid.UUID) ([]models.Match, error) {
	var matches []models.Match
	if len(ids) == 0 {
		return matches, nil
	}
	err := r.db.WithContext(ctx).
		Where("active = ? AND transaction_id IN ?", true, ids).
		Order("created_at ASC, id ASC").
		Find(&matches).Error
	return matches, err
}

func (r *MatchRepository) ListActiveByPair(ctx context.Context, invoiceID, transactionID uuid.UUID) ([]models.Match, error) {
	var matches []models.Match
	err := r.db.WithContext(ctx).
		Where("active = ? AND invoice_id = ? AND transaction_id = ?", true, invoiceID, transactionID).
		Order("created_at ASC, id ASC").
		Find(&matches).Error
	return matches, err
}

// History returns every match ever recorded for an invoice, inactive ones included.
func (r *MatchRepository) History(ctx context.Context, invoiceID uuid.UUID) ([]models.Match, error) {
	var matches []models.Match
	err := r.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).Order("created_at ASC, id ASC").Find(&matches).Error
	return matches, err
}

// Deactivate flips an active match off. ErrStaleVersion means it was
// already inactive by the time this ran.
func (r *MatchRepository) Deactivate(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Match{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]interface{}{
			"active":         false,
			"deactivated_at": at,
			"deactivated_by": by,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	return nil
}
