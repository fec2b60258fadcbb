package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"invoice-reconciliation-backend/internal/models"
)

// AuditFilter narrows an audit query. Nil fields are ignored.
type AuditFilter struct {
	EntityID *uuid.UUID
	From     *time.Time
	To       *time.Time
}

// AuditRepository exposes append and query only.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// Query returns matching entries oldest first.
func (r *AuditRepository) Query(ctx context.Context, f AuditFilter) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	query := r.db.WithContext(ctx).Model(&models.AuditEntry{})

	if f.EntityID != nil {
		id := *f.EntityID
		query = query.Where(
			"invoice_id = ? OR transaction_id = ? OR match_id = ? OR run_id = ?",
			id, id, id, id,
		)
	}
	if f.From != nil {
		query = query.Where("created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		query = query.Where("created_at <= ?", f.To.UTC())
	}

	err := query.Order("seq ASC").Find(&entries).Error
	return entries, err
}
