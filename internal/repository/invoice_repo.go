package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"invoice-reconciliation-backend/internal/models"
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// GetByID fetch a single invoice by ID
func (r *InvoiceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).First(&invoice, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// LockByID is GetByID with FOR UPDATE on Postgres.
func (r *InvoiceRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&invoice, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *InvoiceRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).First(&invoice, "external_id = ?", externalID).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetAll returns every invoice ordered by date, oldest first.
func (r *InvoiceRepository) GetAll(ctx context.Context) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).Order("date ASC, id ASC").Find(&invoices).Error
	return invoices, err
}

func (r *InvoiceRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Invoice, error) {
	var invoices []models.Invoice
	if len(ids) == 0 {
		return invoices, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("date ASC, id ASC").Find(&invoices).Error
	return invoices, err
}

// SearchInvoices used for the dashboard list with optional filters
func (r *InvoiceRepository) SearchInvoices(ctx context.Context, query string, statuses []string) ([]models.Invoice, error) {
	var invoices []models.Invoice

	dbQuery := r.db.WithContext(ctx).Model(&models.Invoice{})

	if query != "" {
		like := "%" + strings.ToLower(query) + "%"
		dbQuery = dbQuery.Where(
			"LOWER(reference) LIKE ? OR LOWER(customer_name) LIKE ? OR LOWER(description) LIKE ?",
			like, like, like,
		)
	}
	if len(statuses) > 0 {
		dbQuery = dbQuery.Where("status IN ?", statuses)
	}

	err := dbQuery.Order("date ASC, id ASC").Find(&invoices).Error
	return invoices, err
}

func (r *InvoiceRepository) Create(ctx context.Context, inv *models.Invoice) error {
	return r.db.WithContext(ctx).Create(inv).Error
}

// UpdateContent rewrites the ingested fields of an invoice.
func (r *InvoiceRepository) UpdateContent(ctx context.Context, inv *models.Invoice) error {
	return versionedUpdate(r.db.WithContext(ctx), &models.Invoice{}, inv.ID, &inv.Version, map[string]interface{}{
		"reference":     inv.Reference,
		"description":   inv.Description,
		"customer_name": inv.CustomerName,
		"amount":        inv.Amount,
		"date":          inv.Date,
	})
}

// UpdateDerived persists a resolved matched amount, status and confidence.
func (r *InvoiceRepository) UpdateDerived(ctx context.Context, inv *models.Invoice) error {
	return versionedUpdate(r.db.WithContext(ctx), &models.Invoice{}, inv.ID, &inv.Version, map[string]interface{}{
		"matched_amount": inv.MatchedAmount,
		"status":         inv.Status,
		"confidence":     inv.Confidence,
	})
}

func (r *InvoiceRepository) UpdateNotes(ctx context.Context, inv *models.Invoice) error {
	return versionedUpdate(r.db.WithContext(ctx), &models.Invoice{}, inv.ID, &inv.Version, map[string]interface{}{
		"internal_notes": inv.InternalNotes,
	})
}
