package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"invoice-reconciliation-backend/internal/models"
)

type BankTransactionRepository struct {
	db *gorm.DB
}

func NewBankTransactionRepository(db *gorm.DB) *BankTransactionRepository {
	return &BankTransactionRepository{db: db}
}

func (r *BankTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BankTransaction, error) {
	var tx models.BankTransaction
	if err := r.db.WithContext(ctx).First(&tx, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

// LockByID reads a transaction with a row lock held until the surrounding
// transaction ends. SQLite ignores the lock.
func (r *BankTransactionRepository) LockByID(ctx context.Context, id uuid.UUID) (*models.BankTransaction, error) {
	var tx models.BankTransaction
	err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&tx, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *BankTransactionRepository) GetByExternalID(ctx context.Context, externalID string) (*models.BankTransaction, error) {
	var tx models.BankTransaction
	if err := r.db.WithContext(ctx).First(&tx, "external_id = ?", externalID).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *BankTransactionRepository) GetAll(ctx context.Context) ([]models.BankTransaction, error) {
	var txs []models.BankTransaction
	err := r.db.WithContext(ctx).Order("transaction_date ASC, id ASC").Find(&txs).Error
	return txs, err
}

func (r *BankTransactionRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.BankTransaction, error) {
	var txs []models.BankTransaction
	if len(ids) == 0 {
		return txs, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("transaction_date ASC, id ASC").Find(&txs).Error
	return txs, err
}

// SearchTransactions filters by description or reference text and status.
func (r *BankTransactionRepository) SearchTransactions(ctx context.Context, search string, statuses []string) ([]models.BankTransaction, error) {
	var txs []models.BankTransaction
	query := r.db.WithContext(ctx).Model(&models.BankTransaction{})

	if search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(description) LIKE ? OR LOWER(reference_number) LIKE ?", like, like)
	}
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	err := query.Order("transaction_date ASC, id ASC").Find(&txs).Error
	return txs, err
}

func (r *BankTransactionRepository) Create(ctx context.Context, tx *models.BankTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *BankTransactionRepository) UpdateContent(ctx context.Context, tx *models.BankTransaction) error {
	return versionedUpdate(r.db.WithContext(ctx), &models.BankTransaction{}, tx.ID, &tx.Version, map[string]interface{}{
		"transaction_date": tx.TransactionDate,
		"description":      tx.Description,
		"amount":           tx.Amount,
		"reference_number": tx.ReferenceNumber,
	})
}

func (r *BankTransactionRepository) UpdateDerived(ctx context.Context, tx *models.BankTransaction) error {
	return versionedUpdate(r.db.WithContext(ctx), &models.BankTransaction{}, tx.ID, &tx.Version, map[string]interface{}{
		"matched_amount": tx.MatchedAmount,
		"status":         tx.Status,
		"confidence":     tx.Confidence,
	})
}
