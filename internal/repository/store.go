package repository

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// Store groups the repositories over one connection or transaction.
type Store struct {
	db           *gorm.DB
	Invoices     *InvoiceRepository
	Transactions *BankTransactionRepository
	Matches      *MatchRepository
	Audit        *AuditRepository
	Runs         *RunRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:           db,
		Invoices:     NewInvoiceRepository(db),
		Transactions: NewBankTransactionRepository(db),
		Matches:      NewMatchRepository(db),
		Audit:        NewAuditRepository(db),
		Runs:         NewRunRepository(db),
	}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a store bound to a single database
// transaction. Returning an error rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// Snapshot runs fn inside a read-only transaction so every read sees the
// same committed state.
func (s *Store) Snapshot(ctx context.Context, fn func(tx *Store) error) error {
	var opts []*sql.TxOptions
	if s.db.Dialector.Name() == "postgres" {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	}, opts...)
}
