package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BankTransaction struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalID      string          `gorm:"uniqueIndex;not null" json:"externalId"`
	TransactionDate time.Time       `gorm:"column:transaction_date;type:date;index" json:"date"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,4);not null;index" json:"amount"`
	ReferenceNumber string          `json:"reference"`
	Status          MatchStatus     `gorm:"index" json:"status"`
	MatchedAmount   decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"matchedAmount"`
	Confidence      *float64        `json:"confidence"`
	Version         int64           `gorm:"not null" json:"version"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// IsCredit reports whether money came in. Only credits can be allocated to invoices.
func (tx BankTransaction) IsCredit() bool {
	return tx.Amount.IsPositive()
}

// Remaining is the unallocated part of a credit; debits have nothing to allocate.
func (tx BankTransaction) Remaining() decimal.Decimal {
	if !tx.IsCredit() {
		return decimal.Zero
	}
	r := tx.Amount.Sub(tx.MatchedAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}
