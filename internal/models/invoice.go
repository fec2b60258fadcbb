package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Invoice struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalID    string          `gorm:"uniqueIndex;not null" json:"externalId"`
	Reference     string          `gorm:"index" json:"reference"`
	Description   string          `json:"description"`
	CustomerName  string          `gorm:"index" json:"customerName"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"`
	Date          time.Time       `gorm:"type:date;index" json:"date"`
	Status        MatchStatus     `gorm:"index" json:"status"`
	MatchedAmount decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"matchedAmount"`
	Confidence    *float64        `json:"confidence"`
	InternalNotes string          `json:"internalNotes"`
	Version       int64           `gorm:"not null" json:"version"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Remaining is the part of the invoice not yet covered by active matches.
// It is never negative.
func (inv Invoice) Remaining() decimal.Decimal {
	r := inv.Amount.Sub(inv.MatchedAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// OverpaymentCredit is the amount matched beyond the face amount.
func (inv Invoice) OverpaymentCredit() decimal.Decimal {
	excess := inv.MatchedAmount.Sub(inv.Amount)
	if excess.IsPositive() {
		return excess
	}
	return decimal.Zero
}
