package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Match allocates part of a transaction to an invoice. AllocatedAmount is
// fixed at creation; a different amount means deactivate and create anew.
type Match struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID          uuid.UUID       `gorm:"type:uuid;index;not null" json:"invoiceId"`
	TransactionID      uuid.UUID       `gorm:"type:uuid;index;not null" json:"transactionId"`
	RunID              *uuid.UUID      `gorm:"type:uuid;index" json:"runId,omitempty"`
	AllocatedAmount    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"allocatedAmount"`
	Confidence         float64         `json:"confidence"`
	Source             MatchSource     `gorm:"index" json:"source"`
	Reason             string          `json:"reason"`
	OverpaymentAllowed bool            `json:"overpaymentAllowed"`
	Checksum           string          `gorm:"size:64" json:"-"`
	ScoreDetails       datatypes.JSON  `json:"scoreDetails,omitempty"`
	Active             bool            `gorm:"index" json:"active"`
	CreatedBy          string          `json:"createdBy"`
	CreatedAt          time.Time       `json:"createdAt"`
	DeactivatedAt      *time.Time      `json:"deactivatedAt,omitempty"`
	DeactivatedBy      string          `json:"deactivatedBy,omitempty"`
}
