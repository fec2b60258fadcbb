package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AuditAction names a recorded mutation.
type AuditAction string

const (
	ActionMatchCreated     AuditAction = "MATCH_CREATED"
	ActionMatchRemoved     AuditAction = "MATCH_REMOVED"
	ActionMatchInvalidated AuditAction = "MATCH_INVALIDATED"
	ActionReconcileRun     AuditAction = "RECONCILE_RUN"
	ActionNotesUpdated     AuditAction = "NOTES_UPDATED"
	ActionRecordsIngested  AuditAction = "RECORDS_INGESTED"
)

var ErrAuditImmutable = errors.New("audit entries are append-only")

// AuditEntry is immutable once written. Seq orders entries.
type AuditEntry struct {
	Seq           uint64              `gorm:"primaryKey;autoIncrement" json:"seq"`
	ActorID       string              `gorm:"index" json:"actorId"`
	ActorRole     Role                `json:"actorRole"`
	Action        AuditAction         `gorm:"index" json:"action"`
	InvoiceID     *uuid.UUID          `gorm:"type:uuid;index" json:"invoiceId,omitempty"`
	TransactionID *uuid.UUID          `gorm:"type:uuid;index" json:"transactionId,omitempty"`
	MatchID       *uuid.UUID          `gorm:"type:uuid;index" json:"matchId,omitempty"`
	RunID         *uuid.UUID          `gorm:"type:uuid;index" json:"runId,omitempty"`
	BeforeAmount  decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"beforeAmount"`
	AfterAmount   decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"afterAmount"`
	Reason        string              `json:"reason"`
	Detail        string              `json:"detail"`
	CreatedAt     time.Time           `gorm:"index" json:"createdAt"`
}

func (AuditEntry) BeforeUpdate(*gorm.DB) error { return ErrAuditImmutable }

func (AuditEntry) BeforeDelete(*gorm.DB) error { return ErrAuditImmutable }
