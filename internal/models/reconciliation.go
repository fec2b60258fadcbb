package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusConflict  = "conflict"
	RunStatusFailed    = "failed"
)

// ReconciliationRun records one execution of the matching engine.
type ReconciliationRun struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	StartedBy             string     `json:"startedBy"`
	Status                string     `gorm:"index" json:"status"`
	NewMatches            int        `json:"newMatches"`
	Invalidated           int        `json:"invalidated"`
	UnmatchedInvoices     int        `json:"unmatchedInvoices"`
	UnmatchedTransactions int        `json:"unmatchedTransactions"`
	Attempts              int        `json:"attempts"`
	StartedAt             time.Time  `json:"startedAt"`
	CompletedAt           *time.Time `json:"completedAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
}
