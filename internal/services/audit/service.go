// Package audit answers queries over the append-only audit trail.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"invoice-reconciliation-backend/internal/apperror"
	"invoice-reconciliation-backend/internal/models"
	"invoice-reconciliation-backend/internal/repository"
)

// Filter selects entries touching EntityID (an invoice, transaction, match
// or run id) within [From, To]. Nil fields match everything.
type Filter struct {
	EntityID *uuid.UUID
	From     *time.Time
	To       *time.Time
}

type Service struct {
	store *repository.Store
}

func NewService(store *repository.Store) *Service {
	return &Service{store: store}
}

// Entries returns matching entries oldest first.
func (s *Service) Entries(ctx context.Context, f Filter) ([]models.AuditEntry, error) {
	const op = "audit.Entries"
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return nil, apperror.Validation(op, "from %s is after to %s", f.From.Format(time.RFC3339), f.To.Format(time.RFC3339))
	}

	var entries []models.AuditEntry
	err := s.store.Snapshot(ctx, func(tx *repository.Store) error {
		var err error
		entries, err = tx.Audit.Query(ctx, repository.AuditFilter{
			EntityID: f.EntityID,
			From:     f.From,
			To:       f.To,
		})
		return err
	})
	return entries, err
}

// ParseFilter builds a Filter from query-string style values. Dates accept
// RFC3339 or YYYY-MM-DD; a bare "to" date covers that whole day.
func ParseFilter(entityID, from, to string) (Filter, error) {
	const op = "audit.ParseFilter"
	var f Filter

	if entityID = strings.TrimSpace(entityID); entityID != "" {
		id, err := uuid.Parse(entityID)
		if err != nil {
			return f, apperror.Validation(op, "invalid entity id %q", entityID)
		}
		f.EntityID = &id
	}
	if from != "" {
		t, _, err := parseTime(from)
		if err != nil {
			return f, apperror.Validation(op, "invalid from %q", from)
		}
		f.From = &t
	}
	if to != "" {
		t, dateOnly, err := parseTime(to)
		if err != nil {
			return f, apperror.Validation(op, "invalid to %q", to)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.To = &t
	}
	return f, nil
}

func parseTime(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse("2006-01-02", s)
	return t, true, err
}
