package allocation

import (
	"context"
	"errors"
	"log"

	"invoice-reconciliation-backend/internal/apperror"
	"invoice-reconciliation-backend/internal/repository"
)

// DefaultMaxAttempts bounds how often a conflicting operation is replayed.
const DefaultMaxAttempts = 3

// WithRetry runs fn until it succeeds, fails with anything other than a
// version conflict, or exhausts maxAttempts. fn must redo its reads on each
// call. The attempt count used is returned alongside the result.
func WithRetry(ctx context.Context, op string, maxAttempts int, fn func(attempt int) error) (int, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(attempt)
		if !errors.Is(err, repository.ErrStaleVersion) {
			return attempt, err
		}
		log.Printf("%s: version conflict on attempt %d/%d", op, attempt, maxAttempts)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
	}
	return maxAttempts, apperror.Conflict(op, err, "concurrent update, gave up after %d attempts", maxAttempts)
}
