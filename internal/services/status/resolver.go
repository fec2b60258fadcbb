// Package status derives matched amounts, statuses and confidence from active matches.
package status

import (
	"github.com/shopspring/decimal"

	"invoice-reconciliation-backend/internal/models"
)

// Epsilon absorbs rounding wherever two amounts are compared for equality,
// both when matching and when deriving status.
var Epsilon = decimal.RequireFromString("0.005")

// Resolution is the derived state of one invoice or transaction.
type Resolution struct {
	MatchedAmount decimal.Decimal
	Status        models.MatchStatus
	Confidence    *float64
}

// ResolveInvoice derives invoice state from the matches referencing it.
// Inactive matches are ignored.
func ResolveInvoice(amount decimal.Decimal, matches []models.Match) Resolution {
	return resolve(amount, matches, true)
}

// ResolveTransaction mirrors ResolveInvoice; transactions never report OVERPAID.
func ResolveTransaction(amount decimal.Decimal, matches []models.Match) Resolution {
	return resolve(amount, matches, false)
}

func resolve(amount decimal.Decimal, matches []models.Match, allowOverpaid bool) Resolution {
	matched := decimal.Zero
	var confidence *float64
	for _, m := range matches {
		if !m.Active {
			continue
		}
		matched = matched.Add(m.AllocatedAmount)
		if confidence == nil || m.Confidence < *confidence {
			c := m.Confidence
			confidence = &c
		}
	}

	return Resolution{
		MatchedAmount: matched,
		Status:        Classify(amount, matched, allowOverpaid),
		Confidence:    confidence,
	}
}

// Classify maps a matched amount against a face amount to a status.
func Classify(amount, matched decimal.Decimal, allowOverpaid bool) models.MatchStatus {
	switch {
	case !matched.IsPositive():
		return models.StatusUnmatched
	case matched.Sub(amount).Abs().LessThanOrEqual(Epsilon):
		return models.StatusMatched
	case matched.LessThan(amount):
		return models.StatusPartiallyMatched
	case allowOverpaid:
		return models.StatusOverpaid
	default:
		return models.StatusMatched
	}
}
