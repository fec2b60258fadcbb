package matching

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Config tunes candidate selection and scoring for a reconciliation run.
type Config struct {
	// DateWindowDays is how far apart invoice and transaction dates may be
	// and still earn date closeness.
	DateWindowDays int
	// AmountToleranceAbs and AmountToleranceRel bound the amount window;
	// the wider of the two applies.
	AmountToleranceAbs decimal.Decimal
	AmountToleranceRel float64
	// MinConfidence discards fuzzy candidates scoring below it.
	MinConfidence float64
	// AllowSplit lets a transaction continue to further invoices once the
	// first one is fully covered.
	AllowSplit bool
	// PartialAmountScore is the amount score a payment smaller than the
	// invoice earns when it falls inside the date window.
	PartialAmountScore float64

	WeightAmount float64
	WeightDate   float64
	WeightText   float64
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DateWindowDays:     3,
		AmountToleranceAbs: decimal.RequireFromString("0.50"),
		AmountToleranceRel: 0.01,
		MinConfidence:      0.60,
		AllowSplit:         false,
		PartialAmountScore: 0.50,
		WeightAmount:       0.40,
		WeightDate:         0.20,
		WeightText:         0.40,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.DateWindowDays < 0 {
		errs = append(errs, fmt.Errorf("date window must not be negative, got %d", c.DateWindowDays))
	}
	if c.AmountToleranceAbs.IsNegative() || c.AmountToleranceRel < 0 {
		errs = append(errs, errors.New("amount tolerances must not be negative"))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min confidence must be within [0,1], got %.2f", c.MinConfidence))
	}
	if c.WeightAmount < 0 || c.WeightDate < 0 || c.WeightText < 0 {
		errs = append(errs, errors.New("weights must not be negative"))
	}
	if c.WeightAmount+c.WeightDate+c.WeightText == 0 {
		errs = append(errs, errors.New("at least one weight must be positive"))
	}
	if c.PartialAmountScore < 0 || c.PartialAmountScore > 1 {
		errs = append(errs, fmt.Errorf("partial amount score must be within [0,1], got %.2f", c.PartialAmountScore))
	}
	return errors.Join(errs...)
}
