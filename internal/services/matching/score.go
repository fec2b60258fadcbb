package matching

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"invoice-reconciliation-backend/internal/models"
)

// fuzzyCeiling keeps fuzzy confidence strictly below exact and manual matches.
const fuzzyCeiling = 0.99

var editOptions = levenshtein.Options{
	InsCost: 1,
	DelCost: 1,
	SubCost: 1,
	Matches: levenshtein.IdenticalRunes,
}

// Score is the breakdown behind a fuzzy confidence.
type Score struct {
	Amount float64 `json:"amount_score"`
	Date   float64 `json:"date_score"`
	Text   float64 `json:"text_score"`
	Total  float64 `json:"final_score"`
}

func computeScore(inv models.Invoice, tx models.BankTransaction, cfg Config) Score {
	s := Score{
		Date: dateCloseness(inv.Date, tx.TransactionDate, cfg.DateWindowDays),
		Text: textSimilarity(inv.Reference, tx.ReferenceNumber, tx.Description),
	}
	s.Amount = amountCloseness(inv.Amount, tx.Amount, cfg)
	if s.Date > 0 && tx.Amount.LessThan(inv.Amount) {
		s.Amount = math.Max(s.Amount, cfg.PartialAmountScore)
	}
	weights := cfg.WeightAmount + cfg.WeightDate + cfg.WeightText
	total := (cfg.WeightAmount*s.Amount + cfg.WeightDate*s.Date + cfg.WeightText*s.Text) / weights
	s.Total = round4(math.Min(total, fuzzyCeiling))
	return s
}

// amountCloseness is 1 for equal amounts, falling linearly to 0 at the edge
// of the tolerance window and 0 outside it.
func amountCloseness(a, b decimal.Decimal, cfg Config) float64 {
	diff := a.Sub(b).Abs()
	tol := decimal.Max(cfg.AmountToleranceAbs, a.Abs().Mul(decimal.NewFromFloat(cfg.AmountToleranceRel)))
	if diff.GreaterThan(tol) {
		return 0
	}
	if !tol.IsPositive() {
		return 1
	}
	ratio, _ := diff.Div(tol).Float64()
	return round4(1 - ratio)
}

func dateCloseness(a, b time.Time, window int) float64 {
	days := math.Abs(dateOnly(a).Sub(dateOnly(b)).Hours() / 24)
	days = math.Round(days)
	if days > float64(window) {
		return 0
	}
	return round4(1 - days/float64(window+1))
}

// textSimilarity is the best edit-distance ratio between the invoice reference
// and the transaction reference, its description, or any description token.
func textSimilarity(reference, txReference, description string) float64 {
	ref := normalizeText(reference)
	if ref == "" {
		return 0
	}
	best := math.Max(ratio(ref, normalizeText(txReference)), ratio(ref, normalizeText(description)))
	for _, tok := range strings.Fields(normalizeText(description)) {
		best = math.Max(best, ratio(ref, tok))
	}
	return round4(best)
}

func ratio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	dist := levenshtein.DistanceForStrings(ra, rb, editOptions)
	maxLen := math.Max(float64(len(ra)), float64(len(rb)))
	return 1 - float64(dist)/maxLen
}

// referencesMatch is the exact-pass rule: equal references once case,
// whitespace and punctuation are ignored, or the invoice reference appearing as a whole
// token sequence inside the transaction description.
func referencesMatch(reference, txReference, description string) bool {
	ref := compactRef(reference)
	if ref == "" {
		return false
	}
	if ref == compactRef(txReference) {
		return true
	}
	return containsToken(normalizeText(description), normalizeText(reference))
}

func containsToken(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for from := 0; from <= len(haystack)-len(needle); {
		i := strings.Index(haystack[from:], needle)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(needle)
		if boundary(haystack, start-1) && boundary(haystack, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToUpper(s)), " ")
}

// compactRef keeps only letters and digits, so "inv 1", "INV-1" and "INV1"
// compare equal.
func compactRef(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return -1
	}, s)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func round4(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}

// Checksum fingerprints the amounts an AUTO match was computed from. A
// stored checksum that no longer matches means the match is stale.
func Checksum(inv models.Invoice, tx models.BankTransaction) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s",
		inv.ID, inv.Amount.StringFixed(4), tx.ID, tx.Amount.StringFixed(4))))
	return hex.EncodeToString(sum[:])
}
