package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"invoice-reconciliation-backend/internal/services/matching"
)

// MatchingProfile is the on-disk form of matching.Config. Omitted keys keep
// their defaults.
type MatchingProfile struct {
	DateWindowDays     *int           `yaml:"date_window_days,omitempty"`
	AmountToleranceAbs string         `yaml:"amount_tolerance_abs,omitempty"`
	AmountToleranceRel *float64       `yaml:"amount_tolerance_rel,omitempty"`
	MinConfidence      *float64       `yaml:"min_confidence,omitempty"`
	AllowSplit         *bool          `yaml:"allow_split,omitempty"`
	PartialAmountScore *float64       `yaml:"partial_amount_score,omitempty"`
	Weights            *WeightsConfig `yaml:"weights,omitempty"`
}

type WeightsConfig struct {
	Amount float64 `yaml:"amount"`
	Date   float64 `yaml:"date"`
	Text   float64 `yaml:"text"`
}

// LoadMatchingProfile reads a YAML profile on top of matching.DefaultConfig.
func LoadMatchingProfile(path string) (matching.Config, error) {
	cfg := matching.DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading matching profile: %w", err)
	}
	var p MatchingProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return cfg, fmt.Errorf("parsing matching profile: %w", err)
	}
	return p.Apply(cfg)
}

func (p MatchingProfile) Apply(cfg matching.Config) (matching.Config, error) {
	if p.DateWindowDays != nil {
		cfg.DateWindowDays = *p.DateWindowDays
	}
	if p.AmountToleranceAbs != "" {
		abs, err := decimal.NewFromString(p.AmountToleranceAbs)
		if err != nil {
			return cfg, fmt.Errorf("amount_tolerance_abs: %w", err)
		}
		cfg.AmountToleranceAbs = abs
	}
	if p.AmountToleranceRel != nil {
		cfg.AmountToleranceRel = *p.AmountToleranceRel
	}
	if p.MinConfidence != nil {
		cfg.MinConfidence = *p.MinConfidence
	}
	if p.AllowSplit != nil {
		cfg.AllowSplit = *p.AllowSplit
	}
	if p.PartialAmountScore != nil {
		cfg.PartialAmountScore = *p.PartialAmountScore
	}
	if p.Weights != nil {
		cfg.WeightAmount = p.Weights.Amount
		cfg.WeightDate = p.Weights.Date
		cfg.WeightText = p.Weights.Text
	}
	return cfg, nil
}

// SaveMatchingProfile writes cfg as a complete profile.
func SaveMatchingProfile(path string, cfg matching.Config) error {
	p := MatchingProfile{
		DateWindowDays:     &cfg.DateWindowDays,
		AmountToleranceAbs: cfg.AmountToleranceAbs.String(),
		AmountToleranceRel: &cfg.AmountToleranceRel,
		MinConfidence:      &cfg.MinConfidence,
		AllowSplit:         &cfg.AllowSplit,
		PartialAmountScore: &cfg.PartialAmountScore,
		Weights: &WeightsConfig{
			Amount: cfg.WeightAmount,
			Date:   cfg.WeightDate,
			Text:   cfg.WeightText,
		},
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling matching profile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing matching profile: %w", err)
	}
	return nil
}
