// Package config reads service settings from the environment and an optional
// YAML matching profile.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"invoice-reconciliation-backend/internal/services/allocation"
	"invoice-reconciliation-backend/internal/services/matching"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is everything the server and CLI need to start.
type Config struct {
	DBDriver    string
	DatabaseURL string
	HTTPAddr    string
	CORSOrigins []string
	MaxAttempts int
	Matching    matching.Config
}

// Load builds and validates a Config from environment variables.
func Load() (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads environment variables without validating the result, so
// callers can layer flags on top. A MATCHING_CONFIG file, when set, is
// applied first and individual MATCH_* variables override it.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DBDriver:    getenv("DB_DRIVER", DriverPostgres),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		CORSOrigins: splitList(getenv("CORS_ORIGINS", "http://localhost:4200")),
		MaxAttempts: allocation.DefaultMaxAttempts,
		Matching:    matching.DefaultConfig(),
	}

	if path := os.Getenv("MATCHING_CONFIG"); path != "" {
		m, err := LoadMatchingProfile(path)
		if err != nil {
			return nil, err
		}
		cfg.Matching = m
	}

	if err := applyMatchingEnv(&cfg.Matching); err != nil {
		return nil, err
	}
	if v := os.Getenv("RECONCILE_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("RECONCILE_MAX_RETRIES: want a positive integer, got %q", v)
		}
		cfg.MaxAttempts = n
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("DB_DRIVER: unsupported driver %q", c.DBDriver)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("matching config: %w", err)
	}
	return nil
}

func applyMatchingEnv(m *matching.Config) error {
	var err error
	intVar := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" && err == nil {
			var n int
			if n, err = strconv.Atoi(v); err != nil {
				err = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = n
		}
	}
	floatVar := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" && err == nil {
			var f float64
			if f, err = strconv.ParseFloat(v, 64); err != nil {
				err = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = f
		}
	}
	decimalVar := func(key string, dst *decimal.Decimal) {
		if v := os.Getenv(key); v != "" && err == nil {
			var d decimal.Decimal
			if d, err = decimal.NewFromString(v); err != nil {
				err = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = d
		}
	}
	boolVar := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" && err == nil {
			var b bool
			if b, err = strconv.ParseBool(v); err != nil {
				err = fmt.Errorf("%s: %w", key, err)
				return
			}
			*dst = b
		}
	}

	intVar("MATCH_DATE_WINDOW_DAYS", &m.DateWindowDays)
	decimalVar("MATCH_AMOUNT_TOLERANCE_ABS", &m.AmountToleranceAbs)
	floatVar("MATCH_AMOUNT_TOLERANCE_REL", &m.AmountToleranceRel)
	floatVar("MATCH_MIN_CONFIDENCE", &m.MinConfidence)
	boolVar("MATCH_ALLOW_SPLIT", &m.AllowSplit)
	floatVar("MATCH_PARTIAL_AMOUNT_SCORE", &m.PartialAmountScore)
	floatVar("MATCH_WEIGHT_AMOUNT", &m.WeightAmount)
	floatVar("MATCH_WEIGHT_DATE", &m.WeightDate)
	floatVar("MATCH_WEIGHT_TEXT", &m.WeightText)
	return err
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
