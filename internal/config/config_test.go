package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-reconciliation-backend/internal/services/matching"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/recon")
	t.Setenv("MATCHING_CONFIG", "")
	t.Setenv("RECONCILE_MAX_RETRIES", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("CORS_ORIGINS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []string{"http://localhost:4200"}, cfg.CORSOrigins)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, matching.DefaultConfig(), cfg.Matching)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "file:recon.db")
	t.Setenv("CORS_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("RECONCILE_MAX_RETRIES", "5")
	t.Setenv("MATCH_DATE_WINDOW_DAYS", "7")
	t.Setenv("MATCH_AMOUNT_TOLERANCE_ABS", "1.25")
	t.Setenv("MATCH_ALLOW_SPLIT", "true")
	t.Setenv("MATCH_PARTIAL_AMOUNT_SCORE", "0.3")
	t.Setenv("MATCHING_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 7, cfg.Matching.DateWindowDays)
	assert.True(t, cfg.Matching.AmountToleranceAbs.Equal(decimal.RequireFromString("1.25")))
	assert.True(t, cfg.Matching.AllowSplit)
	assert.InDelta(t, 0.3, cfg.Matching.PartialAmountScore, 1e-9)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing dsn", map[string]string{"DATABASE_URL": ""}, "DATABASE_URL"},
		{"bad driver", map[string]string{"DB_DRIVER": "mysql"}, "unsupported driver"},
		{"bad retries", map[string]string{"RECONCILE_MAX_RETRIES": "0"}, "RECONCILE_MAX_RETRIES"},
		{"bad float", map[string]string{"MATCH_MIN_CONFIDENCE": "high"}, "MATCH_MIN_CONFIDENCE"},
		{"out of range", map[string]string{"MATCH_MIN_CONFIDENCE": "2"}, "min confidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_DRIVER", "sqlite")
			t.Setenv("DATABASE_URL", "file:recon.db")
			t.Setenv("MATCHING_CONFIG", "")
			t.Setenv("RECONCILE_MAX_RETRIES", "")
			t.Setenv("MATCH_MIN_CONFIDENCE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMatchingProfile_RoundTrip(t *testing.T) {
	cfg := matching.DefaultConfig()
	cfg.DateWindowDays = 5
	cfg.AllowSplit = true
	cfg.WeightText = 0.6
	cfg.PartialAmountScore = 0.35

	path := filepath.Join(t.TempDir(), "matching.yaml")
	require.NoError(t, SaveMatchingProfile(path, cfg))

	got, err := LoadMatchingProfile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, got.DateWindowDays)
	assert.True(t, got.AllowSplit)
	assert.InDelta(t, 0.6, got.WeightText, 0.001)
	assert.InDelta(t, 0.35, got.PartialAmountScore, 1e-9)
	assert.True(t, got.AmountToleranceAbs.Equal(cfg.AmountToleranceAbs))
}

func TestMatchingProfile_PartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matching.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_confidence: 0.75\n"), 0o644))

	got, err := LoadMatchingProfile(path)
	require.NoError(t, err)

	want := matching.DefaultConfig()
	want.MinConfidence = 0.75
	assert.Equal(t, want, got)
}

func TestLoadMatchingProfile_NotFound(t *testing.T) {
	_, err := LoadMatchingProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestInitDB_SQLite(t *testing.T) {
	db, err := InitDB(DriverSQLite, filepath.Join(t.TempDir(), "recon.db"))
	require.NoError(t, err)

	for _, table := range []string{"invoices", "bank_transactions", "matches", "audit_entries", "reconciliation_runs"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}
