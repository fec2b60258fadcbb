package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"invoice-reconciliation-backend/internal/buildinfo"
	"invoice-reconciliation-backend/internal/config"
	"invoice-reconciliation-backend/internal/models"
	"invoice-reconciliation-backend/internal/repository"
	"invoice-reconciliation-backend/internal/services/audit"
	"invoice-reconciliation-backend/internal/services/reconciliation"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	envFile        string
	driver         string
	dsn            string
	matchingConfig string
	actor          string
}

// app is the wiring a subcommand works with.
type app struct {
	cfg   *config.Config
	store *repository.Store
	recon *reconciliation.ReconciliationService
	audit *audit.Service
	actor models.Actor
}

func (a *app) Close() error {
	sqlDB, err := a.store.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:     "reconctl",
		Short:   "Invoice and bank statement reconciliation",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.envFile, "env", ".env", "dotenv file to load before reading the environment")
	pf.StringVar(&flags.driver, "driver", "", "database driver: postgres or sqlite (overrides DB_DRIVER)")
	pf.StringVar(&flags.dsn, "dsn", "", "database connection string (overrides DATABASE_URL)")
	pf.StringVar(&flags.matchingConfig, "matching-config", "", "YAML matching profile (replaces MATCHING_CONFIG and MATCH_* settings)")
	pf.StringVar(&flags.actor, "actor", "reconctl:ADMIN", "acting user as id:ROLE")

	rootCmd.AddCommand(
		newRunCommand(flags),
		newSummaryCommand(flags),
		newAuditCommand(flags),
		newExportCommand(flags),
		newIngestCommand(flags),
	)

	return rootCmd
}

func (f *globalFlags) open() (*app, error) {
	if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", f.envFile, err)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if f.driver != "" {
		cfg.DBDriver = f.driver
	}
	if f.dsn != "" {
		cfg.DatabaseURL = f.dsn
	}
	if f.matchingConfig != "" {
		if cfg.Matching, err = config.LoadMatchingProfile(f.matchingConfig); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	actor, err := parseActor(f.actor)
	if err != nil {
		return nil, err
	}

	db, err := config.InitDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	store := repository.NewStore(db)

	return &app{
		cfg:   cfg,
		store: store,
		recon: reconciliation.NewReconciliationService(store, cfg.Matching, cfg.MaxAttempts),
		audit: audit.NewService(store),
		actor: actor,
	}, nil
}

func parseActor(s string) (models.Actor, error) {
	id, role, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return models.Actor{}, fmt.Errorf("--actor: want id:ROLE, got %q", s)
	}
	r := models.Role(strings.ToUpper(strings.TrimSpace(role)))
	switch r {
	case models.RoleAdmin, models.RoleEditor, models.RoleViewer:
	default:
		return models.Actor{}, fmt.Errorf("--actor: unknown role %q", role)
	}
	return models.Actor{ID: strings.TrimSpace(id), Role: r}, nil
}
