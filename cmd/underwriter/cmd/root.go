package cmd

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/commissiontracker/underwriter/internal/core/config"
	"github.com/commissiontracker/underwriter/internal/core/db"
	"github.com/commissiontracker/underwriter/internal/registry"
)

// Version is the CLI and server version.
const Version = "0.1.0"

var (
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "underwriter",
	Short:         "Underwriting predicate validation and rule resolution",
	Long:          `underwriter validates underwriting rule predicates and resolves applicant facts to an eligibility, health class and table rating.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// app carries what every subcommand needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	fields *registry.Registry
}

// setup loads config, applies persistent flag overrides, and builds the
// logger and field registry.
func setup() (*app, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	fields := registry.Default()
	if path := cfg.Registry.ConditionFieldsFile; path != "" {
		if err := fields.RegisterFile(path); err != nil {
			return nil, fmt.Errorf("failed to load condition fields: %w", err)
		}
		logger.Info("registered condition fields", zap.String("file", path))
	}

	return &app{cfg: cfg, logger: logger, fields: fields}, nil
}

// openDB opens the configured database and refuses to continue while
// migrations are pending.
func (a *app) openDB(ctx context.Context) (*sqlx.DB, error) {
	database, err := db.Open(ctx, a.cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	statuses, err := db.MigrateStatus(ctx, database)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			database.Close()
			return nil, fmt.Errorf("migration %s not applied - run 'underwriter migrate' first", s.ID)
		}
	}
	return database, nil
}
