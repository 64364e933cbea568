package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-po-approvals/internal/config"
	"github.com/pesio-ai/be-po-approvals/internal/database"
	"github.com/pesio-ai/be-po-approvals/internal/repository"
)

var catalogPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the embedded SQL migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		applied, err := db.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		log.Info().Strs("migrations", applied).Msg("Migrations applied")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Upsert departments and users from the YAML catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		path := catalogPath
		if path == "" {
			path = cfg.Orders.CatalogPath
		}
		catalog, err := repository.LoadCatalog(path)
		if err != nil {
			return err
		}

		db, err := openDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := catalog.Seed(cmd.Context(), repository.NewPostgresStore(db)); err != nil {
			return err
		}
		log.Info().
			Str("catalog", path).
			Int("departments", len(catalog.Departments)).
			Int("users", len(catalog.Users)).
			Msg("Directory seeded")
		return nil
	},
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize-statuses",
	Short: "Rewrite legacy order status spellings to canonical values",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		changed, err := repository.NewPostgresStore(db).NormalizeLegacyStatuses(cmd.Context())
		if err != nil {
			return err
		}
		log.Info().Int64("orders", changed).Msg("Legacy statuses normalized")
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog file (default $DEPARTMENT_CATALOG)")
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.New(ctx, database.Config{
		DSN:         cfg.Database.DSN(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
