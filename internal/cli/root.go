// Package cli implements stokctl, the command-line front end of the import
// engine.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mjhen/medstock/server/internal/config"
	"github.com/mjhen/medstock/server/internal/db"
	"github.com/mjhen/medstock/server/internal/logging"
	"github.com/mjhen/medstock/server/internal/migrate"
)

var Version = "0.1.0"

// NewRootCmd builds the stokctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stokctl",
		Short:         "Inspect and import product spreadsheets",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to a YAML config file")
	pf.String("database-url", "", "postgres:// URL or sqlite file path")
	pf.String("migrations-dir", "", "read migrations from this directory instead of the embedded set")
	pf.Bool("auto-migrate", true, "apply pending migrations before touching the database")
	pf.Int("max-import-rows", 1000, "largest accepted number of data rows")
	pf.String("log-level", "info", "debug, info, warn or error")
	pf.BoolP("verbose", "v", false, "write structured logs to stderr")

	root.AddCommand(
		newInspectCmd(),
		newImportCmd(),
		newFieldsCmd(),
		newMigrateCmd(),
	)
	return root
}

// Execute runs stokctl with os.Args.
func Execute(ctx context.Context) error {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// env is what database-backed commands share.
type env struct {
	cfg    config.Config
	db     *sql.DB
	logger *zap.Logger
}

func (e *env) Close() {
	_ = e.logger.Sync()
	if e.db != nil {
		_ = e.db.Close()
	}
}

// openEnv loads configuration, builds the logger and opens the database,
// migrating it when auto_migrate is on.
func openEnv(cmd *cobra.Command, migrateFirst bool) (*env, error) {
	cfg, err := config.Load(cmd.Root().PersistentFlags())
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: zap.NewNop()}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		if e.logger, err = logging.New(cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}

	e.db, err = db.Open(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if migrateFirst && cfg.AutoMigrate {
		if err := runMigrations(cmd.Context(), e); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

func runMigrations(ctx context.Context, e *env) error {
	src, err := migrate.Source(db.Dialect(e.cfg.DatabaseURL), e.cfg.MigrationsDir)
	if err != nil {
		return err
	}
	if err := migrate.Run(ctx, e.db, src); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
