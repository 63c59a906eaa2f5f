package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mjhen/medstock/server/internal/db"
	"github.com/mjhen/medstock/server/internal/migrate"
)

func newMigrateCmd() *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.Close()

			src, err := migrate.Source(db.Dialect(e.cfg.DatabaseURL), e.cfg.MigrationsDir)
			if err != nil {
				return err
			}
			pending, err := migrate.Pending(cmd.Context(), e.db, src)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if status {
				if len(pending) == 0 {
					fmt.Fprintln(out, "Schema is up to date.")
				}
				for _, v := range pending {
					fmt.Fprintf(out, "pending  %s\n", v)
				}
				return nil
			}
			if err := migrate.Run(cmd.Context(), e.db, src); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			for _, v := range pending {
				fmt.Fprintf(out, "applied  %s\n", v)
			}
			if len(pending) == 0 {
				fmt.Fprintln(out, "Schema is up to date.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "list pending migrations without applying them")
	return cmd
}
