package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"aidpanel.org/internal/migrate"
)

var (
	dsn     string
	dir     string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Apply the aidpanel membership schema",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("AIDPANEL_PG_DSN"), "PostgreSQL DSN (env: AIDPANEL_PG_DSN)")
	rootCmd.PersistentFlags().StringVar(&dir, "dir", "", "Read migrations/ and seeds/ from this directory instead of the bundled schema")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				applied, err := m.Up(ctx)
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				name, err := m.Down(ctx)
				if errors.Is(err, migrate.ErrNothingToRollback) {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
					return nil
				}
				if err == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "rolled back", name)
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Load seed data once",
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				applied, err := m.Seed(ctx)
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "seeded", name)
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			RunE: withManager(func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
				applied, pending, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "applied ", name)
				}
				for _, name := range pending {
					fmt.Fprintln(cmd.OutOrStdout(), "pending ", name)
				}
				return nil
			}),
		},
	)
}

func withManager(run func(context.Context, *cobra.Command, *migrate.Manager) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if dsn == "" {
			return errors.New("missing DSN: provide via --dsn or AIDPANEL_PG_DSN")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		files := migrate.Bundled()
		if dir != "" {
			files = os.DirFS(dir)
		}
		if err := run(ctx, cmd, migrate.NewManager(db, files)); err != nil {
			return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
		}
		return nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
