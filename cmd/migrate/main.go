package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"LyraeLedger/internal/config"
	"LyraeLedger/internal/observability"
	"LyraeLedger/internal/persistence"
)

var configPath string

func rootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:           "migrate",
		Short:         "Applies or rolls back the audit log schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	c.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Applies all pending migrations",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator, _ *cobra.Command) error {
				return m.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Rolls back the last applied migration",
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator, _ *cobra.Command) error {
				return m.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Lists migrations and whether each is applied",
			RunE:  withMigrator(printStatus),
		},
	)
	return c
}

func printStatus(ctx context.Context, m *persistence.Migrator, c *cobra.Command) error {
	statuses, err := m.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tAPPLIED AT\tDRIFTED\tFILE")
	for _, s := range statuses {
		at := "pending"
		if s.Applied {
			at = s.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", s.Version, at, s.Drifted, s.File)
	}
	return w.Flush()
}

type migrateFunc func(ctx context.Context, m *persistence.Migrator, c *cobra.Command) error

// withMigrator loads the config, opens Postgres and hands fn a migrator.
func withMigrator(fn migrateFunc) func(*cobra.Command, []string) error {
	return func(c *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log := observability.NewConfiguredLogger("migrate", cfg.Log.Level)

		db, err := sql.Open("postgres", cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(c.Context()); err != nil {
			return fmt.Errorf("ping db: %w", err)
		}
		return fn(c.Context(), persistence.NewMigrator(db, cfg.Migrations.Dir, log), c)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		log := observability.NewLogger("migrate")
		log.Error().Err(err).Msg("migration failed")
		os.Exit(1)
	}
}
