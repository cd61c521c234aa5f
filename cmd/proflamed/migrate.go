package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/proflame-bridge/internal/infrastructure/config"
	"github.com/nerrad567/proflame-bridge/internal/infrastructure/database"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or change the history database schema",
	}

	withDB := func(fn func(ctx context.Context, db *database.DB, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			db, err := openConfiguredDB(cmd.Context(), getConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // read-mostly command
			return fn(cmd.Context(), db, cmd.OutOrStdout())
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "List applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE:  withDB(migrateStatus),
		},
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE:  withDB(migrateUp),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the newest applied migration",
			Args:  cobra.NoArgs,
			RunE:  withDB(migrateDown),
		},
	)
	return cmd
}

// openConfiguredDB opens the database named by the config file.
func openConfiguredDB(ctx context.Context, configPath string) (*database.DB, error) {
	if err := config.LoadDotEnv(dotEnvFiles...); err != nil {
		return nil, fmt.Errorf("loading env files: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Path == "" {
		return nil, errors.New("database.path is not set")
	}
	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func migrateStatus(ctx context.Context, db *database.DB, out io.Writer) error {
	status, err := db.Status(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT")
	for _, a := range status.Applied {
		fmt.Fprintf(tw, "%s\tapplied\t%s\n", a.Version, a.AppliedAt.Format(time.RFC3339))
	}
	for _, p := range status.Pending {
		fmt.Fprintf(tw, "%s\tpending\t-\n", p.Version)
	}
	return tw.Flush()
}

func migrateUp(ctx context.Context, db *database.DB, out io.Writer) error {
	applied, err := db.Migrate(ctx)
	for _, m := range applied {
		fmt.Fprintf(out, "applied %s %s\n", m.Version, m.Name)
	}
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(out, "schema is up to date")
	}
	return nil
}

func migrateDown(ctx context.Context, db *database.DB, out io.Writer) error {
	version, err := db.Rollback(ctx)
	if err != nil {
		return err
	}
	if version == "" {
		fmt.Fprintln(out, "no migrations applied")
		return nil
	}
	fmt.Fprintf(out, "reverted %s\n", version)
	return nil
}
