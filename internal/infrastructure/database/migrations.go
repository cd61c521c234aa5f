package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"time"
)

// MigrationsFS holds the migration files; the migrations package sets it
// from an init function. Nil means the schema has no migrations.
var MigrationsFS fs.FS

// MigrationsDir is the directory within MigrationsFS holding the files.
var MigrationsDir = "migrations"

// migrationFile matches YYYYMMDD_HHMMSS[_label].{up,down}.sql.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})(?:_(.+?))?\.(up|down)\.sql$`)

// Migration is one versioned schema change.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   string
	AppliedAt time.Time
}

// MigrationStatus compares the schema with the registered migrations.
type MigrationStatus struct {
	Applied []AppliedMigration
	Pending []Migration
}

// Current returns the newest applied version, or "" for an empty schema.
func (s MigrationStatus) Current() string {
	if len(s.Applied) == 0 {
		return ""
	}
	return s.Applied[len(s.Applied)-1].Version
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

// Status lists applied and pending migrations, oldest first.
func (db *DB) Status(ctx context.Context) (MigrationStatus, error) {
	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		return MigrationStatus{}, fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return MigrationStatus{}, err
	}
	all, err := loadMigrations()
	if err != nil {
		return MigrationStatus{}, err
	}

	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}
	status := MigrationStatus{Applied: applied}
	for _, m := range all {
		if !done[m.Version] {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

// Migrate applies pending migrations oldest first, each in its own
// transaction, and returns the ones it applied. A failed migration is
// rolled back alone; the next Migrate resumes from it.
func (db *DB) Migrate(ctx context.Context) ([]Migration, error) {
	status, err := db.Status(ctx)
	if err != nil {
		return nil, err
	}

	var applied []Migration
	for _, m := range status.Pending {
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
		applied = append(applied, m)
	}
	return applied, nil
}

// Rollback reverts the newest applied migration and returns its version,
// or "" when nothing is applied.
func (db *DB) Rollback(ctx context.Context) (string, error) {
	status, err := db.Status(ctx)
	if err != nil {
		return "", err
	}
	version := status.Current()
	if version == "" {
		return "", nil
	}

	all, err := loadMigrations()
	if err != nil {
		return "", err
	}
	i := sort.Search(len(all), func(i int) bool { return all[i].Version >= version })
	if i == len(all) || all[i].Version != version {
		return "", fmt.Errorf("migration %s is applied but not registered", version)
	}
	m := all[i]
	if m.Down == "" {
		return "", fmt.Errorf("migration %s has no down script", version)
	}

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.Down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", version)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("rolling back %s (%s): %w", version, m.Name, err)
	}
	return version, nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var (
			a  AppliedMigration
			at string
		)
		if err := rows.Scan(&a.Version, &at); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		a.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by Migrate
		out = append(out, a)
	}
	return out, rows.Err()
}

// parseMigrationFilename splits a migration file name into its version,
// label and direction.
func parseMigrationFilename(name string) (version, label string, up, ok bool) {
	m := migrationFile.FindStringSubmatch(name)
	if m == nil {
		return "", "", false, false
	}
	label = m[2]
	if label == "" {
		label = m[1]
	}
	return m[1], label, m[3] == "up", true
}

// loadMigrations reads MigrationsFS, sorted by version. A missing
// directory means no migrations; a down script without an up is an error.
func loadMigrations() ([]Migration, error) {
	if MigrationsFS == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(MigrationsFS, MigrationsDir)
	if err != nil {
		return nil, nil //nolint:nilerr // no directory, no migrations
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, label, up, ok := parseMigrationFilename(e.Name())
		if !ok {
			continue
		}
		body, err := fs.ReadFile(MigrationsFS, path.Join(MigrationsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version}
			byVersion[version] = m
		}
		if up {
			m.Name, m.Up = label, string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s has a down script but no up script", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
