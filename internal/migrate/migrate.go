// Package migrate runs embedded SQL schema migrations against a sql.DB,
// tracking applied versions in a schema_migrations table. Trimmed from the
// teacher's namespace-templating migrator: cascadeflow has one schema per
// store (no per-tenant namespace isolation), so only the single-pass
// AutoMigrate path survives.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Migrator applies embedded SQL migrations for one dialect ("postgres" or
// "sqlite") against db.
type Migrator struct {
	db      *sql.DB
	dialect string
	fs      embed.FS
	dir     string
	ctx     context.Context
}

// New creates a Migrator that loads *.sql files from dir within fs.
func New(db *sql.DB, dialect string, fs embed.FS, dir string) *Migrator {
	return &Migrator{db: db, dialect: dialect, fs: fs, dir: dir, ctx: context.Background()}
}

// WithContext returns a copy of m bound to ctx.
func (m *Migrator) WithContext(ctx context.Context) *Migrator {
	cp := *m
	cp.ctx = ctx
	return &cp
}

// AutoMigrate applies every pending migration in m's directory, in
// ascending filename order, recording each as applied. It is idempotent:
// migrations already recorded in schema_migrations are skipped.
func (m *Migrator) AutoMigrate() error {
	if err := m.ensureMigrationsTable(); err != nil {
		return errors.Wrap(err, "failed to create migrations table")
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return errors.Wrap(err, "failed to load migrations")
	}
	if len(migrations) == 0 {
		return nil
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return errors.Wrap(err, "failed to get applied migrations")
	}

	for _, mig := range migrations {
		if applied[mig.name] {
			continue
		}
		if err := m.applyMigration(mig); err != nil {
			return errors.Wrapf(err, "failed to apply migration %s", mig.name)
		}
	}
	return nil
}

type migration struct {
	name    string
	content string
}

func (m *Migrator) ensureMigrationsTable() error {
	var createSQL string
	if m.dialect == "postgres" {
		createSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at BIGINT NOT NULL
		)`
	} else {
		createSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`
	}
	_, err := m.db.ExecContext(m.ctx, createSQL)
	return err
}

func (m *Migrator) loadMigrations() ([]migration, error) {
	entries, err := m.fs.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var migrations []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := m.fs.ReadFile(path.Join(m.dir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read migration %s", entry.Name())
		}
		migrations = append(migrations, migration{name: entry.Name(), content: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].name < migrations[j].name })
	return migrations, nil
}

func (m *Migrator) getAppliedMigrations() (map[string]bool, error) {
	rows, err := m.db.QueryContext(m.ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) applyMigration(mig migration) error {
	tx, err := m.db.BeginTx(m.ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(m.ctx, mig.content); err != nil {
		return err
	}

	var insertSQL string
	if m.dialect == "sqlite" {
		insertSQL = "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"
	} else {
		insertSQL = "INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)"
	}
	if _, err := tx.ExecContext(m.ctx, insertSQL, mig.name, time.Now().Unix()); err != nil {
		return err
	}

	return tx.Commit()
}
