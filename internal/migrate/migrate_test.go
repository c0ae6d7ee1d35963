package migrate

import (
	"database/sql"
	"embed"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

//go:embed testdata
var testFS embed.FS

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrator_AutoMigrateCreatesMigrationsTable(t *testing.T) {
	db := setupTestDB(t)
	migrator := New(db, "sqlite", testFS, "testdata")

	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_migrations'").Scan(&name)
	require.Error(t, err)

	require.NoError(t, migrator.AutoMigrate())

	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_migrations'").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "schema_migrations", name)
}

func TestMigrator_AutoMigrateAppliesPendingMigrations(t *testing.T) {
	db := setupTestDB(t)
	migrator := New(db, "sqlite", testFS, "testdata")
	require.NoError(t, migrator.AutoMigrate())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)

	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='widgets'").Scan(&tableName)
	require.NoError(t, err)
}

func TestMigrator_AutoMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	migrator := New(db, "sqlite", testFS, "testdata")

	require.NoError(t, migrator.AutoMigrate())
	var firstCount int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&firstCount))

	require.NoError(t, migrator.AutoMigrate())
	var secondCount int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&secondCount))

	assert.Equal(t, firstCount, secondCount)
}

func TestMigrator_RecordsVersionAndTimestamp(t *testing.T) {
	db := setupTestDB(t)
	migrator := New(db, "sqlite", testFS, "testdata")
	require.NoError(t, migrator.AutoMigrate())

	var version string
	var appliedAt int64
	require.NoError(t, db.QueryRow("SELECT version, applied_at FROM schema_migrations LIMIT 1").Scan(&version, &appliedAt))

	assert.Equal(t, "001_widgets.sql", version)
	assert.NotZero(t, appliedAt)
}

func TestMigrator_WithContextReturnsIndependentCopy(t *testing.T) {
	db := setupTestDB(t)
	base := New(db, "sqlite", testFS, "testdata")
	scoped := base.WithContext(t.Context())

	assert.NotSame(t, base, scoped)
	require.NoError(t, scoped.AutoMigrate())
}
