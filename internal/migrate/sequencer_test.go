package migrate

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GregdeFoy/Zettl/pkg/database"
	"github.com/GregdeFoy/Zettl/pkg/logger"
)

func stepIndex(t *testing.T, name string) int {
	t.Helper()
	for i, s := range steps {
		if s.name == name {
			return i
		}
	}
	t.Fatalf("step %q not found", name)
	return -1
}

func TestStepOrdering(t *testing.T) {
	// The conversion only works in this order; a reshuffle that still
	// compiles would corrupt a live migration.
	before := [][2]string{
		{"add nullable tenant_id columns", "backfill tenant_id on legacy rows"},
		{"backfill tenant_id on legacy rows", "set tenant_id NOT NULL"},
		{"drop foreign keys referencing single-column keys", "replace single-column primary keys with composite keys"},
		{"replace single-column primary keys with composite keys", "recreate foreign keys as composite, tenant-scoped"},
		{"replace single-column primary keys with composite keys", "create missing tenant-scoped tables"},
		{"install identity function and stamping triggers", "install row-level security policies"},
		{"install row-level security policies", "install derived views"},
	}
	for _, pair := range before {
		assert.Less(t, stepIndex(t, pair[0]), stepIndex(t, pair[1]),
			"%q must run before %q", pair[0], pair[1])
	}

	assert.Equal(t, "verify postconditions", steps[len(steps)-2].name)
	assert.Equal(t, "record migration version", steps[len(steps)-1].name)
}

// testDB connects to ZETTL_TEST_DATABASE_URL or skips. The connected role
// must own the schema (integration tests run against a throwaway database).
func testDB(t *testing.T) *database.PostgreSQL {
	t.Helper()
	url := os.Getenv("ZETTL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ZETTL_TEST_DATABASE_URL not set")
	}

	db, err := database.NewFromURL(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func testSequencer(db *database.PostgreSQL, bootstrap bool) *Sequencer {
	return New(db, database.PostgreSQLConfig{}, logger.New("migrate-test", "test"), Options{
		SkipBackup:      true,
		BootstrapTenant: bootstrap,
	})
}

func dropEverything(t *testing.T, db *database.PostgreSQL) {
	t.Helper()
	ctx := context.Background()
	_, err := db.Pool().Exec(ctx, `
		DROP VIEW IF EXISTS tag_counts, notes_with_tags CASCADE;
		DROP MATERIALIZED VIEW IF EXISTS tag_counts_data CASCADE;
		DROP TABLE IF EXISTS import_audit, schema_migrations, messages, conversations, tags, links, notes, tenants CASCADE;
	`)
	require.NoError(t, err)
}

func TestMigrateLegacyDatabase(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	dropEverything(t, db)

	// Single-tenant layout as the original deployment had it
	_, err := db.Pool().Exec(ctx, `
		CREATE TABLE notes (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			modified_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE links (
			source_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
			target_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
			context TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (source_id, target_id)
		);
		CREATE TABLE tags (
			note_id TEXT NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
			tag TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (note_id, tag)
		);
		CREATE INDEX idx_tags_tag ON tags (tag);

		INSERT INTO notes (id, content) VALUES ('21abc', 'first'), ('22def', 'second');
		INSERT INTO links (source_id, target_id) VALUES ('21abc', '22def');
		INSERT INTO tags (note_id, tag) VALUES ('21abc', 'project'), ('22def', 'project');
	`)
	require.NoError(t, err)

	t.Run("refuses backfill without a tenant", func(t *testing.T) {
		_, err := testSequencer(db, false).Run(ctx)
		require.ErrorIs(t, err, ErrNoDefaultTenant)

		// Rollback must leave the legacy layout untouched
		var count int
		require.NoError(t, db.Pool().QueryRow(ctx, "SELECT count(*) FROM notes").Scan(&count))
		assert.Equal(t, 2, count)
	})

	t.Run("converts with a bootstrap tenant", func(t *testing.T) {
		result, err := testSequencer(db, true).Run(ctx)
		require.NoError(t, err)
		assert.Len(t, result.Steps, len(steps))

		report, err := Verify(ctx, db.Pool())
		require.NoError(t, err)
		assert.True(t, report.Ok(), "failures: %v", report.Failures)

		var distinct int
		require.NoError(t, db.Pool().QueryRow(ctx,
			"SELECT count(DISTINCT tenant_id) FROM (SELECT tenant_id FROM notes UNION ALL SELECT tenant_id FROM links UNION ALL SELECT tenant_id FROM tags) rows",
		).Scan(&distinct))
		assert.Equal(t, 1, distinct, "all legacy rows belong to the one bootstrap tenant")
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		var before int
		require.NoError(t, db.Pool().QueryRow(ctx, "SELECT count(*) FROM notes").Scan(&before))

		_, err := testSequencer(db, true).Run(ctx)
		require.NoError(t, err)

		var after int
		require.NoError(t, db.Pool().QueryRow(ctx, "SELECT count(*) FROM notes").Scan(&after))
		assert.Equal(t, before, after)

		var tenants int
		require.NoError(t, db.Pool().QueryRow(ctx, "SELECT count(*) FROM tenants").Scan(&tenants))
		assert.Equal(t, 1, tenants, "re-run must not register another tenant")
	})
}

func TestMigrateFreshDatabase(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	dropEverything(t, db)

	result, err := testSequencer(db, false).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.BackupPath)

	report, err := Verify(ctx, db.Pool())
	require.NoError(t, err)
	assert.True(t, report.Ok(), "failures: %v", report.Failures)
}

func TestDryRunLeavesNoTrace(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	dropEverything(t, db)

	seq := New(db, database.PostgreSQLConfig{}, logger.New("migrate-test", "test"), Options{
		SkipBackup: true,
		DryRun:     true,
	})
	result, err := seq.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.DryRun)

	var exists bool
	require.NoError(t, db.Pool().QueryRow(ctx, "SELECT to_regclass('notes') IS NOT NULL").Scan(&exists))
	assert.False(t, exists, "dry run must roll back all DDL")
}
