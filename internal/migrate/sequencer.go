package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/GregdeFoy/Zettl/internal/schema"
	"github.com/GregdeFoy/Zettl/pkg/database"
	"github.com/GregdeFoy/Zettl/pkg/logger"
)

// Version recorded in schema_migrations once the multi-tenant layout is in place
const Version = "0002_multitenant_rls"

// ErrNoDefaultTenant is returned when legacy rows need a tenant backfill but
// the tenants table is empty. Assigning rows to a tenant is a one-time
// business decision; the sequencer refuses to invent one.
var ErrNoDefaultTenant = errors.New("migrate: no tenant available for backfill")

// Options controls a sequencer run
type Options struct {
	// SkipBackup disables the mandatory pre-migration pg_dump. Only for
	// throwaway databases; the rollback path is "restore the backup".
	SkipBackup bool
	// DryRun executes the full sequence inside the transaction and then
	// rolls it back instead of committing.
	DryRun bool
	// BackupDir is where the pre-migration dump is written. Defaults to the
	// current working directory.
	BackupDir string
	// BootstrapTenant registers an initial tenant when legacy rows need a
	// backfill and the registry is empty. Without it the run aborts, since
	// the registry is created in the same transaction and an abort rolls it
	// back too; there is no way to pre-create the tenant on a legacy
	// database.
	BootstrapTenant bool
}

// Result describes a completed run
type Result struct {
	RunID      uuid.UUID
	BackupPath string
	Steps      []string
	DryRun     bool
}

// Sequencer converts a single-tenant schema into the composite-key + RLS
// layout, or installs the layout from scratch on an empty database. Every
// step probes the catalog before acting, so a re-run is a no-op.
type Sequencer struct {
	db     *database.PostgreSQL
	creds  database.PostgreSQLConfig
	logger *logger.Logger
	opts   Options
}

// New creates a sequencer. The connection must belong to the schema-owning
// role; the DDL-heavy steps need exclusive schema access (maintenance window).
func New(db *database.PostgreSQL, creds database.PostgreSQLConfig, log *logger.Logger, opts Options) *Sequencer {
	return &Sequencer{
		db:     db,
		creds:  creds,
		logger: log,
		opts:   opts,
	}
}

type step struct {
	name string
	run  func(ctx context.Context, tx pgx.Tx, s *Sequencer) error
}

// The ordering below is load-bearing: columns before backfill, backfill
// before NOT NULL, foreign keys dropped before the primary keys they depend
// on, composite primary keys before the composite foreign keys that
// reference them, and verification last.
var steps = []step{
	{"create client roles", stepRoles},
	{"create tenant registry and bookkeeping tables", stepTenantRegistry},
	{"add nullable tenant_id columns", stepAddTenantColumns},
	{"backfill tenant_id on legacy rows", stepBackfill},
	{"set tenant_id NOT NULL", stepSetNotNull},
	{"drop foreign keys referencing single-column keys", stepDropLegacyForeignKeys},
	{"replace single-column primary keys with composite keys", stepCompositePrimaryKeys},
	{"create missing tenant-scoped tables", stepCreateMissingTables},
	{"recreate foreign keys as composite, tenant-scoped", stepCompositeForeignKeys},
	{"rebuild indexes tenant-first", stepRebuildIndexes},
	{"install identity function and stamping triggers", stepIdentityAndTriggers},
	{"install row-level security policies", stepPolicies},
	{"install derived views", stepViews},
	{"verify postconditions", stepVerify},
	{"record migration version", stepRecordVersion},
}

// Run executes the whole sequence in one transaction. Any failure, including
// a verification failure, rolls everything back; the database is never left
// partially migrated.
func (s *Sequencer) Run(ctx context.Context) (*Result, error) {
	result := &Result{
		RunID:  uuid.New(),
		DryRun: s.opts.DryRun,
	}

	s.logger.Infof("Starting migration run %s (version %s)", result.RunID, Version)

	if s.opts.SkipBackup {
		s.logger.Warn("Pre-migration backup skipped by explicit request")
	} else {
		path, err := s.backup(ctx, result.RunID)
		if err != nil {
			return nil, fmt.Errorf("pre-migration backup failed: %w", err)
		}
		result.BackupPath = path
		s.logger.Infof("Pre-migration backup written to %s", path)
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, st := range steps {
		s.logger.Infof("Migration step: %s", st.name)
		if err := st.run(ctx, tx, s); err != nil {
			s.logger.Errorf("Migration step failed: %s: %v", st.name, err)
			return nil, fmt.Errorf("migration step %q failed: %w", st.name, err)
		}
		result.Steps = append(result.Steps, st.name)
	}

	if s.opts.DryRun {
		s.logger.Warn("Dry run requested, rolling back the migration transaction")
		if err := tx.Rollback(ctx); err != nil {
			return nil, fmt.Errorf("failed to roll back dry run: %w", err)
		}
		return result, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	s.logger.Infof("Migration run %s completed successfully", result.RunID)
	return result, nil
}

// RunWith executes the sequence with per-run overrides layered on the
// sequencer's standing options. Used by the admin endpoint, where skip-backup
// and dry-run arrive with the request.
func (s *Sequencer) RunWith(ctx context.Context, override Options) (*Result, error) {
	seq := *s
	seq.opts.SkipBackup = s.opts.SkipBackup || override.SkipBackup
	seq.opts.DryRun = s.opts.DryRun || override.DryRun
	seq.opts.BootstrapTenant = s.opts.BootstrapTenant || override.BootstrapTenant
	if override.BackupDir != "" {
		seq.opts.BackupDir = override.BackupDir
	}
	return seq.Run(ctx)
}

// Verify runs the postcondition checks against the live database without
// opening a migration transaction.
func (s *Sequencer) Verify(ctx context.Context) (*Report, error) {
	return verify(ctx, s.db.Pool())
}

func stepRoles(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	_, err := tx.Exec(ctx, schema.DatabaseRoles)
	return err
}

func stepTenantRegistry(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	_, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			tenant_id BIGSERIAL PRIMARY KEY,
			created TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

func stepAddTenantColumns(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	for _, table := range schema.TenantScopedTables {
		exists, err := tableExists(ctx, tx, table)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}

		hasColumn, err := columnExists(ctx, tx, table, "tenant_id")
		if err != nil {
			return err
		}
		if hasColumn {
			s.logger.Infof("Table %s already has a tenant_id column, skipping", table)
			continue
		}

		// Nullable first so existing rows stay valid until the backfill lands
		if _, err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN tenant_id BIGINT", table)); err != nil {
			return fmt.Errorf("failed to add tenant_id to %s: %w", table, err)
		}
		s.logger.Infof("Added nullable tenant_id column to %s", table)
	}
	return nil
}

func stepBackfill(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	var defaultTenant int64
	haveDefault := false

	for _, table := range schema.TenantScopedTables {
		exists, err := tableExists(ctx, tx, table)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}

		var pending int64
		if err := tx.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s WHERE tenant_id IS NULL", table)).Scan(&pending); err != nil {
			return fmt.Errorf("failed to count unassigned rows in %s: %w", table, err)
		}
		if pending == 0 {
			continue
		}

		if !haveDefault {
			// The earliest-created tenant inherits all pre-tenancy data.
			// A one-time, explicit decision; logged so operators can audit it.
			err := tx.QueryRow(ctx, "SELECT tenant_id FROM tenants ORDER BY created, tenant_id LIMIT 1").Scan(&defaultTenant)
			if errors.Is(err, pgx.ErrNoRows) {
				if !s.opts.BootstrapTenant {
					return ErrNoDefaultTenant
				}
				if err := tx.QueryRow(ctx, "INSERT INTO tenants DEFAULT VALUES RETURNING tenant_id").Scan(&defaultTenant); err != nil {
					return fmt.Errorf("failed to bootstrap initial tenant: %w", err)
				}
				s.logger.Warnf("Registered bootstrap tenant %d for the legacy data", defaultTenant)
			} else if err != nil {
				return fmt.Errorf("failed to select default tenant: %w", err)
			}
			haveDefault = true
			s.logger.Warnf("Backfilling legacy rows to earliest-created tenant %d", defaultTenant)
		}

		tag, err := tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET tenant_id = $1 WHERE tenant_id IS NULL", table), defaultTenant)
		if err != nil {
			return fmt.Errorf("failed to backfill %s: %w", table, err)
		}
		s.logger.Infof("Backfilled %d rows in %s to tenant %d", tag.RowsAffected(), table, defaultTenant)
	}
	return nil
}

func stepSetNotNull(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	for _, table := range schema.TenantScopedTables {
		exists, err := tableExists(ctx, tx, table)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}

		nullable, err := columnNullable(ctx, tx, table, "tenant_id")
		if err != nil {
			return err
		}
		if !nullable {
			continue
		}

		if _, err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN tenant_id SET NOT NULL", table)); err != nil {
			return fmt.Errorf("failed to set %s.tenant_id NOT NULL: %w", table, err)
		}
		s.logger.Infof("Set %s.tenant_id NOT NULL", table)
	}
	return nil
}

func stepDropLegacyForeignKeys(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	// Foreign keys must go before the primary keys they depend on;
	// Postgres refuses to drop a primary key that is still referenced.
	for _, table := range schema.TenantScopedTables {
		exists, err := tableExists(ctx, tx, table)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}

		rows, err := tx.Query(ctx, `
			SELECT c.conname
			FROM pg_constraint c
			WHERE c.contype = 'f'
			  AND c.conrelid = $1::regclass
			  AND NOT EXISTS (
				SELECT 1 FROM pg_attribute a
				WHERE a.attrelid = c.conrelid
				  AND a.attnum = ANY (c.conkey)
				  AND a.attname = 'tenant_id'
			  )
		`, table)
		if err != nil {
			return fmt.Errorf("failed to list legacy foreign keys on %s: %w", table, err)
		}

		var names []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return err
			}
			names = append(names, name)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, name := range names {
			if _, err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table, pgx.Identifier{name}.Sanitize())); err != nil {
				return fmt.Errorf("failed to drop foreign key %s on %s: %w", name, table, err)
			}
			s.logger.Infof("Dropped legacy foreign key %s on %s", name, table)
		}
	}
	return nil
}

func stepCompositePrimaryKeys(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	for _, table := range schema.TenantScopedTables {
		exists, err := tableExists(ctx, tx, table)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}

		composite, err := primaryKeyHasTenant(ctx, tx, table)
		if err != nil {
			return err
		}
		if composite {
			s.logger.Infof("Table %s already has a composite primary key, skipping", table)
			continue
		}

		var pkName *string
		err = tx.QueryRow(ctx, "SELECT conname FROM pg_constraint WHERE conrelid = $1::regclass AND contype = 'p'", table).Scan(&pkName)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to look up primary key of %s: %w", table, err)
		}
		if pkName != nil {
			if _, err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", table, pgx.Identifier{*pkName}.Sanitize())); err != nil {
				return fmt.Errorf("failed to drop primary key %s on %s: %w", *pkName, table, err)
			}
		}

		cols := "tenant_id"
		for _, c := range schema.LocalKeyColumns[table] {
			cols += ", " + c
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", table, cols)); err != nil {
			return fmt.Errorf("failed to create composite primary key on %s: %w", table, err)
		}
		s.logger.Infof("Created composite primary key (%s) on %s", cols, table)
	}
	return nil
}

func stepCreateMissingTables(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	// CREATE TABLE IF NOT EXISTS throughout: converted tables are untouched,
	// tables the legacy schema never had come up in final form.
	_, err := tx.Exec(ctx, schema.DatabaseSchema)
	return err
}

type foreignKeyDef struct {
	table    string
	name     string
	columns  []string
	refTable string
	refCols  []string
}

var compositeForeignKeys = []foreignKeyDef{
	{"notes", "notes_tenant_fkey", []string{"tenant_id"}, "tenants", []string{"tenant_id"}},
	{"links", "links_tenant_fkey", []string{"tenant_id"}, "tenants", []string{"tenant_id"}},
	{"links", "links_source_fkey", []string{"tenant_id", "source_id"}, "notes", []string{"tenant_id", "id"}},
	{"links", "links_target_fkey", []string{"tenant_id", "target_id"}, "notes", []string{"tenant_id", "id"}},
	{"tags", "tags_tenant_fkey", []string{"tenant_id"}, "tenants", []string{"tenant_id"}},
	{"tags", "tags_note_fkey", []string{"tenant_id", "note_id"}, "notes", []string{"tenant_id", "id"}},
	{"conversations", "conversations_tenant_fkey", []string{"tenant_id"}, "tenants", []string{"tenant_id"}},
	{"messages", "messages_tenant_fkey", []string{"tenant_id"}, "tenants", []string{"tenant_id"}},
	{"messages", "messages_conversation_fkey", []string{"tenant_id", "conversation_id"}, "conversations", []string{"tenant_id", "id"}},
}

func stepCompositeForeignKeys(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	for _, fk := range compositeForeignKeys {
		// Probe by column set, not by name: freshly created tables carry
		// equivalent inline constraints under auto-generated names.
		exists, err := equivalentForeignKeyExists(ctx, tx, fk)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		// Same-tenant linkage is enforced by the database itself: the
		// composite reference cannot resolve across tenants.
		stmt := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE CASCADE",
			fk.table, fk.name, strings.Join(fk.columns, ", "), fk.refTable, strings.Join(fk.refCols, ", "))
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create foreign key %s on %s: %w", fk.name, fk.table, err)
		}
		s.logger.Infof("Created composite foreign key %s on %s", fk.name, fk.table)
	}
	return nil
}

func equivalentForeignKeyExists(ctx context.Context, tx pgx.Tx, fk foreignKeyDef) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM pg_constraint c
			WHERE c.contype = 'f'
			  AND c.conrelid = $1::regclass
			  AND c.confrelid = $2::regclass
			  AND (
				SELECT array_agg(a.attname::text ORDER BY k.ord)
				FROM unnest(c.conkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = k.attnum
			  ) = $3::text[]
		)
	`, fk.table, fk.refTable, fk.columns).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check foreign keys on %s: %w", fk.table, err)
	}
	return exists, nil
}

func stepRebuildIndexes(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	for _, table := range schema.TenantScopedTables {
		rows, err := tx.Query(ctx, `
			SELECT i.indexrelid::regclass::text
			FROM pg_index i
			LEFT JOIN pg_constraint c ON c.conindid = i.indexrelid
			WHERE i.indrelid = $1::regclass
			  AND c.oid IS NULL
			  AND (
				SELECT a.attname FROM pg_attribute a
				WHERE a.attrelid = i.indrelid AND a.attnum = i.indkey[0]
			  ) <> 'tenant_id'
		`, table)
		if err != nil {
			return fmt.Errorf("failed to list legacy indexes on %s: %w", table, err)
		}

		var names []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return err
			}
			names = append(names, name)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, name := range names {
			if _, err := tx.Exec(ctx, "DROP INDEX "+name); err != nil {
				return fmt.Errorf("failed to drop legacy index %s: %w", name, err)
			}
			s.logger.Infof("Dropped legacy index %s on %s", name, table)
		}
	}

	_, err := tx.Exec(ctx, schema.DatabaseIndexes)
	return err
}

func stepIdentityAndTriggers(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	if _, err := tx.Exec(ctx, schema.IdentityFunctions); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, schema.TriggerDDL)
	return err
}

func stepPolicies(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	_, err := tx.Exec(ctx, schema.PolicyDDL)
	return err
}

func stepViews(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	_, err := tx.Exec(ctx, schema.ViewDDL)
	return err
}

func stepVerify(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	report, err := VerifyTx(ctx, tx)
	if err != nil {
		return err
	}
	if !report.Ok() {
		// A failed postcondition is fatal, never a soft warning: the
		// deferred rollback leaves the schema exactly as it was.
		return fmt.Errorf("postcondition verification failed: %v", report.Failures)
	}
	return nil
}

func stepRecordVersion(ctx context.Context, tx pgx.Tx, s *Sequencer) error {
	_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING", Version)
	return err
}

func tableExists(ctx context.Context, tx pgx.Tx, table string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check if table %s exists: %w", table, err)
	}
	return exists, nil
}

func columnExists(ctx context.Context, tx pgx.Tx, table, column string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
		)
	`, table, column).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check column %s.%s: %w", table, column, err)
	}
	return exists, nil
}

func columnNullable(ctx context.Context, tx pgx.Tx, table, column string) (bool, error) {
	var nullable string
	err := tx.QueryRow(ctx, `
		SELECT is_nullable FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
	`, table, column).Scan(&nullable)
	if err != nil {
		return false, fmt.Errorf("failed to check nullability of %s.%s: %w", table, column, err)
	}
	return nullable == "YES", nil
}

