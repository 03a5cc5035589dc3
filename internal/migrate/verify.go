package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/GregdeFoy/Zettl/internal/schema"
)

// Report is the outcome of postcondition verification. Every failed check is
// listed; a migration never commits on a non-empty failure list.
type Report struct {
	Checks   int
	Failures []string
}

// Ok reports whether every check passed
func (r *Report) Ok() bool {
	return len(r.Failures) == 0
}

func (r *Report) check(ok bool, format string, args ...interface{}) {
	r.Checks++
	if !ok {
		r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
	}
}

// querier is satisfied by both pgx.Tx and *pgxpool.Pool, so verification can
// run inside the migration transaction and as a standalone health probe.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Verify checks the full set of schema postconditions against a live
// connection outside any migration.
func Verify(ctx context.Context, q querier) (*Report, error) {
	return verify(ctx, q)
}

// VerifyTx checks the postconditions inside the migration transaction, where
// all DDL of the run is already visible.
func VerifyTx(ctx context.Context, tx pgx.Tx) (*Report, error) {
	return verify(ctx, tx)
}

func verify(ctx context.Context, q querier) (*Report, error) {
	report := &Report{}

	for _, table := range schema.TenantScopedTables {
		var notNull bool
		err := q.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM information_schema.columns
				WHERE table_schema = 'public' AND table_name = $1
				  AND column_name = 'tenant_id' AND is_nullable = 'NO'
			)
		`, table).Scan(&notNull)
		if err != nil {
			return nil, fmt.Errorf("failed to verify tenant_id column on %s: %w", table, err)
		}
		report.check(notNull, "%s: tenant_id column missing or nullable", table)

		var rlsEnabled bool
		err = q.QueryRow(ctx, "SELECT relrowsecurity FROM pg_class WHERE oid = $1::regclass", table).Scan(&rlsEnabled)
		if err != nil {
			return nil, fmt.Errorf("failed to verify row security on %s: %w", table, err)
		}
		report.check(rlsEnabled, "%s: row-level security not enabled", table)

		for _, policy := range schema.PolicyNames {
			var policyExists bool
			err = q.QueryRow(ctx, `
				SELECT EXISTS(
					SELECT 1 FROM pg_policies
					WHERE schemaname = 'public' AND tablename = $1 AND policyname = $2
				)
			`, table, policy).Scan(&policyExists)
			if err != nil {
				return nil, fmt.Errorf("failed to verify policy %s on %s: %w", policy, table, err)
			}
			report.check(policyExists, "%s: policy %s missing", table, policy)
		}

		var triggerExists bool
		err = q.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM pg_trigger
				WHERE tgrelid = $1::regclass AND tgname = $2 AND NOT tgisinternal
			)
		`, table, schema.StampTriggerName).Scan(&triggerExists)
		if err != nil {
			return nil, fmt.Errorf("failed to verify stamping trigger on %s: %w", table, err)
		}
		report.check(triggerExists, "%s: trigger %s missing", table, schema.StampTriggerName)

		composite, err := primaryKeyHasTenant(ctx, q, table)
		if err != nil {
			return nil, err
		}
		report.check(composite, "%s: primary key does not include tenant_id", table)

		var orphans int64
		err = q.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s WHERE tenant_id IS NULL", table)).Scan(&orphans)
		if err != nil {
			return nil, fmt.Errorf("failed to count unassigned rows in %s: %w", table, err)
		}
		report.check(orphans == 0, "%s: %d rows without a tenant_id", table, orphans)
	}

	var fnExists bool
	err := q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_proc WHERE proname = $1)", schema.IdentityFunctionName).Scan(&fnExists)
	if err != nil {
		return nil, fmt.Errorf("failed to verify identity function: %w", err)
	}
	report.check(fnExists, "identity function %s missing", schema.IdentityFunctionName)

	var viewOwner string
	err = q.QueryRow(ctx, "SELECT viewowner FROM pg_views WHERE schemaname = 'public' AND viewname = $1", schema.NotesWithTagsView).Scan(&viewOwner)
	if errors.Is(err, pgx.ErrNoRows) {
		report.check(false, "view %s missing", schema.NotesWithTagsView)
	} else if err != nil {
		return nil, fmt.Errorf("failed to verify view %s: %w", schema.NotesWithTagsView, err)
	} else {
		// An owner with table privileges would evaluate the base-table
		// policies with its own exemptions and leak other tenants' rows.
		report.check(viewOwner == schema.AuthenticatedRole,
			"view %s owned by %s, want %s", schema.NotesWithTagsView, viewOwner, schema.AuthenticatedRole)
	}

	var matviewExists bool
	err = q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_matviews WHERE schemaname = 'public' AND matviewname = $1)", schema.TagCountsMatView).Scan(&matviewExists)
	if err != nil {
		return nil, fmt.Errorf("failed to verify materialized view: %w", err)
	}
	report.check(matviewExists, "materialized view %s missing", schema.TagCountsMatView)

	var filteredExists bool
	err = q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_views WHERE schemaname = 'public' AND viewname = $1)", schema.TagCountsView).Scan(&filteredExists)
	if err != nil {
		return nil, fmt.Errorf("failed to verify view %s: %w", schema.TagCountsView, err)
	}
	report.check(filteredExists, "view %s missing", schema.TagCountsView)

	for _, role := range []string{schema.AnonymousRole, schema.AuthenticatedRole, schema.MaintenanceRole} {
		var roleExists bool
		err = q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_roles WHERE rolname = $1)", role).Scan(&roleExists)
		if err != nil {
			return nil, fmt.Errorf("failed to verify role %s: %w", role, err)
		}
		report.check(roleExists, "role %s missing", role)
	}

	return report, nil
}

func primaryKeyHasTenant(ctx context.Context, q querier, table string) (bool, error) {
	var includes bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM pg_constraint c
			JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = ANY (c.conkey)
			WHERE c.conrelid = $1::regclass AND c.contype = 'p' AND a.attname = 'tenant_id'
		)
	`, table).Scan(&includes)
	if err != nil {
		return false, fmt.Errorf("failed to inspect primary key of %s: %w", table, err)
	}
	return includes, nil
}
