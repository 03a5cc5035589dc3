package schema

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The DDL consts are plain strings, so these tests guard the structural
// properties the runtime depends on: every tenant-scoped table must carry
// the trigger and both policies, and no derived object may end up owned by
// the table owner.

func TestEveryTenantScopedTableIsCovered(t *testing.T) {
	for _, table := range TenantScopedTables {
		t.Run(table, func(t *testing.T) {
			assert.Contains(t, DatabaseSchema, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s", table))
			assert.Contains(t, DatabaseSchema, "PRIMARY KEY (tenant_id, ",
				"composite primary key must lead with tenant_id")

			assert.Contains(t, TriggerDDL, fmt.Sprintf("CREATE TRIGGER %s BEFORE INSERT ON %s", StampTriggerName, table))
			assert.Contains(t, PolicyDDL, fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", table))
			for _, policy := range PolicyNames {
				assert.Contains(t, PolicyDDL, fmt.Sprintf("CREATE POLICY %s ON %s", policy, table))
			}

			_, hasLocalKey := LocalKeyColumns[table]
			assert.True(t, hasLocalKey, "table must declare its local key columns for the migration")
		})
	}
}

func TestIndexesLeadWithTenantID(t *testing.T) {
	for _, line := range strings.Split(DatabaseIndexes, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "CREATE") {
			continue
		}
		assert.Contains(t, line, "(tenant_id", "index must lead with tenant_id: %s", line)
	}
}

func TestViewOwnership(t *testing.T) {
	// The join view must be owned by the client role; any other owner
	// evaluates the base-table policies with its own privileges and leaks
	// rows across tenants.
	assert.Contains(t, ViewDDL, fmt.Sprintf("ALTER VIEW %s OWNER TO %s", NotesWithTagsView, AuthenticatedRole))
	assert.Contains(t, ViewDDL, "security_barrier = true")

	// Clients never touch the materialized view directly; only the filtered
	// wrapper is granted.
	assert.NotContains(t, ViewDDL, fmt.Sprintf("GRANT SELECT ON %s", TagCountsMatView))
	assert.Contains(t, ViewDDL, fmt.Sprintf("GRANT SELECT ON %s TO %s", TagCountsView, AuthenticatedRole))
	assert.Contains(t, ViewDDL, fmt.Sprintf("WHERE tenant_id = %s()", IdentityFunctionName))
}

func TestStampingTriggerFailsClosed(t *testing.T) {
	assert.Contains(t, IdentityFunctions, "ERRCODE = '28000'")
	assert.Contains(t, IdentityFunctions, "NEW.tenant_id := resolved")
	assert.Contains(t, IdentityFunctions, "zettl.maintenance")
}

func TestRolesAreGuarded(t *testing.T) {
	for _, role := range []string{AnonymousRole, AuthenticatedRole, MaintenanceRole} {
		assert.Contains(t, DatabaseRoles, fmt.Sprintf("rolname = '%s'", role),
			"role creation must probe pg_roles first")
	}
	// The anonymous role gets no grants on tenant-scoped objects
	assert.NotContains(t, DatabaseRoles, "TO zettl_anon")
}
