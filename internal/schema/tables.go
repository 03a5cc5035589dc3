package schema

// TenantScopedTables lists every table that carries a tenant_id column, a
// stamping trigger and RLS policies. Order matters for the migration
// sequencer: parents before children so composite keys exist before the
// foreign keys that reference them.
var TenantScopedTables = []string{
	"notes",
	"links",
	"tags",
	"conversations",
	"messages",
}

// LocalKeyColumns maps each tenant-scoped table to the columns of its
// pre-migration single-column primary key and its post-migration composite
// primary key (tenant_id first).
var LocalKeyColumns = map[string][]string{
	"notes":         {"id"},
	"links":         {"source_id", "target_id"},
	"tags":          {"note_id", "tag"},
	"conversations": {"id"},
	"messages":      {"id"},
}

// Expected policy names per tenant-scoped table, checked by migration
// verification.
var PolicyNames = []string{
	"tenant_isolation",
	"maintenance_access",
}

// StampTriggerName is the before-insert trigger installed on every
// tenant-scoped table.
const StampTriggerName = "stamp_tenant"

// IdentityFunctionName is the SQL function that resolves the session tenant.
const IdentityFunctionName = "zettl_tenant_id"

// Derived view objects.
const (
	NotesWithTagsView = "notes_with_tags"
	TagCountsMatView  = "tag_counts_data"
	TagCountsView     = "tag_counts"
	AuthenticatedRole = "zettl_authenticated"
	AnonymousRole     = "zettl_anon"
	MaintenanceRole   = "zettl_maintenance"
)
