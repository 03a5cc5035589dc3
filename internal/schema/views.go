package schema

// ViewDDL installs the derived view layer.
//
// notes_with_tags is a live join view owned by zettl_authenticated: the base
// table policies are evaluated with the view owner's privileges, so the view
// must never be owned by the table owner or a superuser. A privileged owner
// silently defeats every policy no matter how the predicate is written.
//
// tag_counts_data is a materialized aggregate refreshed out of band; Postgres
// cannot attach RLS to a materialized view, so it stays owned by the
// migration role and is never granted to clients. tag_counts is the only
// aggregate object clients can read and filters on zettl_tenant_id().
const ViewDDL = `
-- =============================================================================
-- DERIVED VIEWS
-- =============================================================================

CREATE OR REPLACE VIEW notes_with_tags WITH (security_barrier = true) AS
SELECT
    n.tenant_id,
    n.id,
    n.content,
    n.created_at,
    n.modified_at,
    COALESCE(array_agg(t.tag ORDER BY t.tag) FILTER (WHERE t.tag IS NOT NULL), '{}') AS tags
FROM notes n
LEFT JOIN tags t ON t.tenant_id = n.tenant_id AND t.note_id = n.id
GROUP BY n.tenant_id, n.id, n.content, n.created_at, n.modified_at;

ALTER VIEW notes_with_tags OWNER TO zettl_authenticated;
GRANT SELECT ON notes_with_tags TO zettl_authenticated;

-- =============================================================================
-- MATERIALIZED TAG AGGREGATE
-- =============================================================================

CREATE MATERIALIZED VIEW IF NOT EXISTS tag_counts_data AS
SELECT tenant_id, tag, count(*)::bigint AS note_count
FROM tags
GROUP BY tenant_id, tag
WITH DATA;

-- Unique index enables REFRESH MATERIALIZED VIEW CONCURRENTLY
CREATE UNIQUE INDEX IF NOT EXISTS idx_tag_counts_data_tenant_tag
    ON tag_counts_data (tenant_id, tag);

CREATE OR REPLACE VIEW tag_counts WITH (security_barrier = true) AS
SELECT tenant_id, tag, note_count
FROM tag_counts_data
WHERE tenant_id = zettl_tenant_id();

GRANT SELECT ON tag_counts TO zettl_authenticated;
`

// RefreshTagCounts rebuilds the materialized aggregate without blocking
// concurrent readers. Requires the unique (tenant_id, tag) index.
const RefreshTagCounts = `REFRESH MATERIALIZED VIEW CONCURRENTLY tag_counts_data`

// RefreshTagCountsBlocking is the fallback when the unique index is missing.
// It takes an exclusive lock for the duration of the rebuild, so it is only
// used when the concurrent variant cannot run.
const RefreshTagCountsBlocking = `REFRESH MATERIALIZED VIEW tag_counts_data`
