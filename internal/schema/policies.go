package schema

// IdentityFunctions installs the session-identity plumbing: the tenant
// resolution function, the stamping trigger function and the modified_at
// touch function. All are CREATE OR REPLACE and safe to re-run.
const IdentityFunctions = `
-- =============================================================================
-- IDENTITY RESOLUTION
-- =============================================================================

-- Resolves the tenant id of the current session from the verified JWT claims
-- the connection layer injects (PostgREST convention), falling back to the
-- zettl.tenant_id setting for direct SQL sessions. Returns NULL when no
-- identity is present; callers fail closed on NULL.
CREATE OR REPLACE FUNCTION zettl_tenant_id()
RETURNS BIGINT AS $$
DECLARE
    claims JSONB;
    claim TEXT;
BEGIN
    BEGIN
        claims := NULLIF(current_setting('request.jwt.claims', true), '')::jsonb;
    EXCEPTION WHEN OTHERS THEN
        claims := NULL;
    END;

    IF claims IS NOT NULL THEN
        claim := claims->>'tenant_id';
    END IF;

    IF claim IS NULL THEN
        claim := NULLIF(current_setting('zettl.tenant_id', true), '');
    END IF;

    IF claim IS NULL OR claim !~ '^[0-9]+$' THEN
        RETURN NULL;
    END IF;

    RETURN claim::bigint;
END;
$$ LANGUAGE plpgsql STABLE;

-- =============================================================================
-- TENANT STAMPING
-- =============================================================================

-- Overwrites any client-supplied tenant_id with the resolved session identity.
-- The single enforcement point for ownership: no client library or HTTP layer
-- can forge another tenant's id through the normal write path. The maintenance
-- flag is the audited bulk-import bypass; it keeps the supplied tenant_id but
-- still refuses rows without one.
CREATE OR REPLACE FUNCTION zettl_stamp_tenant()
RETURNS TRIGGER AS $$
DECLARE
    resolved BIGINT;
BEGIN
    IF current_setting('zettl.maintenance', true) = 'on' THEN
        IF NEW.tenant_id IS NULL THEN
            RAISE EXCEPTION 'zettl: maintenance insert into % requires an explicit tenant_id', TG_TABLE_NAME
                USING ERRCODE = '28000';
        END IF;
        RETURN NEW;
    END IF;

    resolved := zettl_tenant_id();
    IF resolved IS NULL THEN
        RAISE EXCEPTION 'zettl: no tenant identity in session for insert into %', TG_TABLE_NAME
            USING ERRCODE = '28000';
    END IF;

    NEW.tenant_id := resolved;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

-- Keeps notes.modified_at current on every mutation
CREATE OR REPLACE FUNCTION zettl_touch_modified()
RETURNS TRIGGER AS $$
BEGIN
    NEW.modified_at := CURRENT_TIMESTAMP;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;
`

// TriggerDDL attaches the stamping trigger to every tenant-scoped table and
// the touch trigger to notes. DROP IF EXISTS + CREATE keeps re-runs no-ops.
const TriggerDDL = `
-- =============================================================================
-- TRIGGERS
-- =============================================================================

DROP TRIGGER IF EXISTS stamp_tenant ON notes;
CREATE TRIGGER stamp_tenant BEFORE INSERT ON notes
    FOR EACH ROW EXECUTE FUNCTION zettl_stamp_tenant();

DROP TRIGGER IF EXISTS stamp_tenant ON links;
CREATE TRIGGER stamp_tenant BEFORE INSERT ON links
    FOR EACH ROW EXECUTE FUNCTION zettl_stamp_tenant();

DROP TRIGGER IF EXISTS stamp_tenant ON tags;
CREATE TRIGGER stamp_tenant BEFORE INSERT ON tags
    FOR EACH ROW EXECUTE FUNCTION zettl_stamp_tenant();

DROP TRIGGER IF EXISTS stamp_tenant ON conversations;
CREATE TRIGGER stamp_tenant BEFORE INSERT ON conversations
    FOR EACH ROW EXECUTE FUNCTION zettl_stamp_tenant();

DROP TRIGGER IF EXISTS stamp_tenant ON messages;
CREATE TRIGGER stamp_tenant BEFORE INSERT ON messages
    FOR EACH ROW EXECUTE FUNCTION zettl_stamp_tenant();

DROP TRIGGER IF EXISTS touch_modified ON notes;
CREATE TRIGGER touch_modified BEFORE UPDATE ON notes
    FOR EACH ROW EXECUTE FUNCTION zettl_touch_modified();
`

// PolicyDDL enables row-level security and installs the per-table policies.
// The isolation policy covers SELECT/INSERT/UPDATE/DELETE for the
// authenticated role; the maintenance policy opens the bulk-import path.
// Table owners are deliberately left exempt (no FORCE) so the materialized
// aggregate refresh can see every tenant's rows.
const PolicyDDL = `
-- =============================================================================
-- ROW LEVEL SECURITY
-- =============================================================================

ALTER TABLE notes ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS tenant_isolation ON notes;
CREATE POLICY tenant_isolation ON notes
    FOR ALL TO zettl_authenticated
    USING (tenant_id = zettl_tenant_id())
    WITH CHECK (tenant_id = zettl_tenant_id());
DROP POLICY IF EXISTS maintenance_access ON notes;
CREATE POLICY maintenance_access ON notes
    FOR ALL TO zettl_maintenance
    USING (true)
    WITH CHECK (true);

ALTER TABLE links ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS tenant_isolation ON links;
CREATE POLICY tenant_isolation ON links
    FOR ALL TO zettl_authenticated
    USING (tenant_id = zettl_tenant_id())
    WITH CHECK (tenant_id = zettl_tenant_id());
DROP POLICY IF EXISTS maintenance_access ON links;
CREATE POLICY maintenance_access ON links
    FOR ALL TO zettl_maintenance
    USING (true)
    WITH CHECK (true);

ALTER TABLE tags ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS tenant_isolation ON tags;
CREATE POLICY tenant_isolation ON tags
    FOR ALL TO zettl_authenticated
    USING (tenant_id = zettl_tenant_id())
    WITH CHECK (tenant_id = zettl_tenant_id());
DROP POLICY IF EXISTS maintenance_access ON tags;
CREATE POLICY maintenance_access ON tags
    FOR ALL TO zettl_maintenance
    USING (true)
    WITH CHECK (true);

ALTER TABLE conversations ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS tenant_isolation ON conversations;
CREATE POLICY tenant_isolation ON conversations
    FOR ALL TO zettl_authenticated
    USING (tenant_id = zettl_tenant_id())
    WITH CHECK (tenant_id = zettl_tenant_id());
DROP POLICY IF EXISTS maintenance_access ON conversations;
CREATE POLICY maintenance_access ON conversations
    FOR ALL TO zettl_maintenance
    USING (true)
    WITH CHECK (true);

ALTER TABLE messages ENABLE ROW LEVEL SECURITY;
DROP POLICY IF EXISTS tenant_isolation ON messages;
CREATE POLICY tenant_isolation ON messages
    FOR ALL TO zettl_authenticated
    USING (tenant_id = zettl_tenant_id())
    WITH CHECK (tenant_id = zettl_tenant_id());
DROP POLICY IF EXISTS maintenance_access ON messages;
CREATE POLICY maintenance_access ON messages
    FOR ALL TO zettl_maintenance
    USING (true)
    WITH CHECK (true);
`
