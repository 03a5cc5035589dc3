package schema

// DatabaseSchema contains the complete Zettl tenant-scoped schema.
// This is embedded directly in the code to avoid security risks of external SQL files.
// Every tenant-scoped table carries a composite primary key (tenant_id, local id)
// so a cross-tenant reference is structurally unrepresentable.
const DatabaseSchema = `
-- =============================================================================
-- TENANT REGISTRY
-- =============================================================================

-- Tenant lifecycle is owned by the auth service; this subsystem only scopes by it
CREATE TABLE IF NOT EXISTS tenants (
    tenant_id BIGSERIAL PRIMARY KEY,
    created TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- =============================================================================
-- NOTE GRAPH
-- =============================================================================

-- Notes: id is a short human-assigned string, unique per tenant only
CREATE TABLE IF NOT EXISTS notes (
    tenant_id BIGINT NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
    id TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    modified_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant_id, id)
);

-- Directed note-to-note edges; composite FKs keep both endpoints in one tenant
CREATE TABLE IF NOT EXISTS links (
    tenant_id BIGINT NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    context TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant_id, source_id, target_id),
    FOREIGN KEY (tenant_id, source_id) REFERENCES notes(tenant_id, id) ON DELETE CASCADE,
    FOREIGN KEY (tenant_id, target_id) REFERENCES notes(tenant_id, id) ON DELETE CASCADE
);

-- Tag assignments, many-to-many between notes and tag strings
CREATE TABLE IF NOT EXISTS tags (
    tenant_id BIGINT NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
    note_id TEXT NOT NULL,
    tag TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant_id, note_id, tag),
    FOREIGN KEY (tenant_id, note_id) REFERENCES notes(tenant_id, id) ON DELETE CASCADE
);

-- =============================================================================
-- CHAT SUBSYSTEM
-- =============================================================================

CREATE TABLE IF NOT EXISTS conversations (
    tenant_id BIGINT NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
    id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT 'New Conversation',
    context_note_ids TEXT[] NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS messages (
    tenant_id BIGINT NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
    id TEXT NOT NULL,
    conversation_id TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
    content TEXT NOT NULL DEFAULT '',
    tool_calls JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant_id, id),
    FOREIGN KEY (tenant_id, conversation_id) REFERENCES conversations(tenant_id, id) ON DELETE CASCADE
);

-- =============================================================================
-- ADMINISTRATIVE BOOKKEEPING
-- =============================================================================

-- Audit trail for the maintenance bulk-import bypass
CREATE TABLE IF NOT EXISTS import_audit (
    import_id UUID NOT NULL,
    tenant_id BIGINT NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
    table_name TEXT NOT NULL,
    row_count INTEGER NOT NULL DEFAULT 0,
    actor TEXT NOT NULL DEFAULT '',
    created TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (import_id, table_name)
);

-- Migration sequencer bookkeeping
CREATE TABLE IF NOT EXISTS schema_migrations (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DatabaseIndexes contains all secondary indexes. Every index leads with
// tenant_id so scans stay inside one tenant even when local ids collide
// across tenants.
const DatabaseIndexes = `
-- =============================================================================
-- INDEXES
-- =============================================================================

CREATE INDEX IF NOT EXISTS idx_notes_tenant_created ON notes (tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_tags_tenant_tag ON tags (tenant_id, tag);
CREATE INDEX IF NOT EXISTS idx_links_tenant_target ON links (tenant_id, target_id);
CREATE INDEX IF NOT EXISTS idx_conversations_tenant_updated ON conversations (tenant_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_tenant_conversation ON messages (tenant_id, conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_import_audit_tenant ON import_audit (tenant_id, created DESC);
`

// DatabaseRoles creates the client roles. CREATE ROLE has no IF NOT EXISTS,
// so each one is guarded by a catalog probe; safe on shared clusters where
// another database already created them.
const DatabaseRoles = `
-- =============================================================================
-- CLIENT ROLES
-- =============================================================================

-- Anonymous role: zero grants on tenant-scoped objects
DO $$ BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'zettl_anon') THEN
        CREATE ROLE zettl_anon NOLOGIN;
    END IF;
END $$;

-- Authenticated role: every statement mediated by the RLS policies
DO $$ BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'zettl_authenticated') THEN
        CREATE ROLE zettl_authenticated NOLOGIN;
    END IF;
END $$;

-- Maintenance role: audited bulk-import path only
DO $$ BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = 'zettl_maintenance') THEN
        CREATE ROLE zettl_maintenance NOLOGIN;
    END IF;
END $$;

GRANT USAGE ON SCHEMA public TO zettl_authenticated, zettl_maintenance;
GRANT SELECT, INSERT, UPDATE, DELETE ON notes, links, tags, conversations, messages
    TO zettl_authenticated, zettl_maintenance;
GRANT INSERT, SELECT ON import_audit TO zettl_maintenance;

-- The connecting application role is allowed to assume either client role
DO $$ BEGIN
    IF EXISTS (SELECT 1 FROM pg_roles WHERE rolname = current_user) THEN
        EXECUTE format('GRANT zettl_authenticated, zettl_maintenance, zettl_anon TO %I', current_user);
    END IF;
END $$;
`
