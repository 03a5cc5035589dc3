package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GregdeFoy/Zettl/internal/migrate"
	"github.com/GregdeFoy/Zettl/internal/session"
	"github.com/GregdeFoy/Zettl/pkg/database"
	"github.com/GregdeFoy/Zettl/pkg/logger"
)

// fixture brings up a fresh tenant-scoped schema with two tenants. Every
// test runs against a real database; the isolation properties under test
// live in Postgres, not in Go.
type fixture struct {
	store *Store
	db    *database.PostgreSQL
	ctx1  context.Context
	ctx2  context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	url := os.Getenv("ZETTL_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ZETTL_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.NewFromURL(ctx, url)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.Pool().Exec(ctx, `
		DROP VIEW IF EXISTS tag_counts, notes_with_tags CASCADE;
		DROP MATERIALIZED VIEW IF EXISTS tag_counts_data CASCADE;
		DROP TABLE IF EXISTS import_audit, schema_migrations, messages, conversations, tags, links, notes, tenants CASCADE;
	`)
	require.NoError(t, err)

	log := logger.New("store-test", "test")
	seq := migrate.New(db, database.PostgreSQLConfig{}, log, migrate.Options{SkipBackup: true})
	_, err = seq.Run(ctx)
	require.NoError(t, err)

	st := New(db, log)
	t1, err := st.CreateTenant(ctx)
	require.NoError(t, err)
	t2, err := st.CreateTenant(ctx)
	require.NoError(t, err)

	return &fixture{
		store: st,
		db:    db,
		ctx1:  session.WithIdentity(ctx, session.Identity{TenantID: t1.TenantID}),
		ctx2:  session.WithIdentity(ctx, session.Identity{TenantID: t2.TenantID}),
	}
}

func (f *fixture) tenant1() int64 {
	id, _ := session.FromContext(f.ctx1)
	return id.TenantID
}

func (f *fixture) tenant2() int64 {
	id, _ := session.FromContext(f.ctx2)
	return id.TenantID
}

func TestTenantStamping(t *testing.T) {
	f := newFixture(t)

	note, err := f.store.CreateNote(f.ctx1, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, f.tenant1(), note.TenantID, "trigger must stamp the session tenant")

	t.Run("no identity fails closed", func(t *testing.T) {
		_, err := f.store.CreateNote(context.Background(), "orphan", nil)
		assert.ErrorIs(t, err, session.ErrNoIdentity)
	})
}

func TestCreateNoteRetriesOnIDCollision(t *testing.T) {
	f := newFixture(t)

	// Occupy the id the generator will hand out first
	_, err := f.store.BulkImport(context.Background(), ImportRequest{
		TenantID: f.tenant1(),
		Actor:    "test",
		Notes:    []ImportNote{{ID: "99aaa", Content: "already here"}},
	})
	require.NoError(t, err)

	ids := []string{"99aaa", "98bbb"}
	calls := 0
	orig := generateNoteID
	generateNoteID = func() (string, error) {
		id := ids[len(ids)-1]
		if calls < len(ids) {
			id = ids[calls]
		}
		calls++
		return id, nil
	}
	defer func() { generateNoteID = orig }()

	// The unique violation aborts work up to the attempt's savepoint only;
	// the transaction must survive and the retry must land.
	note, err := f.store.CreateNote(f.ctx1, "second try", []string{"retried"})
	require.NoError(t, err)
	assert.Equal(t, "98bbb", note.ID)
	assert.Equal(t, 2, calls)

	existing, err := f.store.GetNote(f.ctx1, "99aaa")
	require.NoError(t, err)
	assert.Equal(t, "already here", existing.Content, "colliding insert must not clobber the existing note")

	tags, err := f.store.ListTags(f.ctx1, "98bbb")
	require.NoError(t, err)
	assert.Equal(t, []string{"retried"}, tags, "tag insert must follow the retried note in the same transaction")
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)

	// The same note id exists independently for both tenants
	_, err := f.store.BulkImport(context.Background(), ImportRequest{
		TenantID: f.tenant1(),
		Actor:    "test",
		Notes:    []ImportNote{{ID: "ab", Content: "tenant one's note"}},
		Tags:     []ImportTag{{NoteID: "ab", Tag: "project"}},
	})
	require.NoError(t, err)
	_, err = f.store.BulkImport(context.Background(), ImportRequest{
		TenantID: f.tenant2(),
		Actor:    "test",
		Notes:    []ImportNote{{ID: "ab", Content: "tenant two's note"}},
		Tags:     []ImportTag{{NoteID: "ab", Tag: "project"}},
	})
	require.NoError(t, err)

	t.Run("each tenant reads its own row", func(t *testing.T) {
		n1, err := f.store.GetNote(f.ctx1, "ab")
		require.NoError(t, err)
		assert.Equal(t, "tenant one's note", n1.Content)

		n2, err := f.store.GetNote(f.ctx2, "ab")
		require.NoError(t, err)
		assert.Equal(t, "tenant two's note", n2.Content)
	})

	t.Run("lists never cross tenants", func(t *testing.T) {
		notes, err := f.store.ListNotes(f.ctx1, 100, 0)
		require.NoError(t, err)
		for _, n := range notes {
			assert.Equal(t, f.tenant1(), n.TenantID)
		}
	})

	t.Run("delete only touches the session tenant", func(t *testing.T) {
		require.NoError(t, f.store.DeleteNote(f.ctx1, "ab"))

		_, err := f.store.GetNote(f.ctx1, "ab")
		assert.ErrorIs(t, err, ErrNotFound)

		n2, err := f.store.GetNote(f.ctx2, "ab")
		require.NoError(t, err)
		assert.Equal(t, "tenant two's note", n2.Content)
	})
}

func TestCrossTenantLinkRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.BulkImport(context.Background(), ImportRequest{
		TenantID: f.tenant1(),
		Actor:    "test",
		Notes:    []ImportNote{{ID: "x1abc", Content: "mine"}},
	})
	require.NoError(t, err)
	_, err = f.store.BulkImport(context.Background(), ImportRequest{
		TenantID: f.tenant2(),
		Actor:    "test",
		Notes:    []ImportNote{{ID: "y2def", Content: "theirs"}},
	})
	require.NoError(t, err)

	// Tenant 1 can see x1abc but y2def resolves to nothing in its keyspace
	_, err = f.store.CreateLink(f.ctx1, "x1abc", "y2def", "")
	assert.ErrorIs(t, err, ErrBadReference)

	t.Run("self link rejected before the database", func(t *testing.T) {
		_, err := f.store.CreateLink(f.ctx1, "x1abc", "x1abc", "")
		assert.ErrorIs(t, err, ErrSelfLink)
	})

	t.Run("same-tenant link works", func(t *testing.T) {
		n, err := f.store.CreateNote(f.ctx1, "second note", nil)
		require.NoError(t, err)

		link, err := f.store.CreateLink(f.ctx1, "x1abc", n.ID, "related")
		require.NoError(t, err)
		assert.Equal(t, f.tenant1(), link.TenantID)

		back, err := f.store.ListBacklinks(f.ctx1, n.ID)
		require.NoError(t, err)
		require.Len(t, back, 1)
		assert.Equal(t, "x1abc", back[0].SourceID)
	})
}

func TestNotesWithTagsView(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.CreateNote(f.ctx1, "tagged", []string{"alpha", "beta"})
	require.NoError(t, err)
	_, err = f.store.CreateNote(f.ctx2, "other tenant", []string{"gamma"})
	require.NoError(t, err)

	notes, err := f.store.NotesWithTags(f.ctx1, 100, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1, "view must only surface the session tenant's notes")
	assert.Equal(t, []string{"alpha", "beta"}, notes[0].Tags)
}

func TestTagCountsRefresh(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		_, err := f.store.CreateNote(f.ctx1, "note", []string{"project"})
		require.NoError(t, err)
	}
	_, err := f.store.CreateNote(f.ctx2, "note", []string{"project"})
	require.NoError(t, err)

	require.NoError(t, f.store.RefreshTagCounts(context.Background()))

	counts1, err := f.store.TagCounts(f.ctx1)
	require.NoError(t, err)
	require.Len(t, counts1, 1)
	assert.Equal(t, "project", counts1[0].Tag)
	assert.Equal(t, int64(2), counts1[0].NoteCount)

	counts2, err := f.store.TagCounts(f.ctx2)
	require.NoError(t, err)
	require.Len(t, counts2, 1)
	assert.Equal(t, int64(1), counts2[0].NoteCount)

	t.Run("new tags invisible until the next refresh", func(t *testing.T) {
		_, err := f.store.CreateNote(f.ctx1, "note", []string{"project"})
		require.NoError(t, err)

		counts, err := f.store.TagCounts(f.ctx1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts[0].NoteCount, "aggregate is only as fresh as the last refresh")

		require.NoError(t, f.store.RefreshTagCounts(context.Background()))
		counts, err = f.store.TagCounts(f.ctx1)
		require.NoError(t, err)
		assert.Equal(t, int64(3), counts[0].NoteCount)
	})
}

func TestChat(t *testing.T) {
	f := newFixture(t)

	conv, err := f.store.CreateConversation(f.ctx1, "", []string{"21abc"})
	require.NoError(t, err)
	assert.Equal(t, "New Conversation", conv.Title)
	assert.Equal(t, f.tenant1(), conv.TenantID)

	_, err = f.store.AddMessage(f.ctx1, conv.ID, "user", "hello", nil)
	require.NoError(t, err)
	_, err = f.store.AddMessage(f.ctx1, conv.ID, "assistant", "hi there", nil)
	require.NoError(t, err)

	t.Run("invalid role rejected", func(t *testing.T) {
		_, err := f.store.AddMessage(f.ctx1, conv.ID, "narrator", "nope", nil)
		assert.Error(t, err)
	})

	t.Run("messages stay with their conversation and tenant", func(t *testing.T) {
		msgs, err := f.store.ListMessages(f.ctx1, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "user", msgs[0].Role)
		assert.Equal(t, "assistant", msgs[1].Role)

		_, err = f.store.ListMessages(f.ctx2, conv.ID)
		assert.ErrorIs(t, err, ErrNotFound, "another tenant must not see the conversation at all")
	})

	t.Run("cross-tenant message rejected", func(t *testing.T) {
		_, err := f.store.AddMessage(f.ctx2, conv.ID, "user", "intruder", nil)
		assert.ErrorIs(t, err, ErrBadReference)
	})
}

func TestBulkImportAudit(t *testing.T) {
	f := newFixture(t)

	result, err := f.store.BulkImport(context.Background(), ImportRequest{
		TenantID: f.tenant1(),
		Actor:    "migration-script",
		Notes:    []ImportNote{{ID: "n1aaa", Content: "a"}, {ID: "n2bbb", Content: "b"}},
		Links:    []ImportLink{{SourceID: "n1aaa", TargetID: "n2bbb"}},
		Tags:     []ImportTag{{NoteID: "n1aaa", Tag: "imported"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Notes)
	assert.Equal(t, 1, result.Links)
	assert.Equal(t, 1, result.Tags)

	var audited int
	require.NoError(t, f.db.Pool().QueryRow(context.Background(),
		"SELECT count(*) FROM import_audit WHERE import_id = $1 AND actor = 'migration-script'",
		result.ImportID).Scan(&audited))
	assert.Equal(t, 3, audited, "one audit row per touched table")

	t.Run("rejected without an actor", func(t *testing.T) {
		_, err := f.store.BulkImport(context.Background(), ImportRequest{TenantID: f.tenant1()})
		assert.Error(t, err)
	})

	t.Run("rolls back atomically on a bad row", func(t *testing.T) {
		_, err := f.store.BulkImport(context.Background(), ImportRequest{
			TenantID: f.tenant1(),
			Actor:    "test",
			Notes:    []ImportNote{{ID: "n3ccc", Content: "c"}},
			Links:    []ImportLink{{SourceID: "n3ccc", TargetID: "missing"}},
		})
		require.ErrorIs(t, err, ErrBadReference)

		_, err = f.store.GetNote(f.ctx1, "n3ccc")
		assert.ErrorIs(t, err, ErrNotFound, "failed import must not leave partial rows")
	})
}

func TestUpdateTouchesModified(t *testing.T) {
	f := newFixture(t)

	note, err := f.store.CreateNote(f.ctx1, "v1", nil)
	require.NoError(t, err)

	updated, err := f.store.UpdateNote(f.ctx1, note.ID, "v2")
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Content)
	assert.True(t, updated.ModifiedAt.After(note.ModifiedAt) || updated.ModifiedAt.Equal(note.ModifiedAt))
	assert.Equal(t, note.CreatedAt.UTC(), updated.CreatedAt.UTC())

	t.Run("search finds the new content", func(t *testing.T) {
		found, err := f.store.SearchNotes(f.ctx1, "V2", 10)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, note.ID, found[0].ID)
	})

	t.Run("other tenant cannot update", func(t *testing.T) {
		_, err := f.store.UpdateNote(f.ctx2, note.ID, "hijacked")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
