package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/GregdeFoy/Zettl/internal/schema"
)

// NoteWithTags is one row of the notes_with_tags join view
type NoteWithTags struct {
	Note
	Tags []string `json:"tags"`
}

// TagCount is one row of the tag_counts aggregate for the session tenant
type TagCount struct {
	Tag       string `json:"tag"`
	NoteCount int64  `json:"note_count"`
}

// NotesWithTags returns the tenant's notes with their tag arrays, newest
// first, read through the join view.
func (s *Store) NotesWithTags(ctx context.Context, limit, offset int) ([]NoteWithTags, error) {
	if limit <= 0 {
		limit = 50
	}

	var notes []NoteWithTags
	err := s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT tenant_id, id, content, created_at, modified_at, tags
			 FROM notes_with_tags ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var n NoteWithTags
			if err := rows.Scan(&n.TenantID, &n.ID, &n.Content, &n.CreatedAt, &n.ModifiedAt, &n.Tags); err != nil {
				return err
			}
			notes = append(notes, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return notes, nil
}

// TagCounts returns the tenant's tag usage from the materialized aggregate.
// Counts are as fresh as the last refresh, not live.
func (s *Store) TagCounts(ctx context.Context) ([]TagCount, error) {
	var counts []TagCount
	err := s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"SELECT tag, note_count FROM tag_counts ORDER BY note_count DESC, tag")
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c TagCount
			if err := rows.Scan(&c.Tag, &c.NoteCount); err != nil {
				return err
			}
			counts = append(counts, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// RefreshTagCounts rebuilds the materialized tag aggregate across all
// tenants. It runs on the owning connection without assuming a client role:
// the owner bypasses the policies, which is exactly what a full rebuild
// needs. Falls back to the blocking refresh when the concurrent one cannot
// run, typically right after the view was created empty.
func (s *Store) RefreshTagCounts(ctx context.Context) error {
	_, err := s.db.Pool().Exec(ctx, schema.RefreshTagCounts)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "0A000" || pgErr.Code == "55000") {
		s.logger.Warnf("Concurrent refresh of %s unavailable (%s), falling back to blocking refresh", schema.TagCountsMatView, pgErr.Code)
		_, err = s.db.Pool().Exec(ctx, schema.RefreshTagCountsBlocking)
	}
	return err
}
