package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// AddTag attaches a tag to a note. Adding the same tag twice is a no-op.
func (s *Store) AddTag(ctx context.Context, noteID, tag string) error {
	return s.withTenant(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			"INSERT INTO tags (note_id, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			noteID, tag)
		return err
	})
}

// RemoveTag detaches a tag from a note
func (s *Store) RemoveTag(ctx context.Context, noteID, tag string) error {
	return s.withTenant(ctx, func(tx pgx.Tx) error {
		cmdTag, err := tx.Exec(ctx,
			"DELETE FROM tags WHERE note_id = $1 AND tag = $2",
			noteID, tag)
		if err != nil {
			return err
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListTags returns the tags of a note, sorted
func (s *Store) ListTags(ctx context.Context, noteID string) ([]string, error) {
	var tags []string
	err := s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"SELECT tag FROM tags WHERE note_id = $1 ORDER BY tag",
			noteID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var tag string
			if err := rows.Scan(&tag); err != nil {
				return err
			}
			tags = append(tags, tag)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// NotesByTag returns the tenant's notes carrying the given tag, newest first
func (s *Store) NotesByTag(ctx context.Context, tag string) ([]Note, error) {
	var notes []Note
	err := s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT n.tenant_id, n.id, n.content, n.created_at, n.modified_at
			FROM notes n
			JOIN tags t ON t.tenant_id = n.tenant_id AND t.note_id = n.id
			WHERE t.tag = $1
			ORDER BY n.created_at DESC
		`, tag)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var n Note
			if err := rows.Scan(&n.TenantID, &n.ID, &n.Content, &n.CreatedAt, &n.ModifiedAt); err != nil {
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
