package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Note is one row of the notes table as the session tenant sees it
type Note struct {
	TenantID   int64     `json:"tenant_id"`
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

const noteColumns = "tenant_id, id, content, created_at, modified_at"

func scanNote(row pgx.Row) (*Note, error) {
	var n Note
	if err := row.Scan(&n.TenantID, &n.ID, &n.Content, &n.CreatedAt, &n.ModifiedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateNote inserts a note with a freshly generated id and optional tags.
// The insert carries no tenant_id; the stamping trigger fills it from the
// bound session identity before the NOT NULL constraint is checked.
func (s *Store) CreateNote(ctx context.Context, content string, tags []string) (*Note, error) {
	var note *Note
	err := s.withTenant(ctx, func(tx pgx.Tx) error {
		// Short ids collide occasionally; regenerate and retry a few times.
		// Each attempt runs under a savepoint, since a unique violation
		// aborts everything up to the innermost savepoint and the retried
		// insert would otherwise fail with "transaction is aborted".
		for attempt := 0; ; attempt++ {
			id, err := generateNoteID()
			if err != nil {
				return err
			}

			sp, err := tx.Begin(ctx)
			if err != nil {
				return err
			}
			row := sp.QueryRow(ctx,
				"INSERT INTO notes (id, content) VALUES ($1, $2) RETURNING "+noteColumns,
				id, content)
			note, err = scanNote(row)
			if err == nil {
				if err := sp.Commit(ctx); err != nil {
					return err
				}
				break
			}
			if rbErr := sp.Rollback(ctx); rbErr != nil {
				return rbErr
			}
			if errors.Is(mapError(err), ErrDuplicate) && attempt < 4 {
				s.logger.Debugf("Note id %s collided, retrying", id)
				continue
			}
			return err
		}

		for _, tag := range tags {
			if _, err := tx.Exec(ctx,
				"INSERT INTO tags (note_id, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING",
				note.ID, tag); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// GetNote fetches one note by id
func (s *Store) GetNote(ctx context.Context, id string) (*Note, error) {
	var note *Note
	err := s.withTenant(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, "SELECT "+noteColumns+" FROM notes WHERE id = $1", id)
		var err error
		note, err = scanNote(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// ListNotes returns the tenant's notes, newest first
func (s *Store) ListNotes(ctx context.Context, limit, offset int) ([]Note, error) {
	if limit <= 0 {
		limit = 50
	}

	var notes []Note
	err := s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"SELECT "+noteColumns+" FROM notes ORDER BY created_at DESC LIMIT $1 OFFSET $2",
			limit, offset)
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

// UpdateNote replaces a note's content. modified_at is maintained by the
// touch trigger, not by this statement.
func (s *Store) UpdateNote(ctx context.Context, id, content string) (*Note, error) {
	var note *Note
	err := s.withTenant(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			"UPDATE notes SET content = $2 WHERE id = $1 RETURNING "+noteColumns,
			id, content)
		var err error
		note, err = scanNote(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return note, nil
}

// DeleteNote removes a note; links and tags go with it through the cascading
// foreign keys.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	return s.withTenant(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "DELETE FROM notes WHERE id = $1", id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SearchNotes returns notes whose content matches the query, newest first
func (s *Store) SearchNotes(ctx context.Context, query string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 50
	}

	var notes []Note
	err := s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"SELECT "+noteColumns+" FROM notes WHERE content ILIKE '%' || $1 || '%' ORDER BY created_at DESC LIMIT $2",
			query, limit)
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
