package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Link is a directed edge between two notes of the same tenant
type Link struct {
	TenantID  int64     `json:"tenant_id"`
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Context   string    `json:"context"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateLink connects source to target with an optional context annotation.
// Both endpoints must be the session tenant's notes; an id belonging to
// another tenant fails the composite foreign key and surfaces as
// ErrBadReference.
func (s *Store) CreateLink(ctx context.Context, sourceID, targetID, linkContext string) (*Link, error) {
	if sourceID == targetID {
		return nil, ErrSelfLink
	}

	var link Link
	err := s.withTenant(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`INSERT INTO links (source_id, target_id, context) VALUES ($1, $2, $3)
			 RETURNING tenant_id, source_id, target_id, context, created_at`,
			sourceID, targetID, linkContext,
		).Scan(&link.TenantID, &link.SourceID, &link.TargetID, &link.Context, &link.CreatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// ListLinks returns the outgoing links of a note
func (s *Store) ListLinks(ctx context.Context, sourceID string) ([]Link, error) {
	return s.queryLinks(ctx,
		"SELECT tenant_id, source_id, target_id, context, created_at FROM links WHERE source_id = $1 ORDER BY created_at",
		sourceID)
}

// ListBacklinks returns the incoming links of a note
func (s *Store) ListBacklinks(ctx context.Context, targetID string) ([]Link, error) {
	return s.queryLinks(ctx,
		"SELECT tenant_id, source_id, target_id, context, created_at FROM links WHERE target_id = $1 ORDER BY created_at",
		targetID)
}

// DeleteLink removes the edge between two notes
func (s *Store) DeleteLink(ctx context.Context, sourceID, targetID string) error {
	return s.withTenant(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			"DELETE FROM links WHERE source_id = $1 AND target_id = $2",
			sourceID, targetID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *Store) queryLinks(ctx context.Context, sql string, args ...any) ([]Link, error) {
	var links []Link
	err := s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var l Link
			if err := rows.Scan(&l.TenantID, &l.SourceID, &l.TargetID, &l.Context, &l.CreatedAt); err != nil {
				return err
			}
			links = append(links, l)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}
