package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/GregdeFoy/Zettl/internal/session"
)

// ImportNote is a pre-owned note row for bulk import
type ImportNote struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// ImportLink is a pre-owned link row for bulk import
type ImportLink struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Context  string `json:"context"`
}

// ImportTag is a pre-owned tag row for bulk import
type ImportTag struct {
	NoteID string `json:"note_id"`
	Tag    string `json:"tag"`
}

// ImportRequest is one audited bulk load into a single tenant
type ImportRequest struct {
	TenantID int64        `json:"tenant_id"`
	Actor    string       `json:"actor"`
	Notes    []ImportNote `json:"notes"`
	Links    []ImportLink `json:"links"`
	Tags     []ImportTag  `json:"tags"`
}

// ImportResult reports what one bulk import wrote
type ImportResult struct {
	ImportID uuid.UUID `json:"import_id"`
	Notes    int       `json:"notes"`
	Links    int       `json:"links"`
	Tags     int       `json:"tags"`
}

// BulkImport loads pre-owned rows for one tenant through the maintenance
// path. The stamping trigger keeps the explicit tenant ids instead of
// overwriting them, and the audit rows land in the same transaction: either
// the data and its audit trail commit together or neither does.
func (s *Store) BulkImport(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if req.TenantID <= 0 {
		return nil, fmt.Errorf("store: bulk import requires a target tenant")
	}
	if req.Actor == "" {
		return nil, fmt.Errorf("store: bulk import requires an actor for the audit trail")
	}

	result := &ImportResult{ImportID: uuid.New()}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := session.BindMaintenance(ctx, tx); err != nil {
		return nil, err
	}

	for _, n := range req.Notes {
		if _, err := tx.Exec(ctx,
			"INSERT INTO notes (tenant_id, id, content) VALUES ($1, $2, $3)",
			req.TenantID, n.ID, n.Content); err != nil {
			return nil, mapError(err)
		}
		result.Notes++
	}
	for _, l := range req.Links {
		if _, err := tx.Exec(ctx,
			"INSERT INTO links (tenant_id, source_id, target_id, context) VALUES ($1, $2, $3, $4)",
			req.TenantID, l.SourceID, l.TargetID, l.Context); err != nil {
			return nil, mapError(err)
		}
		result.Links++
	}
	for _, t := range req.Tags {
		if _, err := tx.Exec(ctx,
			"INSERT INTO tags (tenant_id, note_id, tag) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
			req.TenantID, t.NoteID, t.Tag); err != nil {
			return nil, mapError(err)
		}
		result.Tags++
	}

	for table, count := range map[string]int{
		"notes": result.Notes,
		"links": result.Links,
		"tags":  result.Tags,
	} {
		if count == 0 {
			continue
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO import_audit (import_id, tenant_id, table_name, row_count, actor) VALUES ($1, $2, $3, $4, $5)",
			result.ImportID, req.TenantID, table, count, req.Actor); err != nil {
			return nil, mapError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Infof("Bulk import %s by %s: %d notes, %d links, %d tags into tenant %d",
		result.ImportID, req.Actor, result.Notes, result.Links, result.Tags, req.TenantID)
	return result, nil
}
