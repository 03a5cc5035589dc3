package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
)

// Conversation is a chat session with optional pinned note context
type Conversation struct {
	TenantID       int64     `json:"tenant_id"`
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	ContextNoteIDs []string  `json:"context_note_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message is one turn of a conversation. ToolCalls holds the raw JSON of any
// tool invocations the assistant produced; the store does not interpret it.
type Message struct {
	TenantID       int64           `json:"tenant_id"`
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	ToolCalls      json.RawMessage `json:"tool_calls,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

const conversationColumns = "tenant_id, id, title, context_note_ids, created_at, updated_at"

// CreateConversation starts a conversation. An empty title falls back to the
// column default.
func (s *Store) CreateConversation(ctx context.Context, title string, contextNoteIDs []string) (*Conversation, error) {
	if title == "" {
		title = "New Conversation"
	}
	if contextNoteIDs == nil {
		contextNoteIDs = []string{}
	}

	id, err := newChatID()
	if err != nil {
		return nil, err
	}

	var conv Conversation
	err = s.withTenant(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`INSERT INTO conversations (id, title, context_note_ids) VALUES ($1, $2, $3)
			 RETURNING `+conversationColumns,
			id, title, contextNoteIDs,
		).Scan(&conv.TenantID, &conv.ID, &conv.Title, &conv.ContextNoteIDs, &conv.CreatedAt, &conv.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AddMessage appends a message to a conversation and bumps its updated_at.
// Role must be one of user, assistant, system or tool; anything else fails
// the role check constraint.
func (s *Store) AddMessage(ctx context.Context, conversationID, role, content string, toolCalls json.RawMessage) (*Message, error) {
	id, err := newChatID()
	if err != nil {
		return nil, err
	}

	var msg Message
	err = s.withTenant(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO messages (id, conversation_id, role, content, tool_calls)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING tenant_id, id, conversation_id, role, content, tool_calls, created_at`,
			id, conversationID, role, content, toolCalls,
		).Scan(&msg.TenantID, &msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.ToolCalls, &msg.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			"UPDATE conversations SET updated_at = CURRENT_TIMESTAMP WHERE id = $1",
			conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessages returns the messages of a conversation in insertion order
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var messages []Message
	err := s.withTenant(ctx, func(tx pgx.Tx) error {
		// Existence check first so an unknown conversation reads as
		// ErrNotFound instead of an empty history
		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)",
			conversationID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}

		rows, err := tx.Query(ctx,
			`SELECT tenant_id, id, conversation_id, role, content, tool_calls, created_at
			 FROM messages WHERE conversation_id = $1 ORDER BY created_at, id`,
			conversationID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m Message
			if err := rows.Scan(&m.TenantID, &m.ID, &m.ConversationID, &m.Role, &m.Content, &m.ToolCalls, &m.CreatedAt); err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ListConversations returns the tenant's conversations, most recently active first
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}

	var conversations []Conversation
	err := s.withTenant(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			"SELECT "+conversationColumns+" FROM conversations ORDER BY updated_at DESC LIMIT $1",
			limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var c Conversation
			if err := rows.Scan(&c.TenantID, &c.ID, &c.Title, &c.ContextNoteIDs, &c.CreatedAt, &c.UpdatedAt); err != nil {
				return err
			}
			conversations = append(conversations, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return conversations, nil
}

// RenameConversation updates a conversation's title
func (s *Store) RenameConversation(ctx context.Context, id, title string) error {
	return s.withTenant(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			"UPDATE conversations SET title = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1",
			id, title)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteConversation removes a conversation and its messages
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return s.withTenant(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "DELETE FROM conversations WHERE id = $1", id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}
