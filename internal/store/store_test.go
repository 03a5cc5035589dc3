package store

import (
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GregdeFoy/Zettl/internal/session"
)

func TestNewNoteID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := newNoteID()
		require.NoError(t, err)
		require.Len(t, id, 5)

		assert.Contains(t, "0123456789", string(id[0]))
		assert.Contains(t, "0123456789", string(id[1]))
		for _, c := range id[2:] {
			assert.True(t, strings.ContainsRune(idAlphabet, c), "unexpected character %q in %s", c, id)
		}
		seen[id] = true
	}
	// 46656 possible suffixes per timestamp window; 100 draws colliding into
	// a single id would mean the generator is broken
	assert.Greater(t, len(seen), 1)
}

func TestNewChatID(t *testing.T) {
	id, err := newChatID()
	require.NoError(t, err)
	assert.Len(t, id, 12)
}

func TestMapError(t *testing.T) {
	t.Run("foreign key violation", func(t *testing.T) {
		err := mapError(&pgconn.PgError{Code: "23503", Detail: "no such note"})
		assert.ErrorIs(t, err, ErrBadReference)
	})

	t.Run("unique violation", func(t *testing.T) {
		err := mapError(&pgconn.PgError{Code: "23505"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("missing identity", func(t *testing.T) {
		err := mapError(&pgconn.PgError{Code: "28000"})
		assert.ErrorIs(t, err, session.ErrNoIdentity)
	})

	t.Run("no rows", func(t *testing.T) {
		assert.ErrorIs(t, mapError(pgx.ErrNoRows), ErrNotFound)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		err := mapError(assert.AnError)
		assert.ErrorIs(t, err, assert.AnError)
	})
}
