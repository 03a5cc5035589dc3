package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/GregdeFoy/Zettl/internal/session"
	"github.com/GregdeFoy/Zettl/pkg/database"
	"github.com/GregdeFoy/Zettl/pkg/logger"
)

var (
	// ErrNotFound is returned when the requested row does not exist for the
	// session tenant. A row that exists for another tenant is
	// indistinguishable from one that does not exist at all.
	ErrNotFound = errors.New("store: not found")

	// ErrSelfLink is returned when a link's source and target are the same note
	ErrSelfLink = errors.New("store: link source and target are the same note")

	// ErrBadReference is returned when a write references a row the session
	// tenant does not have, including ids belonging to other tenants.
	ErrBadReference = errors.New("store: referenced row does not exist for this tenant")

	// ErrDuplicate is returned when a write collides with an existing row
	ErrDuplicate = errors.New("store: already exists")
)

// Store is the tenant-scoped data access layer. Every operation resolves the
// tenant identity from the context, binds it to a fresh transaction and lets
// the database policies do the filtering; no query in this package carries a
// hand-written tenant_id predicate.
type Store struct {
	db     *database.PostgreSQL
	logger *logger.Logger
}

// New creates the store
func New(db *database.PostgreSQL, log *logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log,
	}
}

// withTenant runs fn inside a transaction bound to the session tenant.
// Commit only happens when fn succeeds; any error rolls the whole
// transaction back.
func (s *Store) withTenant(ctx context.Context, fn func(tx pgx.Tx) error) error {
	id, err := session.FromContext(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := session.Bind(ctx, tx, id); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// mapError translates database errors into the package sentinels
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return fmt.Errorf("%w: %s", ErrBadReference, pgErr.Detail)
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.Detail)
		case "28000":
			return session.ErrNoIdentity
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Indirection for tests that need to force an id collision
var generateNoteID = newNoteID

// newNoteID builds a short Zettelkasten-style id: the last two digits of the
// unix timestamp plus three random alphanumeric characters. Uniqueness is
// only per tenant and collisions are handled by retrying the insert.
func newNoteID() (string, error) {
	suffix, err := randomChars(3)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d%s", time.Now().Unix()%100, suffix), nil
}

// newChatID builds a longer id for conversations and messages: the last six
// digits of the unix timestamp plus six random alphanumeric characters.
func newChatID() (string, error) {
	suffix, err := randomChars(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d%s", time.Now().Unix()%1000000, suffix), nil
}

func randomChars(k int) (string, error) {
	chars := make([]byte, k)
	for i := range chars {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(idAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate random id: %w", err)
		}
		chars[i] = idAlphabet[n.Int64()]
	}
	return string(chars), nil
}
