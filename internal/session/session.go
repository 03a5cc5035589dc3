package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"

	"github.com/GregdeFoy/Zettl/internal/schema"
)

// ErrNoIdentity is returned when an operation requires an authenticated
// tenant identity and none is present. Dependent operations fail closed:
// no write proceeds and no rows are returned.
var ErrNoIdentity = errors.New("session: no tenant identity")

// Identity is the authenticated tenant for one request. It is resolved once
// by the caller and treated as constant for the life of a transaction.
type Identity struct {
	TenantID int64
}

type contextKey struct{}

// WithIdentity attaches a tenant identity to the context
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the tenant identity from the context
func FromContext(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok || id.TenantID <= 0 {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

// FromToken extracts the tenant identity from a JWT whose signature was
// already verified by the auth layer. No verification happens here; this
// subsystem trusts the upstream check completely and only reads the claim.
func FromToken(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("session: failed to parse token claims: %w", err)
	}

	raw, ok := claims["tenant_id"]
	if !ok {
		return Identity{}, ErrNoIdentity
	}

	var tenantID int64
	switch v := raw.(type) {
	case float64:
		tenantID = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Identity{}, fmt.Errorf("session: unparseable tenant_id claim %q: %w", v, err)
		}
		tenantID = parsed
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return Identity{}, fmt.Errorf("session: unparseable tenant_id claim %q: %w", v, err)
		}
		tenantID = parsed
	default:
		return Identity{}, fmt.Errorf("session: unsupported tenant_id claim type %T", raw)
	}

	if tenantID <= 0 {
		return Identity{}, ErrNoIdentity
	}
	return Identity{TenantID: tenantID}, nil
}

// Bind pins the transaction to the given tenant: it assumes the
// RLS-mediated client role and injects the claims setting the in-database
// identity function reads. set_config with is_local=true scopes both to the
// transaction, so the identity cannot change mid-transaction and never leaks
// into pooled connections.
func Bind(ctx context.Context, tx pgx.Tx, id Identity) error {
	if id.TenantID <= 0 {
		return ErrNoIdentity
	}

	if _, err := tx.Exec(ctx, "SET LOCAL ROLE "+schema.AuthenticatedRole); err != nil {
		return fmt.Errorf("session: failed to assume authenticated role: %w", err)
	}

	claims, err := claimsJSON(id)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('request.jwt.claims', $1, true)", claims); err != nil {
		return fmt.Errorf("session: failed to bind tenant identity: %w", err)
	}
	return nil
}

// BindMaintenance pins the transaction to the audited maintenance path:
// the stamping trigger keeps explicit tenant ids and the maintenance
// policies replace the per-tenant predicates. Callers must write an
// import_audit row in the same transaction.
func BindMaintenance(ctx context.Context, tx pgx.Tx) error {
	if _, err := tx.Exec(ctx, "SET LOCAL ROLE "+schema.MaintenanceRole); err != nil {
		return fmt.Errorf("session: failed to assume maintenance role: %w", err)
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('zettl.maintenance', 'on', true)"); err != nil {
		return fmt.Errorf("session: failed to enable maintenance mode: %w", err)
	}
	return nil
}

func claimsJSON(id Identity) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"tenant_id": strconv.FormatInt(id.TenantID, 10),
		"role":      schema.AuthenticatedRole,
	})
	if err != nil {
		return "", fmt.Errorf("session: failed to encode claims: %w", err)
	}
	return string(payload), nil
}
