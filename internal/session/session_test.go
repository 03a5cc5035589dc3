package session

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestFromToken(t *testing.T) {
	t.Run("numeric claim", func(t *testing.T) {
		id, err := FromToken(signedToken(t, jwt.MapClaims{"tenant_id": 42}))
		require.NoError(t, err)
		assert.Equal(t, int64(42), id.TenantID)
	})

	t.Run("string claim", func(t *testing.T) {
		id, err := FromToken(signedToken(t, jwt.MapClaims{"tenant_id": "7"}))
		require.NoError(t, err)
		assert.Equal(t, int64(7), id.TenantID)
	})

	t.Run("missing claim", func(t *testing.T) {
		_, err := FromToken(signedToken(t, jwt.MapClaims{"sub": "someone"}))
		assert.ErrorIs(t, err, ErrNoIdentity)
	})

	t.Run("non-positive claim", func(t *testing.T) {
		_, err := FromToken(signedToken(t, jwt.MapClaims{"tenant_id": 0}))
		assert.ErrorIs(t, err, ErrNoIdentity)
	})

	t.Run("unparseable string claim", func(t *testing.T) {
		_, err := FromToken(signedToken(t, jwt.MapClaims{"tenant_id": "not-a-number"}))
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoIdentity)
	})

	t.Run("malformed token", func(t *testing.T) {
		_, err := FromToken("not.a.jwt")
		assert.Error(t, err)
	})
}

func TestIdentityContext(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		ctx := WithIdentity(context.Background(), Identity{TenantID: 3})
		id, err := FromContext(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), id.TenantID)
	})

	t.Run("absent identity fails closed", func(t *testing.T) {
		_, err := FromContext(context.Background())
		assert.ErrorIs(t, err, ErrNoIdentity)
	})

	t.Run("zero tenant fails closed", func(t *testing.T) {
		ctx := WithIdentity(context.Background(), Identity{})
		_, err := FromContext(ctx)
		assert.ErrorIs(t, err, ErrNoIdentity)
	})
}

func TestClaimsJSON(t *testing.T) {
	claims, err := claimsJSON(Identity{TenantID: 12})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tenant_id":"12","role":"zettl_authenticated"}`, claims)
}
