package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/GregdeFoy/Zettl/pkg/logger"
)

// The auth middleware rejects before any handler touches the database, so
// these tests run without a connection.

func testServer(t *testing.T, tokenHash string) http.Handler {
	t.Helper()
	s := New(nil, nil, logger.New("server-test", "test"), 0, tokenHash)
	return s.httpServer.Handler
}

func TestHealthzIsOpen(t *testing.T) {
	handler := testServer(t, "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAdminAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	t.Run("no token configured refuses everything", func(t *testing.T) {
		handler := testServer(t, "")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/admin/verify", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing bearer token", func(t *testing.T) {
		handler := testServer(t, string(hash))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/admin/verify", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong bearer token", func(t *testing.T) {
		handler := testServer(t, string(hash))
		req := httptest.NewRequest("GET", "/admin/verify", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("method not allowed on admin routes", func(t *testing.T) {
		handler := testServer(t, string(hash))
		req := httptest.NewRequest("DELETE", "/admin/refresh", nil)
		req.Header.Set("Authorization", "Bearer s3cret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
