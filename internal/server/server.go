package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/GregdeFoy/Zettl/internal/migrate"
	"github.com/GregdeFoy/Zettl/internal/store"
	"github.com/GregdeFoy/Zettl/pkg/logger"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ErrorResponse is the JSON envelope for failed requests
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status"`
}

// Server exposes the administrative surface over HTTP: migration, refresh,
// verification, bulk import and tenant registration. The data plane stays
// with PostgREST; nothing here reads or writes tenant-scoped rows on behalf
// of clients.
type Server struct {
	store     *store.Store
	sequencer *migrate.Sequencer
	logger    *logger.Logger
	tokenHash string

	httpServer *http.Server
}

// New creates the admin server. tokenHash is the bcrypt hash the Bearer
// token of every /admin request is checked against; when empty, /admin
// endpoints refuse all requests rather than running open.
func New(st *store.Store, seq *migrate.Sequencer, log *logger.Logger, port int, tokenHash string) *Server {
	s := &Server{
		store:     st,
		sequencer: seq,
		logger:    log,
		tokenHash: tokenHash,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(s.authMiddleware)
	admin.HandleFunc("/migrate", s.handleMigrate).Methods("POST")
	admin.HandleFunc("/refresh", s.handleRefresh).Methods("POST")
	admin.HandleFunc("/verify", s.handleVerify).Methods("GET")
	admin.HandleFunc("/import", s.handleImport).Methods("POST")
	admin.HandleFunc("/tenants", s.handleCreateTenant).Methods("POST")
	admin.HandleFunc("/tenants", s.handleListTenants).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
	}
	return s
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Infof("Admin server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenHash == "" {
			s.writeErrorResponse(w, http.StatusForbidden, "admin token not configured", "")
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || bcrypt.CompareHashAndPassword([]byte(s.tokenHash), []byte(token)) != nil {
			s.writeErrorResponse(w, http.StatusUnauthorized, "invalid admin token", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

type migrateRequest struct {
	SkipBackup      bool `json:"skip_backup"`
	DryRun          bool `json:"dry_run"`
	BootstrapTenant bool `json:"bootstrap_tenant"`
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	var req migrateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	// Admin endpoint runs the standing sequencer configuration plus any
	// per-request overrides carried in the body
	result, err := s.sequencer.RunWith(r.Context(), migrate.Options{
		SkipBackup:      req.SkipBackup,
		DryRun:          req.DryRun,
		BootstrapTenant: req.BootstrapTenant,
	})
	if err != nil {
		s.logger.Errorf("Migration via admin endpoint failed: %v", err)
		s.writeErrorResponse(w, http.StatusInternalServerError, err.Error(), "migration failed")
		return
	}

	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":      StatusSuccess,
		"run_id":      result.RunID,
		"dry_run":     result.DryRun,
		"backup_path": result.BackupPath,
		"steps":       result.Steps,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RefreshTagCounts(r.Context()); err != nil {
		s.logger.Errorf("Refresh via admin endpoint failed: %v", err)
		s.writeErrorResponse(w, http.StatusInternalServerError, err.Error(), "refresh failed")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]string{"status": StatusSuccess})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.sequencer.Verify(r.Context())
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, err.Error(), "verification failed")
		return
	}

	status := http.StatusOK
	if !report.Ok() {
		status = http.StatusConflict
	}
	s.writeJSONResponse(w, status, map[string]interface{}{
		"ok":       report.Ok(),
		"checks":   report.Checks,
		"failures": report.Failures,
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req store.ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	result, err := s.store.BulkImport(r.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrBadReference) || errors.Is(err, store.ErrDuplicate) {
			s.writeErrorResponse(w, http.StatusUnprocessableEntity, err.Error(), "import rejected")
			return
		}
		s.logger.Errorf("Bulk import via admin endpoint failed: %v", err)
		s.writeErrorResponse(w, http.StatusInternalServerError, err.Error(), "import failed")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, result)
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.store.CreateTenant(r.Context())
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, err.Error(), "tenant creation failed")
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, tenant)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.store.ListTenants(r.Context())
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, err.Error(), "tenant listing failed")
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"tenants": tenants})
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("Failed to encode JSON response: %v", err)
	}
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message, details string) {
	s.writeJSONResponse(w, statusCode, ErrorResponse{
		Error:   message,
		Message: details,
		Status:  StatusError,
	})
}
