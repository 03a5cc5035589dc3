package store

import (
	"context"
	"fmt"
	"time"
)

// Tenant is one row of the tenant registry. Full tenant lifecycle (signup,
// authentication, deletion) belongs to the auth service; this subsystem only
// creates registry rows and scopes data by them.
type Tenant struct {
	TenantID int64     `json:"tenant_id"`
	Created  time.Time `json:"created"`
}

// CreateTenant registers a new tenant. Runs on the owning connection; the
// registry itself is not tenant-scoped.
func (s *Store) CreateTenant(ctx context.Context) (*Tenant, error) {
	var t Tenant
	err := s.db.Pool().QueryRow(ctx,
		"INSERT INTO tenants DEFAULT VALUES RETURNING tenant_id, created",
	).Scan(&t.TenantID, &t.Created)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	s.logger.Infof("Created tenant %d", t.TenantID)
	return &t, nil
}

// ListTenants returns every registered tenant, oldest first
func (s *Store) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.Pool().Query(ctx,
		"SELECT tenant_id, created FROM tenants ORDER BY created, tenant_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.TenantID, &t.Created); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}
