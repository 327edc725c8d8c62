package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/warden-core/internal/auth"
)

var _ auth.TenantRepository = (*TenantRepository)(nil)

// TenantRepository implements auth.TenantRepository on PostgreSQL.
// Settings live in a JSONB column.
type TenantRepository struct {
	db *sql.DB
}

// Create inserts a tenant. Tenant IDs are chosen by the operator.
func (r *TenantRepository) Create(ctx context.Context, t *auth.Tenant) error {
	if t.ID == "" {
		return errors.New("creating tenant: id is required")
	}
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("marshalling tenant settings: %w", err)
	}
	t.Touch(time.Now())

	_, err = r.db.ExecContext(ctx, `
		insert into tenants (id, name, domain, is_active, settings, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, nullIfEmpty(t.Domain), t.IsActive, settings, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return auth.ErrTenantExists
		}
		return fmt.Errorf("creating tenant: %w", err)
	}
	return nil
}

// GetByID retrieves a tenant.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*auth.Tenant, error) {
	t, err := scanTenant(r.db.QueryRowContext(ctx,
		`select id, name, domain, is_active, settings, created_at, updated_at from tenants where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrTenantNotFound
	}
	return t, err
}

// List returns all tenants ordered by ID.
func (r *TenantRepository) List(ctx context.Context) ([]auth.Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		`select id, name, domain, is_active, settings, created_at, updated_at from tenants order by id`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	tenants := []auth.Tenant{}
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenants: %w", err)
	}
	return tenants, nil
}

// Update writes name, domain, active flag and settings.
func (r *TenantRepository) Update(ctx context.Context, t *auth.Tenant) error {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("marshalling tenant settings: %w", err)
	}
	t.Touch(time.Now())

	result, err := r.db.ExecContext(ctx, `
		update tenants set name = $1, domain = $2, is_active = $3, settings = $4, updated_at = $5
		where id = $6`,
		t.Name, nullIfEmpty(t.Domain), t.IsActive, settings, t.UpdatedAt, t.ID,
	)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return auth.ErrTenantExists
		}
		return fmt.Errorf("updating tenant: %w", err)
	}
	return expectOneRow(result, auth.ErrTenantNotFound)
}

func scanTenant(s scanner) (*auth.Tenant, error) {
	var t auth.Tenant
	var domain sql.NullString
	var settings []byte

	if err := s.Scan(&t.ID, &t.Name, &domain, &t.IsActive, &settings, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning tenant: %w", err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("decoding settings for tenant %s: %w", t.ID, err)
		}
	}
	t.Domain = domain.String
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
