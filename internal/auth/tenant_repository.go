package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteTenantRepository implements TenantRepository using SQLite.
// Settings are stored as a JSON document.
type SQLiteTenantRepository struct {
	db *sql.DB
}

// NewTenantRepository creates a new SQLite-backed tenant repository.
func NewTenantRepository(db *sql.DB) *SQLiteTenantRepository {
	return &SQLiteTenantRepository{db: db}
}

// Create inserts a tenant. Tenant IDs are chosen by the operator.
func (r *SQLiteTenantRepository) Create(ctx context.Context, t *Tenant) error {
	if t.ID == "" {
		return fmt.Errorf("creating tenant: id is required")
	}
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("marshalling tenant settings: %w", err)
	}
	t.Touch(time.Now())

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, domain, is_active, settings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, nullString(t.Domain), boolToInt(t.IsActive), string(settings),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrTenantExists
		}
		return fmt.Errorf("creating tenant: %w", err)
	}
	return nil
}

// GetByID retrieves a tenant.
func (r *SQLiteTenantRepository) GetByID(ctx context.Context, id string) (*Tenant, error) {
	t, err := scanTenant(r.db.QueryRowContext(ctx,
		"SELECT id, name, domain, is_active, settings, created_at, updated_at FROM tenants WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	return t, err
}

// List returns all tenants ordered by ID.
func (r *SQLiteTenantRepository) List(ctx context.Context) ([]Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, domain, is_active, settings, created_at, updated_at FROM tenants ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	tenants := []Tenant{}
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
func (r *SQLiteTenantRepository) Update(ctx context.Context, t *Tenant) error {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("marshalling tenant settings: %w", err)
	}
	t.Touch(time.Now())

	result, err := r.db.ExecContext(ctx,
		"UPDATE tenants SET name = ?, domain = ?, is_active = ?, settings = ?, updated_at = ? WHERE id = ?",
		t.Name, nullString(t.Domain), boolToInt(t.IsActive), string(settings), formatTime(t.UpdatedAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating tenant: %w", err)
	}
	return expectOneRow(result, ErrTenantNotFound)
}

func scanTenant(s scanner) (*Tenant, error) {
	var t Tenant
	var domain sql.NullString
	var isActive int
	var settings, createdAt, updatedAt string

	if err := s.Scan(&t.ID, &t.Name, &domain, &isActive, &settings, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning tenant: %w", err)
	}
	if settings != "" {
		if err := json.Unmarshal([]byte(settings), &t.Settings); err != nil {
			return nil, fmt.Errorf("decoding settings for tenant %s: %w", t.ID, err)
		}
	}
	t.Domain = domain.String
	t.IsActive = isActive != 0
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}
