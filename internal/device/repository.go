package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed-width UTC so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05Z"

// Repository defines device persistence. Every read is tenant-scoped and
// skips soft-deleted rows.
type Repository interface {
	GetByID(ctx context.Context, tenantID, id string) (*Device, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Device, error)
	ListAll(ctx context.Context) ([]Device, error)
	CountByTenant(ctx context.Context, tenantID string) (int, error)
	Create(ctx context.Context, d *Device) error
	Update(ctx context.Context, d *Device) error
	SoftDelete(ctx context.Context, tenantID, id, actor string, at time.Time) error
	UpdateStatus(ctx context.Context, tenantID, id string, status Status, at time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, tenant_id, name, kind, location, status, is_deleted, deleted_at, deleted_by,
	created_by, updated_by, created_at, updated_at`

// GetByID retrieves a live device in tenantID.
func (r *SQLiteRepository) GetByID(ctx context.Context, tenantID, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = ? AND tenant_id = ? AND is_deleted = 0`,
		id, tenantID)

	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// ListByTenant returns the tenant's live devices ordered by name.
func (r *SQLiteRepository) ListByTenant(ctx context.Context, tenantID string) ([]Device, error) {
	return r.list(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE tenant_id = ? AND is_deleted = 0 ORDER BY name, id`,
		tenantID)
}

// ListAll returns every live device, used to warm the registry cache.
func (r *SQLiteRepository) ListAll(ctx context.Context) ([]Device, error) {
	return r.list(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE is_deleted = 0 ORDER BY tenant_id, name, id`)
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// CountByTenant counts live devices for quota checks.
func (r *SQLiteRepository) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE tenant_id = ? AND is_deleted = 0`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting devices: %w", err)
	}
	return n, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (id, tenant_id, name, kind, location, status, is_deleted,
			created_by, updated_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		d.ID, d.TenantID, d.Name, string(d.Kind), d.Location, string(d.Status),
		nullable(d.CreatedBy), nullable(d.UpdatedBy),
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update writes name, kind, location and status of a live device.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET name = ?, kind = ?, location = ?, status = ?, updated_by = ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ? AND is_deleted = 0`,
		d.Name, string(d.Kind), d.Location, string(d.Status), nullable(d.UpdatedBy), formatTime(d.UpdatedAt),
		d.ID, d.TenantID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireOneRow(res)
}

// SoftDelete marks a device deleted.
func (r *SQLiteRepository) SoftDelete(ctx context.Context, tenantID, id, actor string, at time.Time) error {
	ts := formatTime(at)
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET is_deleted = 1, deleted_at = ?, deleted_by = ?, updated_by = ?, updated_at = ?
		 WHERE id = ? AND tenant_id = ? AND is_deleted = 0`,
		ts, nullable(actor), nullable(actor), ts, id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireOneRow(res)
}

// UpdateStatus records a status report.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, tenantID, id string, status Status, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET status = ?, updated_at = ? WHERE id = ? AND tenant_id = ? AND is_deleted = 0`,
		string(status), formatTime(at), id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d                    Device
		kind, status         string
		isDeleted            int
		deletedAt, deletedBy sql.NullString
		createdBy, updatedBy sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&d.ID, &d.TenantID, &d.Name, &kind, &d.Location, &status, &isDeleted,
		&deletedAt, &deletedBy, &createdBy, &updatedBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	d.Kind = Kind(kind)
	d.Status = Status(status)
	d.IsDeleted = isDeleted != 0
	if deletedAt.Valid {
		t := parseTime(deletedAt.String)
		d.DeletedAt = &t
	}
	d.DeletedBy = deletedBy.String
	d.CreatedBy = createdBy.String
	d.UpdatedBy = updatedBy.String
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
