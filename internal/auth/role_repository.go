package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SQLiteRoleRepository implements RoleRepository using SQLite.
type SQLiteRoleRepository struct {
	db *sql.DB
}

// NewRoleRepository creates a new SQLite-backed role repository.
func NewRoleRepository(db *sql.DB) *SQLiteRoleRepository {
	return &SQLiteRoleRepository{db: db}
}

// ListPermissions returns the stored permission catalogue ordered by code.
func (r *SQLiteRoleRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT code, name, module, description FROM permissions ORDER BY module, code")
	if err != nil {
		return nil, fmt.Errorf("listing permissions: %w", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Code, &p.Name, &p.Module, &p.Description); err != nil {
			return nil, fmt.Errorf("scanning permission: %w", err)
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating permissions: %w", err)
	}
	return perms, nil
}

// UpsertPermission inserts or refreshes a catalogue entry.
func (r *SQLiteRoleRepository) UpsertPermission(ctx context.Context, p Permission) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO permissions (code, name, module, description) VALUES (?, ?, ?, ?)
		 ON CONFLICT(code) DO UPDATE SET name = excluded.name, module = excluded.module,
			description = excluded.description`,
		p.Code, p.Name, p.Module, p.Description,
	)
	if err != nil {
		return fmt.Errorf("upserting permission %s: %w", p.Code, err)
	}
	return nil
}

// CreateRole inserts a role and its permission set in one transaction.
func (r *SQLiteRoleRepository) CreateRole(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = "role-" + uuid.NewString()[:8]
	}
	role.Touch(time.Now())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning role transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO roles (id, tenant_id, code, name, description, is_active, is_system, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		role.ID, role.TenantID, role.Code, role.Name, role.Description,
		boolToInt(role.IsActive), boolToInt(role.IsSystem),
		formatTime(role.CreatedAt), formatTime(role.UpdatedAt),
	); err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrRoleExists
		}
		return fmt.Errorf("creating role: %w", err)
	}

	if err := replaceRolePermissions(ctx, tx, role.ID, role.Permissions); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing role: %w", err)
	}
	return nil
}

// GetRole retrieves a role with its permissions.
func (r *SQLiteRoleRepository) GetRole(ctx context.Context, id string) (*Role, error) {
	return r.getRole(ctx,
		"SELECT id, tenant_id, code, name, description, is_active, is_system, created_at, updated_at FROM roles WHERE id = ?",
		id)
}

// GetRoleByCode looks the code up in the tenant first, then system-wide.
func (r *SQLiteRoleRepository) GetRoleByCode(ctx context.Context, tenantID, code string) (*Role, error) {
	return r.getRole(ctx,
		`SELECT id, tenant_id, code, name, description, is_active, is_system, created_at, updated_at
		 FROM roles WHERE code = ? AND tenant_id IN (?, '')
		 ORDER BY tenant_id DESC LIMIT 1`,
		code, tenantID)
}

// ListRoles returns the tenant's roles and all system-wide roles.
func (r *SQLiteRoleRepository) ListRoles(ctx context.Context, tenantID string) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tenant_id, code, name, description, is_active, is_system, created_at, updated_at
		 FROM roles WHERE tenant_id IN (?, '') ORDER BY tenant_id, code`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}

	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		roles = append(roles, *role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}

	for i := range roles {
		perms, err := r.rolePermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].Permissions = perms
	}
	return roles, nil
}

// SetRolePermissions replaces a role's permission set. System roles are immutable.
func (r *SQLiteRoleRepository) SetRolePermissions(ctx context.Context, roleID string, codes []string) error {
	role, err := r.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRole
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning role transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if err := replaceRolePermissions(ctx, tx, roleID, codes); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE roles SET updated_at = ? WHERE id = ?", formatTime(time.Now()), roleID,
	); err != nil {
		return fmt.Errorf("touching role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing role permissions: %w", err)
	}
	return nil
}

// replaceRolePermissions writes codes as the role's permission set.
// Duplicates collapse; unknown codes fail the foreign key.
func replaceRolePermissions(ctx context.Context, tx *sql.Tx, roleID string, codes []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM role_permissions WHERE role_id = ?", roleID); err != nil {
		return fmt.Errorf("clearing role permissions: %w", err)
	}
	for _, code := range codes {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO role_permissions (role_id, permission_code) VALUES (?, ?)",
			roleID, code,
		); err != nil {
			return fmt.Errorf("%w: %s", ErrPermissionUnknown, code)
		}
	}
	return nil
}

// Assign creates a role assignment.
func (r *SQLiteRoleRepository) Assign(ctx context.Context, a *RoleAssignment) error {
	return insertAssignment(ctx, r.db, a)
}

// insertAssignment writes one assignment through db or a transaction.
func insertAssignment(ctx context.Context, db execer, a *RoleAssignment) error {
	if a.ID == "" {
		a.ID = "ra-" + uuid.NewString()[:8]
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO role_assignments (id, account_id, role_id, tenant_id, start_at, end_at, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AccountID, a.RoleID, a.TenantID,
		formatTimePtr(a.StartAt), formatTimePtr(a.EndAt),
		nullString(a.CreatedBy), formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("assigning role: %w", err)
	}
	return nil
}

// Revoke removes every assignment of roleID to accountID.
func (r *SQLiteRoleRepository) Revoke(ctx context.Context, accountID, roleID string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM role_assignments WHERE account_id = ? AND role_id = ?", accountID, roleID)
	if err != nil {
		return fmt.Errorf("revoking role: %w", err)
	}
	return expectOneRow(result, ErrAssignmentNotFound)
}

// ListAssignments returns all assignments for an account, in effect or not.
func (r *SQLiteRoleRepository) ListAssignments(ctx context.Context, accountID string) ([]RoleAssignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.account_id, a.role_id, r.code, a.tenant_id, a.start_at, a.end_at, a.created_by, a.created_at
		 FROM role_assignments a JOIN roles r ON r.id = a.role_id
		 WHERE a.account_id = ? ORDER BY a.created_at`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("listing assignments: %w", err)
	}
	defer rows.Close()

	out := []RoleAssignment{}
	for rows.Next() {
		var a RoleAssignment
		var startAt, endAt, createdBy sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.AccountID, &a.RoleID, &a.RoleCode, &a.TenantID,
			&startAt, &endAt, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		a.StartAt = parseNullTime(startAt)
		a.EndAt = parseNullTime(endAt)
		a.CreatedBy = createdBy.String
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assignments: %w", err)
	}
	return out, nil
}

// EffectiveGrants resolves roles and permissions live from the assignment
// tables. Only active roles of the tenant or system-wide count, and only
// assignments whose window contains now.
func (r *SQLiteRoleRepository) EffectiveGrants(ctx context.Context, accountID, tenantID string, now time.Time) (*Grants, error) {
	nowStr := formatTime(now)
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT r.code, rp.permission_code
		 FROM role_assignments a
		 JOIN roles r ON r.id = a.role_id
		 LEFT JOIN role_permissions rp ON rp.role_id = r.id
		 WHERE a.account_id = ? AND a.tenant_id = ?
		   AND r.is_active = 1 AND r.tenant_id IN (?, '')
		   AND (a.start_at IS NULL OR a.start_at <= ?)
		   AND (a.end_at IS NULL OR a.end_at > ?)`,
		accountID, tenantID, tenantID, nowStr, nowStr)
	if err != nil {
		return nil, fmt.Errorf("resolving grants: %w", err)
	}
	defer rows.Close()

	roles := map[string]struct{}{}
	perms := map[string]struct{}{}
	for rows.Next() {
		var role string
		var perm sql.NullString
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		roles[role] = struct{}{}
		if perm.Valid {
			perms[perm.String] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grants: %w", err)
	}
	return &Grants{Roles: sortedKeys(roles), Permissions: sortedKeys(perms)}, nil
}

func (r *SQLiteRoleRepository) getRole(ctx context.Context, query string, args ...any) (*Role, error) {
	role, err := scanRole(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, err
	}
	role.Permissions, err = r.rolePermissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	return role, nil
}

func (r *SQLiteRoleRepository) rolePermissions(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT permission_code FROM role_permissions WHERE role_id = ? ORDER BY permission_code", roleID)
	if err != nil {
		return nil, fmt.Errorf("listing role permissions: %w", err)
	}
	defer rows.Close()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scanning role permission: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func scanRole(s scanner) (*Role, error) {
	var role Role
	var isActive, isSystem int
	var createdAt, updatedAt string
	err := s.Scan(&role.ID, &role.TenantID, &role.Code, &role.Name, &role.Description,
		&isActive, &isSystem, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning role: %w", err)
	}
	role.IsActive = isActive != 0
	role.IsSystem = isSystem != 0
	role.CreatedAt = parseTime(createdAt)
	role.UpdatedAt = parseTime(updatedAt)
	return &role, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
