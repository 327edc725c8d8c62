package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/warden-core/internal/auth"
)

var _ auth.RoleRepository = (*RoleRepository)(nil)

const roleColumns = `id, tenant_id, code, name, description, is_active, is_system, created_at, updated_at`

// RoleRepository implements auth.RoleRepository on PostgreSQL.
type RoleRepository struct {
	db *sql.DB
}

// ListPermissions returns the permission catalogue ordered by module and code.
func (r *RoleRepository) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	rows, err := r.db.QueryContext(ctx,
		`select code, name, module, description from permissions order by module, code`)
	if err != nil {
		return nil, fmt.Errorf("listing permissions: %w", err)
	}
	defer rows.Close()

	perms := []auth.Permission{}
	for rows.Next() {
		var p auth.Permission
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
func (r *RoleRepository) UpsertPermission(ctx context.Context, p auth.Permission) error {
	_, err := r.db.ExecContext(ctx, `
		insert into permissions (code, name, module, description) values ($1, $2, $3, $4)
		on conflict (code) do update
		set name = excluded.name, module = excluded.module, description = excluded.description`,
		p.Code, p.Name, p.Module, p.Description,
	)
	if err != nil {
		return fmt.Errorf("upserting permission %s: %w", p.Code, err)
	}
	return nil
}

// CreateRole inserts a role and its permission set in one transaction.
func (r *RoleRepository) CreateRole(ctx context.Context, role *auth.Role) error {
	if role.ID == "" {
		role.ID = "role-" + uuid.NewString()[:8]
	}
	role.Touch(time.Now())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning role transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into roles (`+roleColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		role.ID, role.TenantID, role.Code, role.Name, role.Description,
		role.IsActive, role.IsSystem, role.CreatedAt, role.UpdatedAt,
	); err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return auth.ErrRoleExists
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
func (r *RoleRepository) GetRole(ctx context.Context, id string) (*auth.Role, error) {
	return r.getRole(ctx, `select `+roleColumns+` from roles where id = $1`, id)
}

// GetRoleByCode prefers the tenant's role over a system-wide one.
func (r *RoleRepository) GetRoleByCode(ctx context.Context, tenantID, code string) (*auth.Role, error) {
	return r.getRole(ctx, `
		select `+roleColumns+` from roles
		where code = $1 and tenant_id in ($2, '')
		order by tenant_id desc limit 1`,
		code, tenantID)
}

// ListRoles returns the tenant's roles and all system-wide roles with
// their permissions, loaded in a second query.
func (r *RoleRepository) ListRoles(ctx context.Context, tenantID string) ([]auth.Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		select `+roleColumns+` from roles
		where tenant_id in ($1, '') order by tenant_id, code`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}

	roles := []auth.Role{}
	index := map[string]int{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[role.ID] = len(roles)
		roles = append(roles, *role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	if len(roles) == 0 {
		return roles, nil
	}

	permRows, err := r.db.QueryContext(ctx, `
		select rp.role_id, rp.permission_code
		from role_permissions rp join roles r on r.id = rp.role_id
		where r.tenant_id in ($1, '')
		order by rp.role_id, rp.permission_code`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing role permissions: %w", err)
	}
	defer permRows.Close()

	for i := range roles {
		roles[i].Permissions = []string{}
	}
	for permRows.Next() {
		var roleID, code string
		if err := permRows.Scan(&roleID, &code); err != nil {
			return nil, fmt.Errorf("scanning role permission: %w", err)
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, code)
		}
	}
	if err := permRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role permissions: %w", err)
	}
	return roles, nil
}

// SetRolePermissions replaces a role's permission set. System roles are immutable.
func (r *RoleRepository) SetRolePermissions(ctx context.Context, roleID string, codes []string) error {
	role, err := r.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return auth.ErrSystemRole
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning role transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := replaceRolePermissions(ctx, tx, roleID, codes); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update roles set updated_at = $1 where id = $2`, now(), roleID,
	); err != nil {
		return fmt.Errorf("touching role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing role permissions: %w", err)
	}
	return nil
}

// replaceRolePermissions writes codes as the role's permission set.
// Duplicates collapse; an unknown code fails the foreign key and aborts tx.
func replaceRolePermissions(ctx context.Context, tx *sql.Tx, roleID string, codes []string) error {
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return fmt.Errorf("clearing role permissions: %w", err)
	}
	for _, code := range codes {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_code) values ($1, $2)
			on conflict do nothing`,
			roleID, code,
		); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: %s", auth.ErrPermissionUnknown, code)
			}
			return fmt.Errorf("adding role permission %s: %w", code, err)
		}
	}
	return nil
}

// Assign creates a role assignment.
func (r *RoleRepository) Assign(ctx context.Context, a *auth.RoleAssignment) error {
	return insertAssignment(ctx, r.db, a)
}

// insertAssignment writes one assignment through db or a transaction.
func insertAssignment(ctx context.Context, db execer, a *auth.RoleAssignment) error {
	if a.ID == "" {
		a.ID = "ra-" + uuid.NewString()[:8]
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now()
	}

	_, err := db.ExecContext(ctx, `
		insert into role_assignments (id, account_id, role_id, tenant_id, start_at, end_at, created_by, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.AccountID, a.RoleID, a.TenantID,
		nullTime(a.StartAt), nullTime(a.EndAt), nullIfEmpty(a.CreatedBy), a.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return auth.ErrRoleNotFound
		}
		return fmt.Errorf("assigning role: %w", err)
	}
	return nil
}

// Revoke removes every assignment of roleID to accountID.
func (r *RoleRepository) Revoke(ctx context.Context, accountID, roleID string) error {
	result, err := r.db.ExecContext(ctx,
		`delete from role_assignments where account_id = $1 and role_id = $2`, accountID, roleID)
	if err != nil {
		return fmt.Errorf("revoking role: %w", err)
	}
	return expectOneRow(result, auth.ErrAssignmentNotFound)
}

// ListAssignments returns all assignments for an account, in effect or not.
func (r *RoleRepository) ListAssignments(ctx context.Context, accountID string) ([]auth.RoleAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		select a.id, a.account_id, a.role_id, r.code, a.tenant_id, a.start_at, a.end_at, a.created_by, a.created_at
		from role_assignments a join roles r on r.id = a.role_id
		where a.account_id = $1 order by a.created_at`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("listing assignments: %w", err)
	}
	defer rows.Close()

	out := []auth.RoleAssignment{}
	for rows.Next() {
		var a auth.RoleAssignment
		var startAt, endAt sql.NullTime
		var createdBy sql.NullString
		if err := rows.Scan(&a.ID, &a.AccountID, &a.RoleID, &a.RoleCode, &a.TenantID,
			&startAt, &endAt, &createdBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		a.StartAt = timePtr(startAt)
		a.EndAt = timePtr(endAt)
		a.CreatedBy = createdBy.String
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assignments: %w", err)
	}
	return out, nil
}

// EffectiveGrants resolves roles and permissions live from the assignment
// tables: active roles of the tenant or system-wide, assignments whose
// [start_at, end_at) window contains at.
func (r *RoleRepository) EffectiveGrants(ctx context.Context, accountID, tenantID string, at time.Time) (*auth.Grants, error) {
	rows, err := r.db.QueryContext(ctx, `
		select distinct r.code, rp.permission_code
		from role_assignments a
		join roles r on r.id = a.role_id
		left join role_permissions rp on rp.role_id = r.id
		where a.account_id = $1 and a.tenant_id = $2
		  and r.is_active and r.tenant_id in ($2, '')
		  and (a.start_at is null or a.start_at <= $3)
		  and (a.end_at is null or a.end_at > $3)`,
		accountID, tenantID, at.UTC())
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
	return &auth.Grants{Roles: sortedKeys(roles), Permissions: sortedKeys(perms)}, nil
}

func (r *RoleRepository) getRole(ctx context.Context, query string, args ...any) (*auth.Role, error) {
	role, err := scanRole(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrRoleNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`select permission_code from role_permissions where role_id = $1 order by permission_code`, role.ID)
	if err != nil {
		return nil, fmt.Errorf("listing role permissions: %w", err)
	}
	defer rows.Close()

	role.Permissions = []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scanning role permission: %w", err)
		}
		role.Permissions = append(role.Permissions, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role permissions: %w", err)
	}
	return role, nil
}

func scanRole(s scanner) (*auth.Role, error) {
	var role auth.Role
	err := s.Scan(&role.ID, &role.TenantID, &role.Code, &role.Name, &role.Description,
		&role.IsActive, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning role: %w", err)
	}
	role.CreatedAt = role.CreatedAt.UTC()
	role.UpdatedAt = role.UpdatedAt.UTC()
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
