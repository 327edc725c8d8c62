package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/warden-core/internal/auth"
)

var _ auth.AccountRepository = (*AccountRepository)(nil)

const accountColumns = `id, tenant_id, username, email, display_name, password_hash,
	is_active, is_superuser, failed_login_count, locked_until, last_login_at, login_count,
	password_changed_at, is_deleted, deleted_at, deleted_by, created_by, updated_by,
	created_at, updated_at`

// AccountRepository implements auth.AccountRepository on PostgreSQL.
type AccountRepository struct {
	db *sql.DB
}

// Create inserts a new account together with its initial role
// assignments in one transaction. IDs are generated if empty.
func (r *AccountRepository) Create(ctx context.Context, a *auth.Account, assignments ...*auth.RoleAssignment) error {
	if a.ID == "" {
		a.ID = "acc-" + uuid.NewString()[:8]
	}
	a.Touch(time.Now())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	_, err = tx.ExecContext(ctx, `
		insert into accounts (id, tenant_id, username, email, display_name, password_hash,
			is_active, is_superuser, password_changed_at, created_by, updated_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.TenantID, a.Username, strings.ToLower(a.Email), a.DisplayName, a.PasswordHash,
		a.IsActive, a.IsSuperuser, nullTime(a.PasswordChangedAt),
		nullIfEmpty(a.CreatedBy), nullIfEmpty(a.UpdatedBy), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if pgErr, ok := isUniqueViolation(err); ok {
			if strings.Contains(pgErr.ConstraintName, "email") {
				return auth.ErrEmailExists
			}
			return auth.ErrUsernameExists
		}
		if isForeignKeyViolation(err) {
			return auth.ErrTenantNotFound
		}
		return fmt.Errorf("creating account: %w", err)
	}

	for _, ra := range assignments {
		ra.AccountID = a.ID
		if err := insertAssignment(ctx, tx, ra); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by its ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*auth.Account, error) {
	return r.getAccount(ctx, `select `+accountColumns+` from accounts where id = $1`, id)
}

// GetByUsername retrieves an account by username within a tenant.
func (r *AccountRepository) GetByUsername(ctx context.Context, tenantID, username string) (*auth.Account, error) {
	return r.getAccount(ctx,
		`select `+accountColumns+` from accounts where tenant_id = $1 and username = $2`,
		tenantID, username)
}

// GetByEmail retrieves an account by lower-cased email within a tenant.
func (r *AccountRepository) GetByEmail(ctx context.Context, tenantID, email string) (*auth.Account, error) {
	return r.getAccount(ctx,
		`select `+accountColumns+` from accounts where tenant_id = $1 and email = $2`,
		tenantID, strings.ToLower(email))
}

// accountWhere builds the WHERE clause for an account listing.
func accountWhere(f auth.AccountFilter) (string, []any) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"tenant_id = " + arg(f.TenantID), "not is_deleted"}
	if strings.TrimSpace(f.Query) != "" {
		p := arg(f.Pattern())
		conditions = append(conditions,
			"(lower(username) like "+p+" or lower(email) like "+p+" or lower(display_name) like "+p+")")
	}
	if f.Active != nil {
		conditions = append(conditions, "is_active = "+arg(*f.Active))
	}
	if f.RoleCode != "" {
		code, at := arg(f.RoleCode), arg(f.At.UTC())
		conditions = append(conditions, `exists (
			select 1 from role_assignments ra join roles r on r.id = ra.role_id
			where ra.account_id = accounts.id and ra.tenant_id = accounts.tenant_id
			  and r.code = `+code+` and r.is_active
			  and (ra.start_at is null or ra.start_at <= `+at+`)
			  and (ra.end_at is null or ra.end_at > `+at+`))`)
	}
	return "where " + strings.Join(conditions, " and "), args
}

// List returns one page of the tenant's live accounts matching the
// filter, ordered by creation date.
func (r *AccountRepository) List(ctx context.Context, filter auth.AccountFilter) (*auth.AccountPage, error) {
	filter.Clamp()
	where, args := accountWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, `select count(*) from accounts `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting accounts: %w", err)
	}

	n := len(args)
	rows, err := r.db.QueryContext(ctx,
		`select `+accountColumns+` from accounts `+where+
			fmt.Sprintf(` order by created_at, username limit $%d offset $%d`, n+1, n+2),
		append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	accounts := []auth.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}
	return &auth.AccountPage{Accounts: accounts, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Count returns the number of live accounts in a tenant.
func (r *AccountRepository) Count(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`select count(*) from accounts where tenant_id = $1 and not is_deleted`, tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return count, nil
}

// Update writes email, display name and the active flag.
func (r *AccountRepository) Update(ctx context.Context, a *auth.Account) error {
	a.Touch(time.Now())
	result, err := r.db.ExecContext(ctx, `
		update accounts set email = $1, display_name = $2, is_active = $3, updated_by = $4, updated_at = $5
		where id = $6 and not is_deleted`,
		strings.ToLower(a.Email), a.DisplayName, a.IsActive, nullIfEmpty(a.UpdatedBy), a.UpdatedAt, a.ID,
	)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return auth.ErrEmailExists
		}
		return fmt.Errorf("updating account: %w", err)
	}
	return expectOneRow(result, auth.ErrAccountNotFound)
}

// UpdatePassword stores a new hash and clears the failure counter and lock.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		update accounts set password_hash = $1, password_changed_at = $2,
			failed_login_count = 0, locked_until = null, updated_at = $2
		where id = $3`,
		passwordHash, changedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return expectOneRow(result, auth.ErrAccountNotFound)
}

// RehashPassword replaces the hash only.
func (r *AccountRepository) RehashPassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`update accounts set password_hash = $1 where id = $2`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("rehashing password: %w", err)
	}
	return expectOneRow(result, auth.ErrAccountNotFound)
}

// RecordFailedLogin increments the counter and applies the lock in one
// UPDATE ... RETURNING. Row locking makes concurrent failures each count once.
func (r *AccountRepository) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, at, lockUntil time.Time) (auth.LoginFailure, error) {
	var f auth.LoginFailure
	var lockedUntil sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		update accounts set
			failed_login_count = failed_login_count + 1,
			locked_until = case when failed_login_count + 1 >= $1 then $2 else locked_until end,
			updated_at = $3
		where id = $4 and (locked_until is null or locked_until <= $3)
		returning failed_login_count, locked_until`,
		maxAttempts, lockUntil.UTC(), at.UTC(), id,
	).Scan(&f.FailedCount, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return r.currentLock(ctx, id)
	}
	if err != nil {
		return f, fmt.Errorf("recording failed login: %w", err)
	}
	f.LockedUntil = timePtr(lockedUntil)
	return f, nil
}

func (r *AccountRepository) currentLock(ctx context.Context, id string) (auth.LoginFailure, error) {
	f := auth.LoginFailure{AlreadyLocked: true}
	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`select failed_login_count, locked_until from accounts where id = $1`, id,
	).Scan(&f.FailedCount, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return f, auth.ErrAccountNotFound
	}
	if err != nil {
		return f, fmt.Errorf("reading lock state: %w", err)
	}
	f.LockedUntil = timePtr(lockedUntil)
	return f, nil
}

// RecordSuccessfulLogin resets the counter and lock and bumps login stats.
func (r *AccountRepository) RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		update accounts set failed_login_count = 0, locked_until = null,
			last_login_at = $1, login_count = login_count + 1, updated_at = $1
		where id = $2`,
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("recording successful login: %w", err)
	}
	return expectOneRow(result, auth.ErrAccountNotFound)
}

// ClearExpiredLock resets an expired lock and leaves a lock in force alone.
func (r *AccountRepository) ClearExpiredLock(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		update accounts set failed_login_count = 0, locked_until = null, updated_at = $1
		where id = $2 and locked_until is not null and locked_until <= $1`,
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("clearing expired lock: %w", err)
	}
	return nil
}

// Lock sets locked_until administratively.
func (r *AccountRepository) Lock(ctx context.Context, id string, until time.Time, actor string) error {
	result, err := r.db.ExecContext(ctx, `
		update accounts set locked_until = $1, updated_by = $2, updated_at = $3
		where id = $4 and not is_deleted`,
		until.UTC(), nullIfEmpty(actor), now(), id,
	)
	if err != nil {
		return fmt.Errorf("locking account: %w", err)
	}
	return expectOneRow(result, auth.ErrAccountNotFound)
}

// Unlock clears the lock and the failure counter unconditionally.
func (r *AccountRepository) Unlock(ctx context.Context, id, actor string) error {
	result, err := r.db.ExecContext(ctx, `
		update accounts set locked_until = null, failed_login_count = 0, updated_by = $1, updated_at = $2
		where id = $3`,
		nullIfEmpty(actor), now(), id,
	)
	if err != nil {
		return fmt.Errorf("unlocking account: %w", err)
	}
	return expectOneRow(result, auth.ErrAccountNotFound)
}

// SoftDelete flags the account deleted and deactivates it.
func (r *AccountRepository) SoftDelete(ctx context.Context, id, actor string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		update accounts set is_deleted = true, is_active = false, deleted_at = $1, deleted_by = $2,
			updated_by = $2, updated_at = $1
		where id = $3 and not is_deleted`,
		at.UTC(), nullIfEmpty(actor), id,
	)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return expectOneRow(result, auth.ErrAccountNotFound)
}

func (r *AccountRepository) getAccount(ctx context.Context, query string, args ...any) (*auth.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrAccountNotFound
	}
	return a, err
}

func scanAccount(s scanner) (*auth.Account, error) {
	var a auth.Account
	var lockedUntil, lastLogin, pwChanged, deletedAt sql.NullTime
	var deletedBy, createdBy, updatedBy sql.NullString

	err := s.Scan(&a.ID, &a.TenantID, &a.Username, &a.Email, &a.DisplayName, &a.PasswordHash,
		&a.IsActive, &a.IsSuperuser, &a.FailedLoginCount, &lockedUntil, &lastLogin, &a.LoginCount,
		&pwChanged, &a.IsDeleted, &deletedAt, &deletedBy, &createdBy, &updatedBy,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	a.LockedUntil = timePtr(lockedUntil)
	a.LastLoginAt = timePtr(lastLogin)
	a.PasswordChangedAt = timePtr(pwChanged)
	a.DeletedAt = timePtr(deletedAt)
	a.DeletedBy = deletedBy.String
	a.CreatedBy = createdBy.String
	a.UpdatedBy = updatedBy.String
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}
