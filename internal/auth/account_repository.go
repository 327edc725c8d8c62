package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const accountColumns = `id, tenant_id, username, email, display_name, password_hash,
	is_active, is_superuser, failed_login_count, locked_until, last_login_at, login_count,
	password_changed_at, is_deleted, deleted_at, deleted_by, created_by, updated_by,
	created_at, updated_at`

// SQLiteAccountRepository implements AccountRepository using SQLite.
type SQLiteAccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new SQLite-backed account repository.
func NewAccountRepository(db *sql.DB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: db}
}

// Create inserts a new account together with its initial role
// assignments in one transaction. IDs are generated if empty.
func (r *SQLiteAccountRepository) Create(ctx context.Context, a *Account, assignments ...*RoleAssignment) error {
	if a.ID == "" {
		a.ID = "acc-" + uuid.NewString()[:8]
	}
	a.Touch(time.Now())

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, tenant_id, username, email, display_name, password_hash,
			is_active, is_superuser, password_changed_at, created_by, updated_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.Username, strings.ToLower(a.Email), a.DisplayName, a.PasswordHash,
		boolToInt(a.IsActive), boolToInt(a.IsSuperuser), formatTimePtr(a.PasswordChangedAt),
		nullString(a.CreatedBy), nullString(a.UpdatedBy),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		if cols, ok := uniqueViolation(err); ok {
			if strings.Contains(cols, "email") {
				return ErrEmailExists
			}
			return ErrUsernameExists
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
func (r *SQLiteAccountRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	return r.getAccount(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
}

// GetByUsername retrieves an account by username within a tenant.
func (r *SQLiteAccountRepository) GetByUsername(ctx context.Context, tenantID, username string) (*Account, error) {
	return r.getAccount(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE tenant_id = ? AND username = ?",
		tenantID, username)
}

// GetByEmail retrieves an account by email within a tenant. Emails are
// stored lower-cased.
func (r *SQLiteAccountRepository) GetByEmail(ctx context.Context, tenantID, email string) (*Account, error) {
	return r.getAccount(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE tenant_id = ? AND email = ?",
		tenantID, strings.ToLower(email))
}

// where builds the WHERE clause for an account listing.
func (f AccountFilter) where() (string, []any) {
	conditions := []string{"tenant_id = ?", "is_deleted = 0"}
	args := []any{f.TenantID}

	if strings.TrimSpace(f.Query) != "" {
		p := f.Pattern()
		conditions = append(conditions,
			`(lower(username) LIKE ? ESCAPE '\' OR lower(email) LIKE ? ESCAPE '\' OR lower(display_name) LIKE ? ESCAPE '\')`)
		args = append(args, p, p, p)
	}
	if f.Active != nil {
		conditions = append(conditions, "is_active = ?")
		args = append(args, boolToInt(*f.Active))
	}
	if f.RoleCode != "" {
		at := formatTime(f.At)
		conditions = append(conditions, `EXISTS (
			SELECT 1 FROM role_assignments ra JOIN roles r ON r.id = ra.role_id
			WHERE ra.account_id = accounts.id AND ra.tenant_id = accounts.tenant_id
			  AND r.code = ? AND r.is_active = 1
			  AND (ra.start_at IS NULL OR ra.start_at <= ?)
			  AND (ra.end_at IS NULL OR ra.end_at > ?))`)
		args = append(args, f.RoleCode, at, at)
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// List returns one page of the tenant's live accounts matching the
// filter, ordered by creation date.
func (r *SQLiteAccountRepository) List(ctx context.Context, filter AccountFilter) (*AccountPage, error) {
	filter.Clamp()
	where, args := filter.where()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts "+where, args...).Scan(&total); err != nil { //nolint:gosec // WHERE built from parameterised conditions
		return nil, fmt.Errorf("counting accounts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, //nolint:gosec // WHERE built from parameterised conditions
		"SELECT "+accountColumns+" FROM accounts "+where+" ORDER BY created_at ASC, username ASC LIMIT ? OFFSET ?",
		append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	accounts := []Account{}
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
	return &AccountPage{Accounts: accounts, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Count returns the number of live accounts in a tenant.
func (r *SQLiteAccountRepository) Count(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM accounts WHERE tenant_id = ? AND is_deleted = 0", tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return count, nil
}

// Update writes profile fields: email, display name, active flag.
func (r *SQLiteAccountRepository) Update(ctx context.Context, a *Account) error {
	a.Touch(time.Now())
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET email = ?, display_name = ?, is_active = ?, updated_by = ?, updated_at = ?
		 WHERE id = ? AND is_deleted = 0`,
		strings.ToLower(a.Email), a.DisplayName, boolToInt(a.IsActive), nullString(a.UpdatedBy),
		formatTime(a.UpdatedAt), a.ID,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return ErrEmailExists
		}
		return fmt.Errorf("updating account: %w", err)
	}
	return expectOneRow(result, ErrAccountNotFound)
}

// UpdatePassword stores a new hash and clears the failure counter and lock.
func (r *SQLiteAccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, password_changed_at = ?,
			failed_login_count = 0, locked_until = NULL, updated_at = ?
		 WHERE id = ?`,
		passwordHash, formatTime(changedAt), formatTime(changedAt), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return expectOneRow(result, ErrAccountNotFound)
}

// RehashPassword replaces the hash only. Used to upgrade legacy hashes.
func (r *SQLiteAccountRepository) RehashPassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE accounts SET password_hash = ? WHERE id = ?", passwordHash, id)
	if err != nil {
		return fmt.Errorf("rehashing password: %w", err)
	}
	return expectOneRow(result, ErrAccountNotFound)
}

// RecordFailedLogin increments the counter and applies the lock in a single
// UPDATE ... RETURNING, so concurrent failures each count once.
func (r *SQLiteAccountRepository) RecordFailedLogin(ctx context.Context, id string, maxAttempts int, now, lockUntil time.Time) (LoginFailure, error) {
	var f LoginFailure
	var lockedUntil sql.NullString
	nowStr := formatTime(now)

	err := r.db.QueryRowContext(ctx,
		`UPDATE accounts SET
			failed_login_count = failed_login_count + 1,
			locked_until = CASE WHEN failed_login_count + 1 >= ? THEN ? ELSE locked_until END,
			updated_at = ?
		 WHERE id = ? AND (locked_until IS NULL OR locked_until <= ?)
		 RETURNING failed_login_count, locked_until`,
		maxAttempts, formatTime(lockUntil), nowStr, id, nowStr,
	).Scan(&f.FailedCount, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return r.currentLock(ctx, id)
	}
	if err != nil {
		return f, fmt.Errorf("recording failed login: %w", err)
	}
	f.LockedUntil = parseNullTime(lockedUntil)
	return f, nil
}

func (r *SQLiteAccountRepository) currentLock(ctx context.Context, id string) (LoginFailure, error) {
	f := LoginFailure{AlreadyLocked: true}
	var lockedUntil sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT failed_login_count, locked_until FROM accounts WHERE id = ?", id,
	).Scan(&f.FailedCount, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return f, ErrAccountNotFound
	}
	if err != nil {
		return f, fmt.Errorf("reading lock state: %w", err)
	}
	f.LockedUntil = parseNullTime(lockedUntil)
	return f, nil
}

// RecordSuccessfulLogin resets the counter and lock and bumps login stats.
func (r *SQLiteAccountRepository) RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET failed_login_count = 0, locked_until = NULL,
			last_login_at = ?, login_count = login_count + 1, updated_at = ?
		 WHERE id = ?`,
		formatTime(at), formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("recording successful login: %w", err)
	}
	return expectOneRow(result, ErrAccountNotFound)
}

// ClearExpiredLock resets an expired lock. A lock still in force is left alone.
func (r *SQLiteAccountRepository) ClearExpiredLock(ctx context.Context, id string, now time.Time) error {
	nowStr := formatTime(now)
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET failed_login_count = 0, locked_until = NULL, updated_at = ?
		 WHERE id = ? AND locked_until IS NOT NULL AND locked_until <= ?`,
		nowStr, id, nowStr,
	)
	if err != nil {
		return fmt.Errorf("clearing expired lock: %w", err)
	}
	return nil
}

// Lock sets locked_until administratively.
func (r *SQLiteAccountRepository) Lock(ctx context.Context, id string, until time.Time, actor string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE accounts SET locked_until = ?, updated_by = ?, updated_at = ? WHERE id = ? AND is_deleted = 0",
		formatTime(until), nullString(actor), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("locking account: %w", err)
	}
	return expectOneRow(result, ErrAccountNotFound)
}

// Unlock clears the lock and the failure counter unconditionally.
func (r *SQLiteAccountRepository) Unlock(ctx context.Context, id, actor string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET locked_until = NULL, failed_login_count = 0, updated_by = ?, updated_at = ?
		 WHERE id = ?`,
		nullString(actor), formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("unlocking account: %w", err)
	}
	return expectOneRow(result, ErrAccountNotFound)
}

// SoftDelete flags the account deleted and deactivates it. Rows are never removed.
func (r *SQLiteAccountRepository) SoftDelete(ctx context.Context, id, actor string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET is_deleted = 1, is_active = 0, deleted_at = ?, deleted_by = ?,
			updated_by = ?, updated_at = ?
		 WHERE id = ? AND is_deleted = 0`,
		formatTime(at), nullString(actor), nullString(actor), formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return expectOneRow(result, ErrAccountNotFound)
}

func (r *SQLiteAccountRepository) getAccount(ctx context.Context, query string, args ...any) (*Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return a, err
}

func scanAccount(s scanner) (*Account, error) {
	var a Account
	var isActive, isSuperuser, isDeleted int
	var lockedUntil, lastLogin, pwChanged, deletedAt, deletedBy, createdBy, updatedBy sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&a.ID, &a.TenantID, &a.Username, &a.Email, &a.DisplayName, &a.PasswordHash,
		&isActive, &isSuperuser, &a.FailedLoginCount, &lockedUntil, &lastLogin, &a.LoginCount,
		&pwChanged, &isDeleted, &deletedAt, &deletedBy, &createdBy, &updatedBy,
		&createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	a.IsActive = isActive != 0
	a.IsSuperuser = isSuperuser != 0
	a.IsDeleted = isDeleted != 0
	a.LockedUntil = parseNullTime(lockedUntil)
	a.LastLoginAt = parseNullTime(lastLogin)
	a.PasswordChangedAt = parseNullTime(pwChanged)
	a.DeletedAt = parseNullTime(deletedAt)
	a.DeletedBy = deletedBy.String
	a.CreatedBy = createdBy.String
	a.UpdatedBy = updatedBy.String
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

func expectOneRow(result sql.Result, notFound error) error {
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return notFound
	}
	return nil
}
