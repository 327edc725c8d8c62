package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nerrad567/warden-core/internal/auth"
)

var _ auth.SessionRepository = (*SessionRepository)(nil)

const sessionColumns = `id, account_id, tenant_id, refresh_fingerprint, device_type, device_name,
	user_agent, ip_address, is_active, last_activity_at, expires_at, created_at`

// SessionRepository implements auth.SessionRepository on PostgreSQL.
type SessionRepository struct {
	db *sql.DB
}

// Create inserts a session. The ID is a ULID generated if empty.
func (r *SessionRepository) Create(ctx context.Context, s *auth.Session) error {
	if s.ID == "" {
		s.ID = ulid.Make().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now()
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = s.CreatedAt
	}

	_, err := r.db.ExecContext(ctx,
		`insert into sessions (`+sessionColumns+`)
		 values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.AccountID, s.TenantID, s.RefreshFingerprint, s.DeviceType, s.DeviceName,
		s.UserAgent, s.IPAddress, s.IsActive, s.LastActivityAt, s.ExpiresAt, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetByFingerprint returns the session opened with the given refresh token.
func (r *SessionRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*auth.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where refresh_fingerprint = $1`, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrSessionNotFound
	}
	return s, err
}

// ListActive returns an account's active, unexpired sessions, newest first.
func (r *SessionRepository) ListActive(ctx context.Context, accountID string, at time.Time) ([]auth.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`select `+sessionColumns+` from sessions
		 where account_id = $1 and is_active and expires_at > $2
		 order by last_activity_at desc`,
		accountID, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []auth.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Touch records activity on a session.
func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`update sessions set last_activity_at = $1 where id = $2`, at.UTC(), id); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// Deactivate marks one session inactive.
func (r *SessionRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `update sessions set is_active = false where id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivating session: %w", err)
	}
	return expectOneRow(result, auth.ErrSessionNotFound)
}

// DeactivateAll marks every session of an account inactive.
func (r *SessionRepository) DeactivateAll(ctx context.Context, accountID string) error {
	if _, err := r.db.ExecContext(ctx,
		`update sessions set is_active = false where account_id = $1 and is_active`, accountID); err != nil {
		return fmt.Errorf("deactivating sessions: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry and returns how many.
func (r *SessionRepository) DeleteExpired(ctx context.Context, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `delete from sessions where expires_at <= $1`, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return count, nil
}

func scanSession(sc scanner) (*auth.Session, error) {
	var s auth.Session
	err := sc.Scan(&s.ID, &s.AccountID, &s.TenantID, &s.RefreshFingerprint, &s.DeviceType,
		&s.DeviceName, &s.UserAgent, &s.IPAddress, &s.IsActive, &s.LastActivityAt, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	s.LastActivityAt = s.LastActivityAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}
