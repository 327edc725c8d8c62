package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Fingerprint returns the SHA-256 hex digest of a raw token. Raw refresh
// tokens are never stored.
func Fingerprint(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

const sessionColumns = `id, account_id, tenant_id, refresh_fingerprint, device_type, device_name,
	user_agent, ip_address, is_active, last_activity_at, expires_at, created_at`

// SQLiteSessionRepository implements SessionRepository using SQLite.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SQLite-backed session repository.
func NewSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

// Create inserts a session. The ID is a ULID generated if empty.
func (r *SQLiteSessionRepository) Create(ctx context.Context, s *Session) error {
	if s.ID == "" {
		s.ID = ulid.Make().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = s.CreatedAt
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.AccountID, s.TenantID, s.RefreshFingerprint, s.DeviceType, s.DeviceName,
		s.UserAgent, s.IPAddress, boolToInt(s.IsActive),
		formatTime(s.LastActivityAt), formatTime(s.ExpiresAt), formatTime(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetByFingerprint returns the session opened with the given refresh token.
func (r *SQLiteSessionRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE refresh_fingerprint = ?", fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

// ListActive returns an account's active, unexpired sessions, newest first.
func (r *SQLiteSessionRepository) ListActive(ctx context.Context, accountID string, now time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+sessionColumns+` FROM sessions
		 WHERE account_id = ? AND is_active = 1 AND expires_at > ?
		 ORDER BY last_activity_at DESC`,
		accountID, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
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
func (r *SQLiteSessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET last_activity_at = ? WHERE id = ?", formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// Deactivate marks one session inactive.
func (r *SQLiteSessionRepository) Deactivate(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "UPDATE sessions SET is_active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deactivating session: %w", err)
	}
	return expectOneRow(result, ErrSessionNotFound)
}

// DeactivateAll marks every session of an account inactive. Used after a
// password change or reset.
func (r *SQLiteSessionRepository) DeactivateAll(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET is_active = 0 WHERE account_id = ? AND is_active = 1", accountID)
	if err != nil {
		return fmt.Errorf("deactivating sessions: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry and returns how many.
func (r *SQLiteSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= ?", formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

func scanSession(sc scanner) (*Session, error) {
	var s Session
	var isActive int
	var lastActivity, expiresAt, createdAt string
	err := sc.Scan(&s.ID, &s.AccountID, &s.TenantID, &s.RefreshFingerprint, &s.DeviceType,
		&s.DeviceName, &s.UserAgent, &s.IPAddress, &isActive, &lastActivity, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	s.IsActive = isActive != 0
	s.LastActivityAt = parseTime(lastActivity)
	s.ExpiresAt = parseTime(expiresAt)
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}
