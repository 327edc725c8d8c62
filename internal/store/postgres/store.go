package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nerrad567/warden-core/internal/infrastructure/config"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

//go:embed schema.sql
var schema string

// Store owns the connection pool and hands out the repositories.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg config.IdentityStoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing pool. Used by tests.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// HealthCheck pings the server.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema applies the embedded schema. Safe to call on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: applying schema: %w", err)
	}
	return nil
}

// Accounts returns the account repository.
func (s *Store) Accounts() *AccountRepository { return &AccountRepository{db: s.db} }

// Roles returns the role repository.
func (s *Store) Roles() *RoleRepository { return &RoleRepository{db: s.db} }

// Tenants returns the tenant repository.
func (s *Store) Tenants() *TenantRepository { return &TenantRepository{db: s.db} }

// Sessions returns the session repository.
func (s *Store) Sessions() *SessionRepository { return &SessionRepository{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isUniqueViolation(err error) (*pgconn.PgError, bool) {
	pgErr, ok := maybePgError(err)
	return pgErr, ok && pgErr.Code == pgErrUniqueViolation
}

func isForeignKeyViolation(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == pgErrForeignKeyViolation
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func expectOneRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}
