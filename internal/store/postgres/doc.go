// Package postgres implements the identity repositories (accounts, roles,
// tenants, sessions) on PostgreSQL through the pgx database/sql driver.
//
// It is the alternative to the SQLite repositories in package auth and is
// selected with identity_store.driver: postgres. The schema is embedded and
// applied idempotently by EnsureSchema.
package postgres
