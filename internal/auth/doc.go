// Package auth is the authentication and authorisation core of Warden.
//
// It covers:
//   - Argon2id password hashing, with bcrypt hashes from older
//     installations verified and upgraded on login
//   - HS256 access and refresh tokens (access 30 minutes, refresh 7 days)
//   - The login lockout state machine with per-tenant limits
//   - Role and permission resolution with time-bounded assignments
//   - Tenant isolation: every account, role assignment and resource
//     belongs to one tenant and only superusers may cross the boundary
//
// Access tokens carry a snapshot of roles and permissions. Identity.Has*
// answers from that snapshot; Resolver answers from the database. Handlers
// that change roles, locks or accounts use the live path.
//
// Service is the entry point. Repositories are interfaces with SQLite
// implementations in this package and a Postgres implementation in
// internal/store/postgres.
package auth
