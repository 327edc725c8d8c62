package auth

import "testing"

// ─── Password hashing (Argon2id) ───────────────

func BenchmarkHashPassword(b *testing.B) {
	for b.Loop() {
		HashPassword("correct-horse-battery-staple") //nolint:errcheck // benchmark
	}
}

func BenchmarkVerifyPassword(b *testing.B) {
	hash, err := HashPassword("correct-horse-battery-staple")
	if err != nil {
		b.Fatalf("HashPassword: %v", err)
	}

	for b.Loop() {
		VerifyPassword("correct-horse-battery-staple", hash)
	}
}

// ─── Tokens (per-request hot path) ──────────────────────────────────

func benchTokenService(b *testing.B) *TokenService {
	b.Helper()
	svc, err := NewTokenService("benchmark-secret-key-32-bytes-xx")
	if err != nil {
		b.Fatalf("NewTokenService: %v", err)
	}
	return svc
}

var benchClaims = AccessClaims{
	AccountID:   "acc-bench",
	TenantID:    "t1",
	Username:    "bench",
	Roles:       []string{RoleCodeOperator},
	Permissions: []string{PermDeviceRead, PermDeviceControl, PermAlarmRead},
	IsActive:    true,
}

func BenchmarkIssueAccess(b *testing.B) {
	svc := benchTokenService(b)
	for b.Loop() {
		svc.IssueAccess(benchClaims, 0) //nolint:errcheck // benchmark
	}
}

func BenchmarkVerifyAccess(b *testing.B) {
	svc := benchTokenService(b)
	token, _, err := svc.IssueAccess(benchClaims, 0)
	if err != nil {
		b.Fatalf("IssueAccess: %v", err)
	}

	for b.Loop() {
		svc.VerifyAccess(token) //nolint:errcheck // benchmark
	}
}

// ─── Authorisation (snapshot path) ──────────────────────────────────

func BenchmarkIdentityHasPermission(b *testing.B) {
	id := &Identity{Permissions: benchClaims.Permissions}
	for b.Loop() {
		id.HasPermission(PermAlarmRead)
	}
}
