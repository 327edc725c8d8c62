package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nerrad567/warden-core/internal/auth"
)

var accountCols = []string{
	"id", "tenant_id", "username", "email", "display_name", "password_hash",
	"is_active", "is_superuser", "failed_login_count", "locked_until", "last_login_at", "login_count",
	"password_changed_at", "is_deleted", "deleted_at", "deleted_by", "created_by", "updated_by",
	"created_at", "updated_at",
}

var roleCols = []string{"id", "tenant_id", "code", "name", "description", "is_active", "is_system", "created_at", "updated_at"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestEnsureSchema(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS tenants")).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
}

func TestAccountCreate_MapsConstraintErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"email", &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "accounts_tenant_email_key"}, auth.ErrEmailExists},
		{"username", &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "accounts_tenant_username_key"}, auth.ErrUsernameExists},
		{"tenant", &pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "accounts_tenant_id_fkey"}, auth.ErrTenantNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMock(t)
			mock.ExpectBegin()
			mock.ExpectExec("insert into accounts").WillReturnError(tt.err)
			mock.ExpectRollback()

			err := s.Accounts().Create(context.Background(), &auth.Account{
				TenantScope: auth.TenantScope{TenantID: "tower-a"},
				Username:    "alice",
				Email:       "Alice@Example.com",
			})
			if !errors.Is(err, tt.want) {
				t.Errorf("Create() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAccountCreate_LowercasesEmail(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into accounts").
		WithArgs(sqlmock.AnyArg(), "tower-a", "alice", "alice@example.com", sqlmock.AnyArg(), sqlmock.AnyArg(),
			true, false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	a := &auth.Account{
		TenantScope: auth.TenantScope{TenantID: "tower-a"},
		Username:    "alice",
		Email:       "Alice@Example.com",
		IsActive:    true,
	}
	if err := s.Accounts().Create(context.Background(), a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if a.ID == "" {
		t.Error("Create() did not assign an ID")
	}
}

func TestAccountCreate_WithAssignments(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into accounts").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into role_assignments").
		WithArgs(sqlmock.AnyArg(), "acc-new", "role-guard", "tower-a", sqlmock.AnyArg(), sqlmock.AnyArg(), "acc-admin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ra := &auth.RoleAssignment{RoleID: "role-guard", TenantID: "tower-a", CreatedBy: "acc-admin"}
	a := &auth.Account{ID: "acc-new", TenantScope: auth.TenantScope{TenantID: "tower-a"}, Username: "gina"}
	if err := s.Accounts().Create(context.Background(), a, ra); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ra.AccountID != "acc-new" || ra.ID == "" {
		t.Errorf("assignment = %+v, want account acc-new and a generated ID", ra)
	}
}

func TestAccountCreate_RollsBackOnAssignmentFailure(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into accounts").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into role_assignments").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "role_assignments_role_id_fkey"})
	mock.ExpectRollback()

	err := s.Accounts().Create(context.Background(),
		&auth.Account{TenantScope: auth.TenantScope{TenantID: "tower-a"}, Username: "gina"},
		&auth.RoleAssignment{RoleID: "role-missing", TenantID: "tower-a"})
	if !errors.Is(err, auth.ErrRoleNotFound) {
		t.Errorf("Create() error = %v, want ErrRoleNotFound", err)
	}
}

func TestAccountGetByUsername(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	locked := created.Add(15 * time.Minute)

	mock.ExpectQuery("select .* from accounts where tenant_id = \\$1 and username = \\$2").
		WithArgs("tower-a", "alice").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(
			"acc-1", "tower-a", "alice", "alice@example.com", "Alice", "hash",
			true, false, 5, locked, nil, 3,
			nil, false, nil, nil, "acc-admin", nil,
			created, created,
		))

	a, err := s.Accounts().GetByUsername(context.Background(), "tower-a", "alice")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	if a.ID != "acc-1" || a.TenantID != "tower-a" || a.FailedLoginCount != 5 {
		t.Errorf("GetByUsername() = %+v", a)
	}
	if !a.IsLocked(created) {
		t.Error("IsLocked() = false, want true before locked_until")
	}
	if a.LastLoginAt != nil {
		t.Errorf("LastLoginAt = %v, want nil", a.LastLoginAt)
	}
	if a.CreatedBy != "acc-admin" || a.UpdatedBy != "" {
		t.Errorf("audit fields = %q/%q", a.CreatedBy, a.UpdatedBy)
	}
}

func TestAccountList_Filters(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	active := true

	mock.ExpectQuery(`select count\(\*\) from accounts where tenant_id = \$1 and not is_deleted ` +
		`and \(lower\(username\) like \$2 or lower\(email\) like \$2 or lower\(display_name\) like \$2\) ` +
		`and is_active = \$3 and exists \(.* r.code = \$4 .* ra.start_at <= \$5\)`).
		WithArgs("tower-a", `%al\_i%`, true, "guard", at).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery(`select .* from accounts where .* order by created_at, username limit \$6 offset \$7`).
		WithArgs("tower-a", `%al\_i%`, true, "guard", at, int64(10), int64(20)).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(
			"acc-1", "tower-a", "al_ice", "alice@example.com", "Alice", "hash",
			true, false, 0, nil, nil, 0,
			nil, false, nil, nil, nil, nil,
			at, at,
		))

	page, err := s.Accounts().List(context.Background(), auth.AccountFilter{
		TenantID: "tower-a",
		Query:    " AL_I ",
		RoleCode: "guard",
		At:       at,
		Active:   &active,
		Limit:    10,
		Offset:   20,
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 21 || len(page.Accounts) != 1 || page.Accounts[0].Username != "al_ice" {
		t.Errorf("List() = %+v", page)
	}
	if page.Limit != 10 || page.Offset != 20 {
		t.Errorf("page bounds = %d/%d, want 10/20", page.Limit, page.Offset)
	}
}

func TestAccountGetByID_NotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select .* from accounts where id = \\$1").
		WithArgs("acc-missing").
		WillReturnRows(sqlmock.NewRows(accountCols))

	_, err := s.Accounts().GetByID(context.Background(), "acc-missing")
	if !errors.Is(err, auth.ErrAccountNotFound) {
		t.Errorf("GetByID() error = %v, want ErrAccountNotFound", err)
	}
}

func TestAccountUpdate_NoRows(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update accounts set email").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Accounts().Update(context.Background(), &auth.Account{ID: "acc-gone"})
	if !errors.Is(err, auth.ErrAccountNotFound) {
		t.Errorf("Update() error = %v, want ErrAccountNotFound", err)
	}
}

func TestRecordFailedLogin_LocksAtThreshold(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	until := now.Add(15 * time.Minute)

	mock.ExpectQuery("update accounts set\\s+failed_login_count = failed_login_count \\+ 1").
		WithArgs(5, until, now, "acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_count", "locked_until"}).AddRow(5, until))

	f, err := s.Accounts().RecordFailedLogin(context.Background(), "acc-1", 5, now, until)
	if err != nil {
		t.Fatalf("RecordFailedLogin() error = %v", err)
	}
	if f.FailedCount != 5 || !f.Locked(now) || f.AlreadyLocked {
		t.Errorf("RecordFailedLogin() = %+v, want count 5 and freshly locked", f)
	}
}

func TestRecordFailedLogin_AlreadyLocked(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	existing := now.Add(10 * time.Minute)

	mock.ExpectQuery("update accounts set").
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_count", "locked_until"}))
	mock.ExpectQuery("select failed_login_count, locked_until from accounts").
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_count", "locked_until"}).AddRow(5, existing))

	f, err := s.Accounts().RecordFailedLogin(context.Background(), "acc-1", 5, now, now.Add(15*time.Minute))
	if err != nil {
		t.Fatalf("RecordFailedLogin() error = %v", err)
	}
	if !f.AlreadyLocked {
		t.Error("AlreadyLocked = false, want true")
	}
	if f.LockedUntil == nil || !f.LockedUntil.Equal(existing) {
		t.Errorf("LockedUntil = %v, want the existing lock %v", f.LockedUntil, existing)
	}
}

func TestSetRolePermissions_SystemRoleImmutable(t *testing.T) {
	s, mock := newMock(t)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("select .* from roles where id = \\$1").
		WithArgs("role-admin").
		WillReturnRows(sqlmock.NewRows(roleCols).AddRow("role-admin", "", "admin", "Admin", "", true, true, ts, ts))
	mock.ExpectQuery("select permission_code from role_permissions").
		WillReturnRows(sqlmock.NewRows([]string{"permission_code"}).AddRow("user:manage"))

	err := s.Roles().SetRolePermissions(context.Background(), "role-admin", []string{"user:view"})
	if !errors.Is(err, auth.ErrSystemRole) {
		t.Errorf("SetRolePermissions() error = %v, want ErrSystemRole", err)
	}
}

func TestSetRolePermissions_UnknownCodeRollsBack(t *testing.T) {
	s, mock := newMock(t)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("select .* from roles where id = \\$1").
		WillReturnRows(sqlmock.NewRows(roleCols).AddRow("role-guard", "tower-a", "guard", "Guard", "", true, false, ts, ts))
	mock.ExpectQuery("select permission_code from role_permissions").
		WillReturnRows(sqlmock.NewRows([]string{"permission_code"}))
	mock.ExpectBegin()
	mock.ExpectExec("delete from role_permissions").WithArgs("role-guard").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("role-guard", "door:teleport").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	err := s.Roles().SetRolePermissions(context.Background(), "role-guard", []string{"door:teleport"})
	if !errors.Is(err, auth.ErrPermissionUnknown) {
		t.Errorf("SetRolePermissions() error = %v, want ErrPermissionUnknown", err)
	}
}

func TestEffectiveGrants_CollapsesRows(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("select distinct r.code, rp.permission_code").
		WithArgs("acc-1", "tower-a", now).
		WillReturnRows(sqlmock.NewRows([]string{"code", "permission_code"}).
			AddRow("resident", "door:open").
			AddRow("guard", "door:open").
			AddRow("guard", "device:view").
			AddRow("visitor", nil))

	g, err := s.Roles().EffectiveGrants(context.Background(), "acc-1", "tower-a", now)
	if err != nil {
		t.Fatalf("EffectiveGrants() error = %v", err)
	}
	wantRoles := []string{"guard", "resident", "visitor"}
	wantPerms := []string{"device:view", "door:open"}
	if len(g.Roles) != len(wantRoles) || len(g.Permissions) != len(wantPerms) {
		t.Fatalf("EffectiveGrants() = %+v", g)
	}
	for i := range wantRoles {
		if g.Roles[i] != wantRoles[i] {
			t.Errorf("Roles[%d] = %q, want %q", i, g.Roles[i], wantRoles[i])
		}
	}
	for i := range wantPerms {
		if g.Permissions[i] != wantPerms[i] {
			t.Errorf("Permissions[%d] = %q, want %q", i, g.Permissions[i], wantPerms[i])
		}
	}
}

func TestRevoke_NoAssignment(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("delete from role_assignments").
		WithArgs("acc-1", "role-x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Roles().Revoke(context.Background(), "acc-1", "role-x")
	if !errors.Is(err, auth.ErrAssignmentNotFound) {
		t.Errorf("Revoke() error = %v, want ErrAssignmentNotFound", err)
	}
}

func TestTenantGetByID_DecodesSettings(t *testing.T) {
	s, mock := newMock(t)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	settings := []byte(`{"security":{"max_login_attempts":3,"lockout_duration_minutes":30},"features":{"intercom":false},"limits":{}}`)

	mock.ExpectQuery("select id, name, domain, is_active, settings, created_at, updated_at from tenants where id = \\$1").
		WithArgs("tower-a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "domain", "is_active", "settings", "created_at", "updated_at"}).
			AddRow("tower-a", "Tower A", nil, true, settings, ts, ts))

	tenant, err := s.Tenants().GetByID(context.Background(), "tower-a")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if tenant.Settings.Security.MaxLoginAttempts != 3 || tenant.Settings.Security.LockoutDurationMinutes != 30 {
		t.Errorf("Settings.Security = %+v", tenant.Settings.Security)
	}
	if enabled, ok := tenant.Settings.Features["intercom"]; !ok || enabled {
		t.Errorf("Features[intercom] = %v, %v; want false, true", enabled, ok)
	}
	if tenant.Domain != "" {
		t.Errorf("Domain = %q, want empty", tenant.Domain)
	}
}

func TestTenantGetByID_NotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from tenants where id").WillReturnError(sql.ErrNoRows)

	_, err := s.Tenants().GetByID(context.Background(), "nowhere")
	if !errors.Is(err, auth.ErrTenantNotFound) {
		t.Errorf("GetByID() error = %v, want ErrTenantNotFound", err)
	}
}

func TestTenantCreate_Duplicate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into tenants").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "tenants_pkey"})

	err := s.Tenants().Create(context.Background(), &auth.Tenant{ID: "tower-a", Name: "Tower A"})
	if !errors.Is(err, auth.ErrTenantExists) {
		t.Errorf("Create() error = %v, want ErrTenantExists", err)
	}
}

func TestSessionDeleteExpired(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("delete from sessions where expires_at <= \\$1").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.Sessions().DeleteExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 3 {
		t.Errorf("DeleteExpired() = %d, want 3", n)
	}
}

func TestSessionCreate_DefaultsIDAndActivity(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into sessions").WillReturnResult(sqlmock.NewResult(1, 1))

	sess := &auth.Session{AccountID: "acc-1", TenantID: "tower-a", RefreshFingerprint: auth.Fingerprint("raw"), IsActive: true}
	if err := s.Sessions().Create(context.Background(), sess); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.ID == "" {
		t.Error("Create() did not assign an ID")
	}
	if !sess.LastActivityAt.Equal(sess.CreatedAt) {
		t.Errorf("LastActivityAt = %v, want CreatedAt %v", sess.LastActivityAt, sess.CreatedAt)
	}
}
