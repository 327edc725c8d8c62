package api

import (
	"net/http"
	"testing"

	"github.com/nerrad567/warden-core/internal/auth"
)

func TestUsers_CreateListGet(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAccount(t, tenantA, "admin-a", auth.RoleCodeAdmin)
	token := env.login(t, admin)

	w := env.do(t, http.MethodPost, "/api/v1/users", token, map[string]any{
		"username":     "resident-1",
		"email":        "resident-1@example.com",
		"display_name": "Flat 1",
		"password":     "Resident-Pass-1",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created auth.Account
	decode(t, w, &created)
	if created.TenantID != tenantA {
		t.Errorf("tenant_id = %q, want %q", created.TenantID, tenantA)
	}

	w = env.do(t, http.MethodGet, "/api/v1/users", token, nil)
	var list struct {
		Users []auth.Account `json:"users"`
		Count int            `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 2 {
		t.Errorf("count = %d, want 2", list.Count)
	}

	w = env.do(t, http.MethodGet, "/api/v1/users/"+created.ID+"/roles", token, nil)
	var roles struct {
		Assignments []auth.RoleAssignment `json:"assignments"`
	}
	decode(t, w, &roles)
	if len(roles.Assignments) != 1 || roles.Assignments[0].RoleCode != auth.RoleCodeResident {
		t.Errorf("default assignments = %+v, want resident", roles.Assignments)
	}

	w = env.do(t, http.MethodPost, "/api/v1/users", token, map[string]any{
		"username": "resident-1",
		"password": "Resident-Pass-1",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate username status = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/users", token, map[string]any{
		"username": "resident-2",
		"password": "weak",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("weak password status = %d, want 400", w.Code)
	}
	if !env.events.has(auth.EventAccountCreated) {
		t.Error("expected account.created event")
	}
}

func TestUsers_ListSearchAndPaging(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAccount(t, tenantA, "admin-a", auth.RoleCodeAdmin)
	env.seedAccount(t, tenantA, "guard-night", auth.RoleCodeGuard)
	env.seedAccount(t, tenantA, "guard-day", auth.RoleCodeGuard)
	env.seedAccount(t, tenantA, "resident-7")
	env.seedAccount(t, tenantB, "guard-other", auth.RoleCodeGuard)
	token := env.login(t, admin)

	type page struct {
		Users  []auth.Account `json:"users"`
		Count  int            `json:"count"`
		Total  int            `json:"total"`
		Limit  int            `json:"limit"`
		Offset int            `json:"offset"`
	}

	tests := []struct {
		name      string
		query     string
		wantCount int
		wantTotal int
	}{
		{"all", "", 4, 4},
		{"search", "?q=GUARD", 2, 2},
		{"by role", "?role=" + auth.RoleCodeGuard, 2, 2},
		{"search and role", "?q=night&role=" + auth.RoleCodeGuard, 1, 1},
		{"active only", "?active=true", 4, 4},
		{"inactive only", "?active=false", 0, 0},
		{"paged", "?limit=3&offset=2", 2, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/users"+tt.query, token, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			var got page
			decode(t, w, &got)
			if got.Count != tt.wantCount || got.Total != tt.wantTotal {
				t.Errorf("count/total = %d/%d, want %d/%d", got.Count, got.Total, tt.wantCount, tt.wantTotal)
			}
			for _, u := range got.Users {
				if u.TenantID != tenantA {
					t.Errorf("user %s from tenant %s leaked into %s", u.Username, u.TenantID, tenantA)
				}
			}
		})
	}

	var paged page
	decode(t, env.do(t, http.MethodGet, "/api/v1/users?limit=3&offset=2", token, nil), &paged)
	if paged.Limit != 3 || paged.Offset != 2 {
		t.Errorf("limit/offset = %d/%d, want 3/2", paged.Limit, paged.Offset)
	}

	for _, bad := range []string{"?limit=-1", "?offset=x", "?active=maybe"} {
		if w := env.do(t, http.MethodGet, "/api/v1/users"+bad, token, nil); w.Code != http.StatusBadRequest {
			t.Errorf("GET /users%s status = %d, want 400", bad, w.Code)
		}
	}
}
func TestUsers_MissingPermission(t *testing.T) {
	env := newTestEnv(t)
	guard := env.seedAccount(t, tenantA, "guard-1", auth.RoleCodeGuard)
	token := env.login(t, guard)

	w := env.do(t, http.MethodGet, "/api/v1/users", token, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("guard list users status = %d, want 403", w.Code)
	}
	var e Error
	decode(t, w, &e)
	if e.Message != "missing permission: "+auth.PermUserRead {
		t.Errorf("message = %q", e.Message)
	}
	if !env.events.has(auth.EventPermissionDenied) {
		t.Error("expected permission.denied event")
	}
}

func TestUsers_CrossTenantRejected(t *testing.T) {
	env := newTestEnv(t)
	adminA := env.seedAccount(t, tenantA, "admin-a", auth.RoleCodeAdmin)
	residentB := env.seedAccount(t, tenantB, "resident-b", auth.RoleCodeResident)
	token := env.login(t, adminA)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"list other tenant", http.MethodGet, "/api/v1/users?tenant_id=" + tenantB, nil},
		{"get other tenant account", http.MethodGet, "/api/v1/users/" + residentB.ID, nil},
		{"lock other tenant account", http.MethodPost, "/api/v1/users/" + residentB.ID + "/lock", nil},
		{"create in other tenant", http.MethodPost, "/api/v1/users", map[string]any{
			"tenant_id": tenantB, "username": "intruder", "password": "Intruder-Pass-1",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, token, tt.body)
			if w.Code != http.StatusForbidden {
				t.Errorf("status = %d, want 403, body = %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestUsers_SuperuserCrossesTenants(t *testing.T) {
	env := newTestEnv(t)
	root := env.seedSuperuser(t, auth.SystemTenantID, "root")
	env.seedAccount(t, tenantB, "resident-b")
	token := env.login(t, root)

	w := env.do(t, http.MethodGet, "/api/v1/users?tenant_id="+tenantB, token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("superuser list status = %d, want 200", w.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 1 {
		t.Errorf("count = %d, want 1", list.Count)
	}
}

func TestUsers_LockUnlock(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAccount(t, tenantA, "admin-a", auth.RoleCodeAdmin)
	bob := env.seedAccount(t, tenantA, "bob")
	token := env.login(t, admin)

	w := env.do(t, http.MethodPost, "/api/v1/users/"+bob.ID+"/lock", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("lock status = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"tenant_id": tenantA, "username": "bob", "password": testPassword,
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("login while locked status = %d, want 401", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("locked login without Retry-After")
	}

	w = env.do(t, http.MethodPost, "/api/v1/users/"+bob.ID+"/unlock", token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("unlock status = %d", w.Code)
	}
	env.login(t, bob)

	// Admins cannot lock themselves out.
	w = env.do(t, http.MethodPost, "/api/v1/users/"+admin.ID+"/lock", token, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("self lock status = %d, want 403", w.Code)
	}
}

func TestUsers_SuperuserProtected(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAccount(t, tenantA, "admin-a", auth.RoleCodeAdmin)
	super := env.seedSuperuser(t, tenantA, "building-owner")
	token := env.login(t, admin)

	for _, path := range []string{"/lock", "/password"} {
		var body any
		if path == "/password" {
			body = map[string]string{"new_password": "Takeover-Pass-1"}
		}
		w := env.do(t, http.MethodPost, "/api/v1/users/"+super.ID+path, token, body)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s on superuser status = %d, want 403", path, w.Code)
		}
	}
}

func TestUsers_UpdateDeleteAndReset(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAccount(t, tenantA, "admin-a", auth.RoleCodeAdmin)
	bob := env.seedAccount(t, tenantA, "bob")
	token := env.login(t, admin)

	w := env.do(t, http.MethodPatch, "/api/v1/users/"+bob.ID, token, map[string]any{
		"display_name": "Robert",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}
	var updated auth.Account
	decode(t, w, &updated)
	if updated.DisplayName != "Robert" {
		t.Errorf("display_name = %q, want Robert", updated.DisplayName)
	}

	w = env.do(t, http.MethodPost, "/api/v1/users/"+bob.ID+"/password", token, map[string]string{
		"new_password": "Reset-By-Admin-1",
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d, body = %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"tenant_id": tenantA, "username": "bob", "password": "Reset-By-Admin-1",
	})
	if w.Code != http.StatusOK {
		t.Errorf("login after reset status = %d", w.Code)
	}

	w = env.do(t, http.MethodDelete, "/api/v1/users/"+bob.ID, token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/v1/users/"+bob.ID, token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", w.Code)
	}
}

// A revoked role keeps working for snapshot checks until the token expires,
// but privileged endpoints re-resolve and refuse immediately.
func TestUsers_LiveCheckSeesRevocation(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAccount(t, tenantA, "admin-a", auth.RoleCodeAdmin)
	token := env.login(t, admin)

	role, err := env.roles.GetRoleByCode(t.Context(), tenantA, auth.RoleCodeAdmin)
	if err != nil {
		t.Fatalf("GetRoleByCode() error = %v", err)
	}
	if err := env.roles.Revoke(t.Context(), admin.ID, role.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/users", token, nil); w.Code != http.StatusOK {
		t.Errorf("snapshot read status = %d, want 200", w.Code)
	}
	w := env.do(t, http.MethodPost, "/api/v1/users", token, map[string]any{
		"username": "late-add", "password": "Late-Addition-1",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("live write status = %d, want 403", w.Code)
	}
}

func TestUsers_AssignAndRevokeRole(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedAccount(t, tenantA, "admin-a", auth.RoleCodeAdmin)
	bob := env.seedAccount(t, tenantA, "bob")
	token := env.login(t, admin)

	guard, err := env.roles.GetRoleByCode(t.Context(), tenantA, auth.RoleCodeGuard)
	if err != nil {
		t.Fatalf("GetRoleByCode() error = %v", err)
	}

	w := env.do(t, http.MethodPost, "/api/v1/users/"+bob.ID+"/roles", token, map[string]any{
		"role_id":  guard.ID,
		"start_at": "2026-06-01T00:00:00Z",
		"end_at":   "2026-05-01T00:00:00Z",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("inverted window status = %d, want 400", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/users/"+bob.ID+"/roles", token, map[string]any{
		"role_id": guard.ID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("assign status = %d, body = %s", w.Code, w.Body.String())
	}

	bobToken := env.login(t, bob)
	if w := env.do(t, http.MethodGet, "/api/v1/devices", bobToken, nil); w.Code != http.StatusOK {
		t.Errorf("guard device list status = %d, want 200", w.Code)
	}

	w = env.do(t, http.MethodDelete, "/api/v1/users/"+bob.ID+"/roles/"+guard.ID, token, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("revoke status = %d", w.Code)
	}
	w = env.do(t, http.MethodDelete, "/api/v1/users/"+bob.ID+"/roles/"+guard.ID, token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("second revoke status = %d, want 404", w.Code)
	}
}
