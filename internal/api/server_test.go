package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/warden-core/internal/infrastructure/logging"
)

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no logger expected error, got nil")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() with no auth service expected error, got nil")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	decode(t, w, &resp)

	if resp.Status != "ok" {
		t.Errorf("status = %v, want ok", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %v, want test", resp.Version)
	}
	if resp.Checks["database"] != "ok" {
		t.Errorf("checks[database] = %q, want ok", resp.Checks["database"])
	}
}

func TestHealth_DegradedDependency(t *testing.T) {
	env := newTestEnv(t)
	env.srv.health = append(env.srv.health, HealthChecker{
		Name:  "mqtt",
		Check: func(context.Context) error { return errors.New("not connected") },
	})
	handler := env.srv.Handler()

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := newRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(w.Body.String(), `"mqtt":"unhealthy"`) {
		t.Errorf("body = %s, want mqtt unhealthy", w.Body.String())
	}
}

func TestHealth_ContentType(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/v1/health", "", nil)

	w := env.do(t, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "warden_http_requests_total") {
		t.Error("metrics output missing warden_http_requests_total")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	// ULIDs are 26 characters of Crockford base32.
	if got := w.Header().Get("X-Request-ID"); len(got) != 26 {
		t.Errorf("X-Request-ID = %q, want a 26 character ULID", got)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := newRecorder()
	env.handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
	w := newRecorder()
	env.handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); len(got) != 26 {
		t.Errorf("X-Request-ID length = %d, want 26", len(got))
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := newRecorder()
	env.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.CORS.AllowedOrigins = []string{"https://console.example.com"}
	handler := env.srv.Handler()

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := newRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestBodySizeLimit(t *testing.T) {
	env := newTestEnv(t)

	body := `{"tenant_id":"tower-a","username":"` + strings.Repeat("a", maxRequestBodySize) + `","password":"x"}`
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	w := newRecorder()
	env.handler.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

// freePort asks the kernel for an unused TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServer_StartAndClose(t *testing.T) {
	env := newTestEnv(t)
	port := freePort(t)
	env.srv.cfg.Port = port

	if err := env.srv.HealthCheck(t.Context()); err == nil {
		t.Error("HealthCheck() before Start expected error, got nil")
	}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	if err := env.srv.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	addr := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	var resp *http.Response
	var err error
	for range 50 {
		resp, err = http.Get(addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() after Start error = %v", err)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get(addr); err == nil {
		t.Error("server still responding after Close()")
	}
}
