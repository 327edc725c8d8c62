package events

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/warden-core/internal/audit"
	"github.com/nerrad567/warden-core/internal/auth"
	"github.com/nerrad567/warden-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/warden-core/internal/metrics"
)

type memoryAudit struct {
	mu   sync.Mutex
	logs []*audit.AuditLog
	err  error
}

func (m *memoryAudit) Create(_ context.Context, log *audit.AuditLog) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.logs = append(m.logs, log)
	m.mu.Unlock()
	return nil
}

func (m *memoryAudit) List(context.Context, audit.Filter) (*audit.ListResult, error) {
	return &audit.ListResult{}, nil
}

func TestAuditEntry(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		ev         auth.SecurityEvent
		wantEntity string
		wantUser   string
	}{
		{
			name:       "admin lock records actor",
			ev:         auth.SecurityEvent{Kind: auth.EventAccountLocked, TenantID: "t1", AccountID: "acc-1", ActorID: "admin-1", Reason: "admin", OccurredAt: at},
			wantEntity: "account",
			wantUser:   "admin-1",
		},
		{
			name:       "self-service falls back to subject",
			ev:         auth.SecurityEvent{Kind: auth.EventLoginSucceeded, TenantID: "t1", AccountID: "acc-1", OccurredAt: at},
			wantEntity: "account",
			wantUser:   "acc-1",
		},
		{
			name:       "role creation",
			ev:         auth.SecurityEvent{Kind: auth.EventRoleCreated, TenantID: "t1", ActorID: "admin-1", OccurredAt: at},
			wantEntity: "role",
			wantUser:   "admin-1",
		},
		{
			name:       "logout is a session event",
			ev:         auth.SecurityEvent{Kind: auth.EventLogout, TenantID: "t1", AccountID: "acc-1", OccurredAt: at},
			wantEntity: "session",
			wantUser:   "acc-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := AuditEntry(tt.ev)
			if entry.Action != string(tt.ev.Kind) {
				t.Errorf("Action = %q, want %q", entry.Action, tt.ev.Kind)
			}
			if entry.EntityType != tt.wantEntity {
				t.Errorf("EntityType = %q, want %q", entry.EntityType, tt.wantEntity)
			}
			if entry.UserID != tt.wantUser {
				t.Errorf("UserID = %q, want %q", entry.UserID, tt.wantUser)
			}
			if entry.TenantID != "t1" || entry.Source != auditSource || !entry.CreatedAt.Equal(at) {
				t.Errorf("entry = %+v", entry)
			}
		})
	}
}

func TestAuditEntry_DoesNotMutateEventDetails(t *testing.T) {
	details := map[string]any{"failed_count": 3}
	ev := auth.SecurityEvent{Kind: auth.EventLoginFailed, TenantID: "t1", Reason: "invalid_credentials", Username: "alice", RemoteAddr: "10.0.0.5", Details: details}

	entry := AuditEntry(ev)

	if len(details) != 1 {
		t.Errorf("event details mutated: %v", details)
	}
	for _, key := range []string{"failed_count", "reason", "username", "remote_addr"} {
		if _, ok := entry.Details[key]; !ok {
			t.Errorf("Details missing %q", key)
		}
	}
}

func TestAuditSink(t *testing.T) {
	repo := &memoryAudit{}
	sink := NewAuditSink(repo)

	if err := sink.Handle(context.Background(), event(auth.EventAccountUnlocked)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(repo.logs) != 1 || repo.logs[0].Action != "account.unlocked" {
		t.Errorf("logs = %+v", repo.logs)
	}

	repo.err = errors.New("locked database")
	if err := sink.Handle(context.Background(), event(auth.EventAccountUnlocked)); err == nil {
		t.Error("Handle() expected error from failing repository")
	}
}

type fakePublisher struct {
	topics   []string
	retained []bool
	err      error
}

func (p *fakePublisher) PublishJSON(topic string, _ any, _ byte, retained bool) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.retained = append(p.retained, retained)
	return nil
}

func TestMQTTSink_TopicAndRetain(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, mqtt.NewTopics("warden"), 1, 0, 0)

	if err := sink.Handle(context.Background(), event(auth.EventAccountLocked)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(pub.topics) != 1 || pub.topics[0] != "warden/t1/security/account.locked" {
		t.Errorf("topics = %v", pub.topics)
	}
	if pub.retained[0] {
		t.Error("security events must not be retained")
	}
}

func TestMQTTSink_Throttle(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, mqtt.NewTopics("warden"), 1, 0.001, 2)

	for i := range 2 {
		if err := sink.Handle(context.Background(), event(auth.EventLoginFailed)); err != nil {
			t.Fatalf("Handle() #%d error = %v", i+1, err)
		}
	}
	if err := sink.Handle(context.Background(), event(auth.EventLoginFailed)); !errors.Is(err, ErrThrottled) {
		t.Errorf("Handle() beyond burst error = %v, want ErrThrottled", err)
	}
	if len(pub.topics) != 2 {
		t.Errorf("published %d, want 2", len(pub.topics))
	}
}

func TestMQTTSink_PublishError(t *testing.T) {
	pub := &fakePublisher{err: mqtt.ErrNotConnected}
	sink := NewMQTTSink(pub, mqtt.NewTopics("warden"), 1, 0, 0)

	err := sink.Handle(context.Background(), event(auth.EventLogout))
	if !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Handle() error = %v, want ErrNotConnected", err)
	}
}

type fakeTelemetry struct {
	kinds   []string
	reasons []string
}

func (f *fakeTelemetry) WriteSecurityEvent(_ string, kind, reason string, _ time.Time) {
	f.kinds = append(f.kinds, kind)
	f.reasons = append(f.reasons, reason)
}

func TestTelemetrySink(t *testing.T) {
	w := &fakeTelemetry{}
	ev := event(auth.EventLoginFailed)
	ev.Reason = "invalid_credentials"

	if err := NewTelemetrySink(w).Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(w.kinds) != 1 || w.kinds[0] != "login.failed" || w.reasons[0] != "invalid_credentials" {
		t.Errorf("written kinds=%v reasons=%v", w.kinds, w.reasons)
	}
}

func TestMetricsSink(t *testing.T) {
	m := metrics.New()
	sink := NewMetricsSink(m)

	policyLock := event(auth.EventAccountLocked)
	policyLock.Reason = "max_attempts"
	adminLock := event(auth.EventAccountLocked)
	adminLock.Reason = "admin"

	for _, ev := range []auth.SecurityEvent{policyLock, adminLock, event(auth.EventLoginSucceeded)} {
		if err := sink.Handle(context.Background(), ev); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`warden_account_lockouts_total{source="policy"} 1`,
		`warden_account_lockouts_total{source="admin"} 1`,
		`warden_security_events_total{kind="account.locked"} 2`,
		`warden_security_events_total{kind="login.succeeded"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
