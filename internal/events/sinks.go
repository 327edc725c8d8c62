package events

import (
	"context"
	"fmt"
	"maps"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/warden-core/internal/audit"
	"github.com/nerrad567/warden-core/internal/auth"
	"github.com/nerrad567/warden-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/warden-core/internal/metrics"
)

// auditSource tags audit rows written from security events.
const auditSource = "auth"

// AuditSink persists events to the audit trail.
type AuditSink struct {
	repo audit.Repository
}

// NewAuditSink wraps an audit repository.
func NewAuditSink(repo audit.Repository) *AuditSink {
	return &AuditSink{repo: repo}
}

// Name implements Sink.
func (*AuditSink) Name() string { return "audit" }

// Handle implements Sink.
func (s *AuditSink) Handle(ctx context.Context, ev auth.SecurityEvent) error {
	if err := s.repo.Create(ctx, AuditEntry(ev)); err != nil {
		return fmt.Errorf("writing audit entry: %w", err)
	}
	return nil
}

// AuditEntry converts an event into an audit row. The acting account is
// recorded as the user; self-service events fall back to the subject.
func AuditEntry(ev auth.SecurityEvent) *audit.AuditLog {
	details := make(map[string]any, len(ev.Details)+3)
	maps.Copy(details, ev.Details)
	if ev.Reason != "" {
		details["reason"] = ev.Reason
	}
	if ev.Username != "" {
		details["username"] = ev.Username
	}
	if ev.RemoteAddr != "" {
		details["remote_addr"] = ev.RemoteAddr
	}

	userID := ev.ActorID
	if userID == "" {
		userID = ev.AccountID
	}

	return &audit.AuditLog{
		TenantID:   ev.TenantID,
		Action:     string(ev.Kind),
		EntityType: entityTypeFor(ev),
		EntityID:   ev.AccountID,
		UserID:     userID,
		Source:     auditSource,
		Details:    details,
		CreatedAt:  ev.OccurredAt,
	}
}

func entityTypeFor(ev auth.SecurityEvent) string {
	switch ev.Kind {
	case auth.EventRoleCreated:
		return "role"
	case auth.EventRateLimitTriggered:
		return "request"
	case auth.EventLogout, auth.EventTokenRefreshed:
		return "session"
	default:
		return "account"
	}
}

// Publisher is the subset of the MQTT client the MQTT sink uses.
type Publisher interface {
	PublishJSON(topic string, v any, qos byte, retained bool) error
}

// MQTTSink publishes events to the building bus under
// {prefix}/{tenant}/security/{kind}, throttled by a token bucket.
type MQTTSink struct {
	pub     Publisher
	topics  mqtt.Topics
	qos     byte
	limiter *rate.Limiter
}

// NewMQTTSink creates an MQTT sink allowing perSecond publishes with the
// given burst. perSecond <= 0 disables throttling.
func NewMQTTSink(pub Publisher, topics mqtt.Topics, qos byte, perSecond float64, burst int) *MQTTSink {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &MQTTSink{
		pub:     pub,
		topics:  topics,
		qos:     qos,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Name implements Sink.
func (*MQTTSink) Name() string { return "mqtt" }

// Handle implements Sink. Events are never retained: a panel joining later
// must not act on a stale lockout.
func (s *MQTTSink) Handle(_ context.Context, ev auth.SecurityEvent) error {
	if !s.limiter.Allow() {
		return ErrThrottled
	}
	topic := s.topics.SecurityEvent(ev.TenantID, string(ev.Kind))
	if err := s.pub.PublishJSON(topic, ev, s.qos, false); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// TelemetryWriter is the subset of the InfluxDB client the telemetry sink uses.
type TelemetryWriter interface {
	WriteSecurityEvent(tenantID, kind, reason string, at time.Time)
}

// TelemetrySink records events as time series points.
type TelemetrySink struct {
	w TelemetryWriter
}

// NewTelemetrySink wraps a telemetry writer.
func NewTelemetrySink(w TelemetryWriter) *TelemetrySink {
	return &TelemetrySink{w: w}
}

// Name implements Sink.
func (*TelemetrySink) Name() string { return "influxdb" }

// Handle implements Sink.
func (s *TelemetrySink) Handle(_ context.Context, ev auth.SecurityEvent) error {
	s.w.WriteSecurityEvent(ev.TenantID, string(ev.Kind), ev.Reason, ev.OccurredAt)
	return nil
}

// MetricsSink counts events in Prometheus.
type MetricsSink struct {
	m *metrics.Metrics
}

// NewMetricsSink wraps the metrics set.
func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{m: m}
}

// Name implements Sink.
func (*MetricsSink) Name() string { return "metrics" }

// Handle implements Sink.
func (s *MetricsSink) Handle(_ context.Context, ev auth.SecurityEvent) error {
	s.m.SecurityEvent(string(ev.Kind))
	if ev.Kind == auth.EventAccountLocked {
		source := "policy"
		if ev.Reason == "admin" {
			source = "admin"
		}
		s.m.Lockout(source)
	}
	return nil
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, ev auth.SecurityEvent) error
}

// Name implements Sink.
func (f SinkFunc) Name() string { return f.SinkName }

// Handle implements Sink.
func (f SinkFunc) Handle(ctx context.Context, ev auth.SecurityEvent) error { return f.Fn(ctx, ev) }
