package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementAuthEvents   = "auth_events"
	MeasurementLoginLatency = "login_latency"
	MeasurementRateLimited  = "rate_limited"
)

// Outcome tag values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// WriteSecurityEvent records one security event. outcome is derived from
// kind; reason is stored as a field, not a tag.
func (c *Client) WriteSecurityEvent(tenantID, kind, reason string, at time.Time) {
	c.writePoint(securityEventPoint(tenantID, kind, reason, at))
}

// WriteLoginLatency records how long an authentication attempt took.
func (c *Client) WriteLoginLatency(tenantID string, success bool, d time.Duration, at time.Time) {
	c.writePoint(loginLatencyPoint(tenantID, success, d, at))
}

// WriteRateLimited records a request rejected by the rate limiter.
func (c *Client) WriteRateLimited(scope string, at time.Time) {
	c.writePoint(write.NewPoint(
		MeasurementRateLimited,
		map[string]string{"scope": scope},
		map[string]interface{}{"count": 1},
		at,
	))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func securityEventPoint(tenantID, kind, reason string, at time.Time) *write.Point {
	fields := map[string]interface{}{"count": 1}
	if reason != "" {
		fields["reason"] = reason
	}
	return write.NewPoint(
		MeasurementAuthEvents,
		map[string]string{
			"tenant_id": tenantOrSystem(tenantID),
			"kind":      kind,
			"outcome":   outcomeFor(kind),
		},
		fields,
		at,
	)
}

func loginLatencyPoint(tenantID string, success bool, d time.Duration, at time.Time) *write.Point {
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	return write.NewPoint(
		MeasurementLoginLatency,
		map[string]string{
			"tenant_id": tenantOrSystem(tenantID),
			"outcome":   outcome,
		},
		map[string]interface{}{"ms": float64(d.Microseconds()) / 1000},
		at,
	)
}

// failureKinds are event kinds that count as failed outcomes.
var failureKinds = map[string]struct{}{
	"login.failed":         {},
	"account.locked":       {},
	"permission.denied":    {},
	"rate_limit.triggered": {},
}

func outcomeFor(kind string) string {
	if _, ok := failureKinds[kind]; ok {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

func tenantOrSystem(tenantID string) string {
	if tenantID == "" {
		return "system"
	}
	return tenantID
}
