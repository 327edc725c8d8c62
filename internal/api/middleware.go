package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nerrad567/warden-core/internal/auth"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// ctxKeyRequestID is the context key for the request ID.
	ctxKeyRequestID contextKey = "request_id"

	// ctxKeyIdentity is the context key for the verified caller.
	ctxKeyIdentity contextKey = "identity"

	// ctxKeyAccessLog carries the per-request record the access log reads
	// after the handler returns.
	ctxKeyAccessLog contextKey = "access_log"
)

// accessLog collects request facts learned below the logging middleware.
type accessLog struct {
	identity *auth.Identity
}

// requestIDMiddleware assigns a request ID to each request.
// If the client sends an X-Request-ID header, it is used; otherwise a ULID is generated.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = ulid.Make().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// maxRequestIDLength caps client-supplied request IDs before they reach logs.
const maxRequestIDLength = 64

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		rec := &accessLog{}
		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), ctxKeyAccessLog, rec)))

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFrom(r.Context()),
		}
		if id := rec.identity; id != nil {
			attrs = append(attrs, "account_id", id.AccountID, "tenant_id", id.TenantID)
		}
		s.logger.Info("http request", attrs...)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestIDFrom(r.Context()),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles Cross-Origin Resource Sharing headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", joinOrDefault(s.cfg.CORS.AllowedMethods, "GET, POST, PUT, PATCH, DELETE, OPTIONS"))
			w.Header().Set("Access-Control-Allow-Headers", joinOrDefault(s.cfg.CORS.AllowedHeaders, "Authorization, Content-Type, X-Request-ID"))
			w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// bodySizeLimitMiddleware limits the size of incoming request bodies to prevent
// denial-of-service attacks via oversized payloads.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies the sliding window limiter per client IP.
// Rejected requests get 429 with Retry-After and never reach the handler.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := s.clientIP(r)
		d := s.limiter.Allow(ip)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			s.metrics.RateLimited("api")
			s.telemetry.WriteRateLimited("api", time.Now())
			s.events.Publish(auth.SecurityEvent{
				Kind:       auth.EventRateLimitTriggered,
				RemoteAddr: ip,
				Details:    map[string]any{"path": r.URL.Path, "method": r.Method},
				OccurredAt: time.Now().UTC(),
			})
			s.logger.Warn("rate limit exceeded",
				"remote_addr", ip,
				"path", r.URL.Path,
				"request_id", requestIDFrom(r.Context()),
			)
			writeRetryAfter(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many requests", d.RetryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware verifies the bearer token and stores the identity in the
// request context. Missing, malformed, expired and forged tokens all get
// the same 401.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.VerifyAuthorizationHeader(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			if auth.IsAuthentication(err) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="warden"`)
				writeUnauthorized(w, auth.ErrTokenInvalid.Error())
				return
			}
			s.writeServiceError(w, r, err)
			return
		}
		if rec, ok := r.Context().Value(ctxKeyAccessLog).(*accessLog); ok {
			rec.identity = id
		}
		ctx := context.WithValue(r.Context(), ctxKeyIdentity, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identityFrom returns the caller set by authMiddleware.
func identityFrom(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(ctxKeyIdentity).(*auth.Identity)
	return id
}

// requirePermission checks the token snapshot and writes a 403 when the
// permission is missing. Handlers return immediately on false.
func (s *Server) requirePermission(w http.ResponseWriter, r *http.Request, code string) bool {
	id := identityFrom(r.Context())
	if id != nil && s.auth.Authorize(id, code) {
		return true
	}
	s.denied(w, r, id, code)
	return false
}

// requireLive re-resolves the caller's grants before a privileged change so
// a revoked role stops working immediately instead of at token expiry.
func (s *Server) requireLive(w http.ResponseWriter, r *http.Request, code string) bool {
	id := identityFrom(r.Context())
	if id == nil {
		writeUnauthorized(w, auth.ErrTokenInvalid.Error())
		return false
	}
	ok, err := s.auth.AuthorizeLive(r.Context(), id, code)
	if err != nil {
		s.writeServiceError(w, r, err)
		return false
	}
	if !ok {
		s.denied(w, r, id, code)
		return false
	}
	return true
}

func (s *Server) denied(w http.ResponseWriter, r *http.Request, id *auth.Identity, code string) {
	ev := auth.SecurityEvent{
		Kind:       auth.EventPermissionDenied,
		Reason:     string(auth.ReasonMissingPermission),
		RemoteAddr: s.clientIP(r),
		Details:    map[string]any{"permission": code, "path": r.URL.Path},
		OccurredAt: time.Now().UTC(),
	}
	if id != nil {
		ev.TenantID = id.TenantID
		ev.AccountID = id.AccountID
		ev.Username = id.Username
	}
	s.events.Publish(ev)
	writeForbidden(w, (&auth.AuthorizationError{Reason: auth.ReasonMissingPermission, Requirement: code}).Error())
}

// clientIP returns the caller's address. X-Forwarded-For is honoured only
// when the server sits behind a trusted proxy.
func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isAllowedOrigin checks if the origin is in the allowed list.
// An empty list allows all origins (dev mode).
func (s *Server) isAllowedOrigin(origin string) bool {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack passes through to the underlying writer for WebSocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController and the WebSocket upgrader reach the
// underlying connection.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// joinOrDefault joins a string slice with ", " or returns the default if empty.
func joinOrDefault(values []string, defaultVal string) string {
	if len(values) == 0 {
		return defaultVal
	}
	return strings.Join(values, ", ")
}
