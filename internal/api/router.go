package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds each dependency probe in /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.metrics.Instrument)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	r.Handle("/metrics", s.metrics.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)

			// Auth endpoints (no auth required)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)

			// WebSocket (auth via ticket, validated in handler)
			r.Get("/ws", s.handleWebSocket)

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)

				r.Route("/auth", func(r chi.Router) {
					r.Post("/logout", s.handleLogout)
					r.Get("/me", s.handleMe)
					r.Patch("/me", s.handleUpdateMe)
					r.Put("/password", s.handleChangePassword)
					r.Get("/sessions", s.handleListSessions)
					r.Post("/ws-ticket", s.handleWSTicket)
				})

				// Account endpoints
				r.Route("/users", func(r chi.Router) {
					r.Get("/", s.handleListUsers)
					r.Post("/", s.handleCreateUser)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetUser)
						r.Patch("/", s.handleUpdateUser)
						r.Delete("/", s.handleDeleteUser)
						r.Post("/lock", s.handleLockUser)
						r.Post("/unlock", s.handleUnlockUser)
						r.Post("/password", s.handleResetPassword)
						r.Get("/roles", s.handleListUserRoles)
						r.Post("/roles", s.handleAssignRole)
						r.Delete("/roles/{roleID}", s.handleRevokeRole)
					})
				})

				// Role endpoints
				r.Get("/roles", s.handleListRoles)
				r.Post("/roles", s.handleCreateRole)
				r.Get("/permissions", s.handleListPermissions)

				// Tenant endpoints
				r.Get("/tenants", s.handleListTenants)
				r.Get("/tenants/{id}", s.handleGetTenant)

				// Device endpoints
				r.Route("/devices", func(r chi.Router) {
					r.Get("/", s.handleListDevices)
					r.Post("/", s.handleCreateDevice)
					r.Get("/{id}", s.handleGetDevice)
				})

				r.Get("/audit", s.handleListAuditLogs)
			})
		})
	})

	return r
}

// handleHealth returns the server health status. Each configured
// dependency is probed; any failure turns the response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.health))
	status := http.StatusOK
	for _, hc := range s.health {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := hc.Check(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("health check failed", "component", hc.Name, "error", err)
			checks[hc.Name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[hc.Name] = "ok"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":  state,
		"version": s.version,
		"checks":  checks,
	})
}
