// Package api implements the HTTP REST API and WebSocket server for Warden Core.
//
// This package provides:
//   - Login, refresh, logout and password endpoints backed by auth.Service
//   - Tenant-scoped account, role, device and audit endpoints
//   - A WebSocket stream of security events for control room operators
//   - Middleware stack (request ID, logging, recovery, CORS, metrics, rate limit)
//
// # Security
//
// Protected routes require "Authorization: Bearer <access token>". A missing
// or malformed header is answered exactly like a bad token. Handlers check
// permissions against the token snapshot; endpoints that change roles,
// locks or passwords re-resolve permissions live.
//
// WebSocket connections authenticate with single-use tickets so the access
// token never appears in a URL.
//
// # Graceful Degradation
//
// MQTT and InfluxDB are optional. Without them security events still reach
// the audit log and the WebSocket stream.
package api
