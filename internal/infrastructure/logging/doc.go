// Package logging provides structured logging for Warden Core.
//
// It wraps log/slog so every component logs with the same shape:
//
//   - JSON output for production, text for development
//   - Default fields (service, version) on every record
//   - Level filtering (debug, info, warn, error)
//   - Credential redaction for password, token and secret attributes
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("login succeeded", "tenant_id", tenantID, "account_id", id)
//
// Redaction is a safety net, not a licence: never pass raw credentials to
// the logger on purpose.
package logging
