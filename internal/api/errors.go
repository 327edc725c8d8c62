package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/warden-core/internal/auth"
	"github.com/nerrad567/warden-core/internal/device"
)

// Error represents a structured error response.
type Error struct {
	Status     int    `json:"status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeAccountLocked  = "account_locked"
	ErrCodeQuotaExceeded  = "quota_exceeded"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeRetryAfter writes a 401 or 429 carrying a Retry-After header and
// a retry_after field, both in whole seconds rounded up.
func writeRetryAfter(w http.ResponseWriter, status int, code, message string, after time.Duration) {
	secs := int(math.Ceil(after.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeJSON(w, status, Error{
		Status:     status,
		Code:       code,
		Message:    message,
		RetryAfter: secs,
		RequestID:  w.Header().Get("X-Request-ID"),
	})
}

// writeServiceError maps an error from the auth or device layer onto an
// HTTP response. Unknown errors are logged and reported as 500 without
// their text.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		authnErr *auth.AuthenticationError
		authzErr *auth.AuthorizationError
		valErr   *auth.ValidationError
	)
	switch {
	case errors.As(err, &authnErr):
		if authnErr.Reason == auth.ReasonAccountLocked {
			writeRetryAfter(w, http.StatusUnauthorized, ErrCodeAccountLocked, authnErr.Message, authnErr.RetryAfter)
			return
		}
		writeError(w, http.StatusUnauthorized, string(authnErr.Reason), authnErr.Message)
	case errors.Is(err, auth.ErrTokenInvalid):
		writeUnauthorized(w, auth.ErrTokenInvalid.Error())
	case errors.As(err, &authzErr):
		writeForbidden(w, authzErr.Error())
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, Error{
			Status:    http.StatusBadRequest,
			Code:      ErrCodeValidation,
			Message:   valErr.Message,
			Field:     valErr.Field,
			RequestID: w.Header().Get("X-Request-ID"),
		})
	case errors.Is(err, auth.ErrSelfModification), errors.Is(err, auth.ErrSystemRole):
		writeForbidden(w, err.Error())
	case errors.Is(err, auth.ErrQuotaExceeded), errors.Is(err, errDeviceQuota):
		writeError(w, http.StatusConflict, ErrCodeQuotaExceeded, err.Error())
	case errors.Is(err, auth.ErrPermissionUnknown),
		errors.Is(err, device.ErrInvalidDevice),
		errors.Is(err, device.ErrInvalidKind),
		errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case auth.IsNotFound(err), errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, auth.ErrUsernameExists),
		errors.Is(err, auth.ErrEmailExists),
		errors.Is(err, auth.ErrRoleExists),
		errors.Is(err, auth.ErrTenantExists),
		errors.Is(err, device.ErrDeviceExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
		writeInternalError(w, "internal server error")
	}
}
