// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface: routing, identity extraction, rate
// limiting and the JSON error envelope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mindloop/affirmd/internal/genlog"
	"github.com/mindloop/affirmd/internal/library"
	"github.com/mindloop/affirmd/internal/log"
	"github.com/mindloop/affirmd/internal/pipeline"
	"github.com/mindloop/affirmd/internal/session"
	"github.com/mindloop/affirmd/internal/subscription"
)

// Stable machine-readable error codes.
const (
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeNotFound      = "NOT_FOUND"
	CodeValidation    = "VALIDATION_ERROR"
	CodeQuotaExceeded = "SUBSCRIPTION_LIMIT_EXCEEDED"
	CodeRateLimited   = "RATE_LIMITED"
	CodeUpstream      = "UPSTREAM_UNAVAILABLE"
	CodeConflict      = "CONFLICT"
	CodeTimeout       = "TIMEOUT"
	CodeInternal      = "INTERNAL_ERROR"
)

type errorEnvelope struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: code, Code: code, Message: message, Details: details})
}

// writeMappedError translates component errors to the HTTP envelope. Raw
// upstream error bodies never leak; unknown errors collapse to 500.
func writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *session.ValidationError
	var quota *subscription.QuotaExceededError
	var limited *pipeline.RateLimitedError
	var inUse *library.InUseError

	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, CodeValidation, invalid.Message,
			map[string]string{"field": invalid.Field})

	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, library.ErrNotFound),
		errors.Is(err, genlog.ErrNoLog):
		writeError(w, http.StatusNotFound, CodeNotFound, "resource not found", nil)

	case errors.Is(err, session.ErrForbidden):
		writeError(w, http.StatusForbidden, CodeForbidden, "not the owner of this resource", nil)

	case errors.Is(err, session.ErrImmutable):
		writeError(w, http.StatusForbidden, CodeForbidden, "default sessions cannot be modified", nil)

	case errors.As(err, &quota):
		writeError(w, http.StatusForbidden, CodeQuotaExceeded, "monthly custom session limit reached", map[string]any{
			"limit": quota.Limit,
			"used":  quota.Used,
			"tier":  quota.Tier,
		})

	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfter))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(limited.ResetAt, 10))
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", map[string]any{
			"retryAfter": limited.RetryAfter,
		})

	case errors.As(err, &inUse):
		writeError(w, http.StatusBadRequest, CodeConflict, "row is still referenced", map[string]any{
			"templateIds": inUse.TemplateIDs,
			"sessionRefs": inUse.SessionRefs,
		})

	case errors.Is(err, subscription.ErrInvalidProduct):
		writeError(w, http.StatusBadRequest, CodeValidation, "unknown product id", nil)

	case errors.Is(err, library.ErrCannotDelete):
		writeError(w, http.StatusBadRequest, CodeConflict, "default rows cannot be deleted", nil)

	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, CodeTimeout, "request deadline exceeded", nil)

	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str("path", r.URL.Path).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}
