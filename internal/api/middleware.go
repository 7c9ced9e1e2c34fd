// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mindloop/affirmd/internal/log"
	"github.com/mindloop/affirmd/internal/ratelimit"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
)

// Authenticator resolves a bearer token to a user ID. Token issuance lives
// in an external collaborator; the core only consumes the mapping.
type Authenticator interface {
	Resolve(ctx context.Context, token string) (userID string, ok bool)
}

// StaticTokenAuth resolves tokens from a fixed map. Suitable for small
// deployments and tests; production wires an external identity resolver.
type StaticTokenAuth map[string]string

// Resolve implements Authenticator.
func (m StaticTokenAuth) Resolve(_ context.Context, token string) (string, bool) {
	id, ok := m[token]
	return id, ok
}

// identity extracts the caller from the Authorization header. Requests
// without a valid token proceed as guests.
func identity(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if token, found := strings.CutPrefix(header, "Bearer "); found && auth != nil {
				if userID, ok := auth.Resolve(r.Context(), token); ok {
					ctx := context.WithValue(r.Context(), ctxUserID, userID)
					r = r.WithContext(ctx)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userID returns the authenticated caller, empty for guests.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxUserID).(string)
	return id
}

// clientIP strips the port; X-Forwarded-For wins behind a proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requireAuth rejects guests on endpoints that need an owner.
func requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if userID(r) == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required", nil)
			return
		}
		next(w, r)
	}
}

// apiRateLimit applies the shared api class per user or IP and surfaces the
// standard rate headers on every response.
func apiRateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.AllowClass(r.Context(), ratelimit.ClassAPI, userID(r), clientIP(r))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(ratelimit.ClassAPI.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt, 10))
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
				writeError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", map[string]any{
					"retryAfter": d.RetryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		reqID := chimw.GetReqID(r.Context())
		ctx := log.ContextWithRequestID(r.Context(), reqID)
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger := log.WithComponentFromContext(ctx, "http")
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str(log.FieldRequestID, reqID).
			Msg("request")
	})
}
