package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parsehaven/docforge/pkg/auth"
	"github.com/parsehaven/docforge/pkg/logging"
)

// principalHeaderUserID and principalHeaderRole are the headers an
// upstream gateway (or a development shim) is expected to set once it
// has already verified the caller's credentials; this facade never
// checks a signature itself, per the auth package's documented
// boundary.
const (
	principalHeaderUserID = "X-Principal-User-Id"
	principalHeaderRole   = "X-Principal-Role"
)

type middleware func(http.HandlerFunc) http.HandlerFunc

// chain applies middlewares outer-to-inner in the order listed, so the
// first entry runs first on the way in and last on the way out.
func chain(h http.HandlerFunc, mws ...middleware) http.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type requestIDKey struct{}

// withRequestID stamps every request with a correlation id, propagated
// in the response header and available to handlers/logging via context.
func withRequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next(w, r.WithContext(ctx))
	}
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withAccessLog logs method, path, status, and latency for every
// request once the handler chain completes.
func withAccessLog(log *logging.Logger) middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next(sw, r)
			log.WithField("request_id", requestIDFromContext(r.Context())).
				WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", sw.status).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				Info("request handled")
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// withPrincipal resolves the Principal from upstream-trusted headers
// and attaches it to the request context. Absence of the user-id header
// is itself treated as an anonymous RoleUser principal rather than a
// rejection: the development shim and single-tenant deployments have no
// upstream gateway at all, and auth.Require still blocks any privileged
// action for a principal with no permissions attached.
func withPrincipal(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(principalHeaderUserID)
		role := auth.Role(r.Header.Get(principalHeaderRole))
		switch role {
		case auth.RoleAdmin, auth.RoleOperator, auth.RoleUser:
		default:
			role = auth.RoleUser
		}
		p := auth.ForRole(userID, role)
		ctx := auth.WithContext(r.Context(), p)
		next(w, r.WithContext(ctx))
	}
}

// withTimeout bounds every request's context to d, matching
// max_request_timeout_seconds.
func withTimeout(d time.Duration) middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next(w, r.WithContext(ctx))
		}
	}
}

// withRateLimit rejects a request with 429 once the per-IP limiter's
// policy is exceeded; limiter may be nil to disable throttling
// entirely (e.g. in tests).
func withRateLimit(limiter rateLimiter) middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		if limiter == nil {
			return next
		}
		return func(w http.ResponseWriter, r *http.Request) {
			if err := limiter.CheckLimit(r); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(APIResponse{
					Success: false,
					Error:   &APIError{Kind: "rate_limited", Message: err.Error()},
				})
				return
			}
			defer limiter.Release(r)
			next(w, r)
		}
	}
}

// rateLimiter is the subset of *ratelimit.Limiter the middleware chain
// depends on, kept as an interface so tests can swap in a stub without
// constructing the real sliding-window bookkeeping.
type rateLimiter interface {
	CheckLimit(r *http.Request) error
	Release(r *http.Request)
}
