package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/model"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyPrincipal
)

// requestID reads the id stashed by withRequestID. Handlers must never
// call this before the middleware chain has run.
func requestID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyRequestID).(string)
	return id
}

// principalFromContext returns the authenticated caller, or nil for
// endpoints that permit anonymous access (spec.md §4.2's nullable
// principal).
func principalFromContext(r *http.Request) *model.Principal {
	p, _ := r.Context().Value(ctxKeyPrincipal).(*model.Principal)
	return p
}

// withRequestID echoes a caller-supplied x-request-id or mints one via
// ids, per spec.md §6 "Headers."
func withRequestID(ids clockid.IDProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("x-request-id")
			if id == "" {
				id = ids.NewID()
			}
			w.Header().Set("x-request-id", id)
			ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// withAccessLog logs one structured line per request, mirroring the
// teacher's pkg/log component-logger convention: never the request or
// response body, since either may carry classified payload bytes or key
// material (spec.md §7 "Logging").
func withAccessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("duration", time.Since(start)).
				Str("request_id", requestID(r)).
				Msg("http request")
		})
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

// withRecover converts a panicking handler into a 500 envelope instead of
// tearing down the whole listener, following the original system's
// unhandled_exception_handler.
func withRecover(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("unhandled panic")
					writeError(w, r, nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
