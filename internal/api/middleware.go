package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ppiankov/claimgate/internal/identity"
	"github.com/ppiankov/claimgate/internal/ports"
)

// authenticate resolves the actor behind the bearer credential and puts it
// in the request context. A provider that ignores credentials (static)
// accepts requests without the header.
func authenticate(provider ports.IdentityProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if provider == nil {
				writeProblem(w, r, http.StatusUnauthorized, "authentication not configured", nil)
				return
			}

			var token string
			if h := r.Header.Get("Authorization"); h != "" {
				scheme, rest, ok := strings.Cut(h, " ")
				if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(rest) == "" {
					writeProblem(w, r, http.StatusUnauthorized, "expected 'Authorization: Bearer <token>'", nil)
					return
				}
				token = strings.TrimSpace(rest)
			}

			actor, err := provider.Authenticate(r.Context(), token)
			if err != nil {
				writeProblem(w, r, http.StatusUnauthorized, "invalid or missing credentials", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.NewContext(r.Context(), actor)))
		})
	}
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if actor, ok := identity.FromContext(r.Context()); ok {
				fields = append(fields, zap.String("actor_id", actor.ID))
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Warn("request failed", fields...)
				return
			}
			logger.Debug("request", fields...)
		})
	}
}
