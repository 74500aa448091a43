package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/PaulBabatuyi/pairchat/internal/apperr"
	"github.com/PaulBabatuyi/pairchat/internal/auth"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type identityContextKey struct{}

// identityFromContext returns the caller attached by requireAuth.
func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(auth.Identity)
	return id, ok
}

// bearerToken reads "Authorization: Bearer <token>", falling back to the
// token query parameter browsers must use for websockets.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// authenticate resolves the request's credential to an identity.
func (app *application) authenticate(r *http.Request) (auth.Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return auth.Identity{}, apperr.Auth(apperr.AuthMissing, "missing authorization token", nil)
	}
	id, err := app.tokens.Resolve(token)
	if errors.Is(err, auth.ErrTokenExpired) {
		return auth.Identity{}, apperr.Auth(apperr.AuthExpired, "token expired", err)
	}
	if err != nil {
		return auth.Identity{}, apperr.Auth(apperr.AuthInvalid, "invalid token", err)
	}
	return id, nil
}

// requireAuth rejects requests without a valid bearer token and attaches the
// caller's identity to the context.
func (app *application) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := app.authenticate(r)
		if err != nil {
			app.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one line per request.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
