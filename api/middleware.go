package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/warp/toil-engine/toil"
)

type contextKey string

const identityKey contextKey = "identity"

// IdentityFromContext returns the authenticated caller. The zero Identity
// means the request was not authenticated (only possible on routes outside
// the auth middleware).
func IdentityFromContext(ctx context.Context) toil.Identity {
	id, _ := ctx.Value(identityKey).(toil.Identity)
	return id
}

// WithIdentity places a caller identity on the context. Exported for tests.
func WithIdentity(ctx context.Context, id toil.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Auth validates the Bearer token and resolves the caller identity. Claims:
// "sub" is the identity ID, "roles" an optional string list.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Code: "auth.missing_token", Message: "Authorization header required"})
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Code: "auth.invalid_header", Message: "expected Bearer token"})
				return
			}

			token, err := jwt.Parse(parts[1], func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeJSON(w, http.StatusUnauthorized, errorBody{Code: "auth.invalid_token", Message: "invalid token"})
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody{Code: "auth.invalid_token", Message: "invalid claims"})
				return
			}
			sub, _ := claims["sub"].(string)
			if sub == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Code: "auth.invalid_token", Message: "missing subject"})
				return
			}

			identity := toil.Identity{ID: sub}
			if raw, ok := claims["roles"].([]any); ok {
				for _, r := range raw {
					if s, ok := r.(string); ok {
						identity.Roles = append(identity.Roles, s)
					}
				}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequestLogger logs each request with zerolog once the response is written.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
