package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"levra.org/internal/auth"
	"levra.org/internal/lifecycle"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
	// EventSource cannot set headers, so the stream also accepts the token
	// as a query parameter.
	tokenParam = "access_token"
)

const actorKey ctxKey = "actor"

// withAuth validates the bearer token and asks the engine for an Actor.
// Token roles are never trusted for capability checks.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(authHeader)
		if raw == "" && r.URL.Path == "/v1/stream" {
			if tok := r.URL.Query().Get(tokenParam); tok != "" {
				raw = bearer + tok
			}
		}
		token, err := extractBearerToken(raw)
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			unauthorized(w, r, "invalid token")
			return
		}
		actor, err := a.engine.Authorize(r.Context(), claims.Subject)
		if err != nil {
			writeLifecycleError(w, r, err)
			return
		}

		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
		ctx = context.WithValue(ctx, actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// actorFrom returns the Actor withAuth resolved. A zero Actor is rejected by
// every engine operation.
func actorFrom(ctx context.Context) lifecycle.Actor {
	actor, _ := ctx.Value(actorKey).(lifecycle.Actor)
	return actor
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="levra"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
