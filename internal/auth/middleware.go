// middleware.go

// Bearer token authentication and role gating middleware.
//
// Per-request chain: token validated -> user resolved (cache, then
// Postgres) -> active check -> optional admin check. Nothing persists
// across requests; every request re-derives the chain from its token.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"contacts-api/internal/store"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const userKey contextKey = "user"

// UserFromContext retrieves the authenticated user from context.
// Returns nil and false if RequireAuth hasn't run.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(userKey).(*store.User)
	return u, ok
}

// ContextWithUser returns a copy of ctx carrying the authenticated user.
// RequireAuth uses it; tests use it to exercise handlers directly.
func ContextWithUser(ctx context.Context, u *store.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns "" if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return header[len(prefix):]
}

// RequireAuth validates the bearer token and resolves the user it names,
// checking the Redis cache first and falling back to Postgres on a miss
// (repopulating the cache afterward). Injects the user into context on
// success; returns 401 on any failure.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			logWarn(r, "require auth failed", "reason", "missing_bearer_token")
			Unauthorized(w, r, "unauthorized")
			return
		}

		claims, err := ParseAccessToken(token, h.Cfg.SecretKey)
		if err != nil {
			logWarn(r, "require auth failed", "reason", "invalid_token")
			Unauthorized(w, r, "unauthorized")
			return
		}
		if claims.UserID == 0 {
			logWarn(r, "require auth failed", "reason", "token_missing_uid")
			Unauthorized(w, r, "unauthorized")
			return
		}

		// Cache fast path; TTL expiry already handles stale entries.
		var user *store.User
		if cached, ok := h.RS.GetUser(r.Context(), claims.UserID); ok {
			user = &store.User{
				ID:         cached.ID,
				Email:      cached.Email,
				IsActive:   cached.IsActive,
				IsVerified: cached.IsVerified,
				Role:       cached.Role,
			}
		} else {
			// Miss or Redis failure -- Postgres is the source of truth.
			dbUser, err := h.PS.GetUserByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					// Token outlived the account.
					logWarn(r, "require auth failed", "reason", "user_not_found")
				} else {
					logError(r, "require auth failed fetching user from db", "error", err)
				}
				Unauthorized(w, r, "unauthorized")
				return
			}
			// Repopulate cache; failures are absorbed by the cache layer.
			h.RS.SetUser(r.Context(), dbUser, h.Cfg.UserCacheTTL)
			user = dbUser
		}

		ctx := ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireActive rejects disabled accounts with 403.
// Must run after RequireAuth.
func (h *AuthHandler) RequireActive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			InternalServerError(w, r, errors.New("missing user context"))
			return
		}
		if !user.IsActive {
			logWarn(r, "inactive account rejected", "user_id", user.ID)
			Forbidden(w, "inactive user")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects non-admin callers with 403 and no further detail.
// Must run after RequireAuth.
func (h *AuthHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			InternalServerError(w, r, errors.New("missing user context"))
			return
		}
		if user.Role != store.RoleAdmin {
			logWarn(r, "admin route rejected", "user_id", user.ID, "role", user.Role)
			Forbidden(w, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
