// handler.go -- HTTP handlers for registration, login, profile, and the
// password reset flow.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"contacts-api/internal/config"
	"contacts-api/internal/mail"
	"contacts-api/internal/store"
)

// Store defines database operations needed by auth handlers.
// Satisfied by *store.PostgresStore -- defined here (at consumer) per Go convention.
type Store interface {
	// CreateUser inserts a new user with email and hashed password, role 'user'.
	CreateUser(ctx context.Context, email, passwordHash string) (*store.User, error)

	// GetUserByEmail fetches a user by email for login verification.
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)

	// GetUserByID fetches a user by primary key.
	GetUserByID(ctx context.Context, id int64) (*store.User, error)

	// ListUsers returns users with pagination, optionally filtered by role.
	ListUsers(ctx context.Context, role store.Role, offset, limit int) ([]store.User, error)

	// CountUsers returns the total user count.
	CountUsers(ctx context.Context) (int64, error)

	// CountUsersByRole returns the user count for one role.
	CountUsersByRole(ctx context.Context, role store.Role) (int64, error)

	// UpdateUser applies the non-nil fields of upd and returns the updated row.
	UpdateUser(ctx context.Context, id int64, upd store.UserUpdate) (*store.User, error)

	// UpdateUserPassword replaces the stored password hash.
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error

	// DeleteUser removes a user; contacts cascade.
	DeleteUser(ctx context.Context, id int64) error
}

// UserCache defines user cache operations needed by auth handlers and
// middleware. Satisfied by *store.RedisCache. Failures are absorbed by the
// implementation -- these methods never error.
type UserCache interface {
	// GetUser retrieves a cached user snapshot; false on miss.
	GetUser(ctx context.Context, id int64) (*store.CachedUser, bool)

	// SetUser caches the gating-relevant fields of a user.
	SetUser(ctx context.Context, u *store.User, ttl time.Duration) bool

	// DeleteUser invalidates a cached user snapshot.
	DeleteUser(ctx context.Context, id int64) bool

	// InvalidateContactLists removes every cached contact list page owned
	// by the user. Admin user deletion uses it so a deleted owner's pages
	// don't linger until TTL.
	InvalidateContactLists(ctx context.Context, userID int64) bool
}

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisRateLimiter -- defined here per Go convention.
type RateLimiter interface {
	// Allow checks whether the action is within policy, records the attempt.
	// Returns nil if allowed; store.ErrRateLimitExceeded if locked out.
	Allow(ctx context.Context, key string, policy store.RateLimit) error
}

// dummyPasswordHash is a precomputed Argon2id hash for timing attack mitigation.
// When a user doesn't exist, verify against this so both paths take equal time (~100ms).
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=3,p=2$YWJjZGVmZ2hpamtsbW5vcA$kC6C6jqLzC0JLlJgXhHbKMhLLpVvLJLLQw/IqT9ZYPU"

// AuthHandler holds dependencies for auth HTTP handlers and middleware.
type AuthHandler struct {
	PS  Store
	RS  UserCache
	RL  RateLimiter
	ML  mail.Mailer
	Cfg *config.Config
}

// userResponse is the caller-visible shape of a user. Matches the cached
// snapshot so responses are identical whether the user came from Redis or
// Postgres; the password hash has no path into it.
type userResponse struct {
	ID         int64      `json:"id"`
	Email      string     `json:"email"`
	IsActive   bool       `json:"is_active"`
	IsVerified bool       `json:"is_verified"`
	Role       store.Role `json:"role"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Email:      u.Email,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		Role:       u.Role,
	}
}

// writeJSON marshals v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into dst. On failure it writes the 400
// and returns false, so call sites read `if !decodeJSON(...) { return }`.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logWarn(r, "failed to decode request body", "error", err)
		BadRequest(w, r, "error decoding request body")
		return false
	}
	return true
}

// loginPolicy builds the per-email login rate limit from config.
func (h *AuthHandler) loginPolicy() store.RateLimit {
	return store.RateLimit{
		MaxAttempts: h.Cfg.RateLoginMax,
		Window:      h.Cfg.RateLoginWindow,
		LockoutTTL:  h.Cfg.RateLoginLockout,
	}
}

// resetPolicy builds the per-email password reset rate limit from config.
// Keyed before user lookup -- intentionally pre-lookup to prevent
// timing-based enumeration (post-lookup keying would reveal whether an
// email exists).
func (h *AuthHandler) resetPolicy() store.RateLimit {
	return store.RateLimit{
		MaxAttempts: h.Cfg.RateResetMax,
		Window:      h.Cfg.RateResetWindow,
		LockoutTTL:  h.Cfg.RateResetLockout,
	}
}

// Register handles POST /api/auth/register -- email + password signup.
// Returns 201 with the new user, 400 for validation errors, 409 when the
// email is already registered. Role is always 'user'. Emails are lowercased
// here and at every other entry point, so stored addresses match lookups
// regardless of how the caller types them.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var registerInput struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &registerInput) {
		return
	}
	email := strings.ToLower(registerInput.Email)

	if msg := ValidateEmail(email); msg != "" {
		BadRequest(w, r, msg)
		return
	}
	if msg := ValidatePassword(registerInput.Password); msg != "" {
		BadRequest(w, r, msg)
		return
	}

	hash, err := HashPassword(registerInput.Password)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	user, err := h.PS.CreateUser(r.Context(), email, hash)
	switch {
	case errors.Is(err, store.ErrDuplicateEmail):
		logInfo(r, "registration with already registered email")
		Conflict(w, "email already registered")
		return
	case err != nil:
		logError(r, "creating user failed", "error", err)
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "user registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// Login handles POST /api/auth/login -- email + password authentication.
// Returns 200 with a bearer access token, 401 for bad credentials, 429 when
// rate limited. Argon2id dummy-hash equalises timing when the account
// doesn't exist.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var loginInput struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &loginInput) {
		return
	}
	email := strings.ToLower(loginInput.Email)

	// Malformed email and missing password read exactly like a wrong
	// password; a different message would reveal which accounts exist.
	if ValidateEmail(email) != "" || loginInput.Password == "" {
		Unauthorized(w, r, "invalid credentials")
		return
	}

	// Rate limit before any Argon2id work.
	if err := h.RL.Allow(r.Context(), "login:email:"+email, h.loginPolicy()); err != nil {
		if errors.Is(err, store.ErrRateLimitExceeded) {
			logInfo(r, "login rate limited")
			TooManyRequests(w)
			return
		}
		InternalServerError(w, r, err)
		return
	}

	user, err := h.PS.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn the same Argon2id work as the found-user path.
			VerifyPassword(loginInput.Password, dummyPasswordHash)
			logInfo(r, "login with unknown email")
		} else {
			logError(r, "fetching user for login failed", "error", err)
		}
		Unauthorized(w, r, "invalid credentials")
		return
	}

	valid, err := VerifyPassword(loginInput.Password, user.PasswordHash)
	if err != nil {
		logError(r, "password verification failed", "error", err)
		InternalServerError(w, r, err)
		return
	}
	if !valid {
		logInfo(r, "login with wrong password", "user_id", user.ID)
		Unauthorized(w, r, "invalid credentials")
		return
	}

	token, err := IssueAccessToken(user.Email, user.ID, h.Cfg.SecretKey, h.Cfg.AccessTokenTTL)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "user logged in successfully", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

// Me handles GET /api/auth/me -- returns the authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, errors.New("missing user context"))
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// UpdateMe handles PUT /api/auth/me -- self-service email and/or password
// change. Role, active, and verified flags are not self-serviceable.
// Invalidates the user's cache entry before responding.
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		InternalServerError(w, r, errors.New("missing user context"))
		return
	}

	var updateInput struct {
		Email    *string `json:"email"`
		Password *string `json:"password"`
	}
	if !decodeJSON(w, r, &updateInput) {
		return
	}
	if updateInput.Email == nil && updateInput.Password == nil {
		BadRequest(w, r, "nothing to update")
		return
	}

	upd := store.UserUpdate{}
	if updateInput.Email != nil {
		email := strings.ToLower(*updateInput.Email)
		if msg := ValidateEmail(email); msg != "" {
			BadRequest(w, r, msg)
			return
		}
		upd.Email = &email
	}
	if updateInput.Password != nil {
		if invalidMsg := ValidatePassword(*updateInput.Password); invalidMsg != "" {
			BadRequest(w, r, invalidMsg)
			return
		}
		hashed, err := HashPassword(*updateInput.Password)
		if err != nil {
			InternalServerError(w, r, err)
			return
		}
		upd.PasswordHash = &hashed
	}

	updated, err := h.PS.UpdateUser(r.Context(), user.ID, upd)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			Conflict(w, "email already registered")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	// Invalidate before responding so a follow-up read can't see the old row.
	h.RS.DeleteUser(r.Context(), user.ID)

	logInfo(r, "user updated profile", "user_id", user.ID)
	writeJSON(w, http.StatusOK, toUserResponse(updated))
}

// resetMsg is returned by PasswordResetRequest whether or not the email
// exists. Identical responses in both cases is a hard requirement -- the
// endpoint must not leak account existence.
const resetMsg = "if the email exists, a password reset link has been sent"

// PasswordResetRequest handles POST /api/auth/password-reset-request --
// initiates the reset flow for a given email.
func (h *AuthHandler) PasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var resetInput struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&resetInput); err != nil {
		BadRequest(w, r, "invalid request")
		return
	}

	email := strings.ToLower(resetInput.Email)

	if msg := ValidateEmail(email); msg != "" {
		BadRequest(w, r, msg)
		return
	}

	// Check if email rate-limited before the user lookup.
	err := h.RL.Allow(r.Context(), "reset:email:"+email, h.resetPolicy())
	if err != nil {
		if errors.Is(err, store.ErrRateLimitExceeded) {
			logInfo(r, "password reset rate limited")
			TooManyRequests(w)
			return
		}
		InternalServerError(w, r, err)
		return
	}

	user, err := h.PS.GetUserByEmail(r.Context(), email)
	if err != nil {
		// Generic 200 -- no enumeration (caller cannot learn whether email exists).
		if errors.Is(err, store.ErrNotFound) {
			logInfo(r, "password reset requested for unknown email")
		} else {
			logError(r, "failed to fetch user for password reset", "error", err)
		}
		OK(w, resetMsg)
		return
	}

	token, err := IssueResetToken(user.Email, h.Cfg.SecretKey, h.Cfg.ResetTokenTTL)
	if err != nil {
		logError(r, "failed to issue password reset token", "error", err, "user_id", user.ID)
		OK(w, resetMsg)
		return
	}

	// Queue the email; any failure is logged, never surfaced.
	err = h.ML.SendPasswordReset(r.Context(), user.Email, token, h.Cfg.ResetTokenTTL, nil)
	if err != nil {
		logError(r, "failed to send password reset email", "error", err, "user_id", user.ID)
		OK(w, resetMsg)
		return
	}

	logInfo(r, "password reset email sent", "user_id", user.ID)
	OK(w, resetMsg)
}

// PasswordResetConfirm handles POST /api/auth/password-reset -- completes
// the reset using the token from the email link.
func (h *AuthHandler) PasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var confirmInput struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if !decodeJSON(w, r, &confirmInput) {
		return
	}

	if invalidMsg := ValidatePassword(confirmInput.NewPassword); invalidMsg != "" {
		BadRequest(w, r, invalidMsg)
		return
	}

	email, err := ParseResetToken(confirmInput.Token, h.Cfg.SecretKey)
	if err != nil {
		BadRequest(w, r, "invalid or expired reset token")
		return
	}

	// The request endpoint swallows unknown emails; here the account has to
	// exist, so absence surfaces as 404.
	user, err := h.PS.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			NotFound(w, "user not found")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	newHash, err := HashPassword(confirmInput.NewPassword)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	if err := h.PS.UpdateUserPassword(r.Context(), user.ID, newHash); err != nil {
		InternalServerError(w, r, err)
		return
	}

	// Invalidate the cached snapshot before responding.
	h.RS.DeleteUser(r.Context(), user.ID)

	logInfo(r, "user reset password", "user_id", user.ID)
	OK(w, "password updated")
}
