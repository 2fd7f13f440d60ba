// models.go -- Shared domain types for the store package.
// Used by both Postgres (durable store) and Redis (cache layer).
package store

import (
	"errors"
	"strings"
	"time"
)

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
// Callers use errors.Is to distinguish rate limit rejections from Redis failures.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ErrNotFound is returned when a user or contact row does not exist, or when
// a contact exists but is owned by a different user. Callers cannot tell the
// two cases apart -- ownership is enforced inside the query itself.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when an insert or update violates the unique
// constraint on users.email or contacts.email.
var ErrDuplicateEmail = errors.New("email already exists")

// Role is the closed set of user roles. String comparison at gate points is
// replaced by comparison against these constants.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole converts a string to a Role, rejecting anything outside the set.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(s)) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", errors.New("unknown role: " + s)
}

// User represents a row in the users table.
// PasswordHash is never serialized -- the json tag guards against accidental
// exposure through a handler or the cache layer.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsVerified   bool      `json:"is_verified"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Contact represents a row in the contacts table.
// Nullable columns are pointers -- nil means SQL NULL.
type Contact struct {
	ID        int64      `json:"id"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone"`
	Birthday  *time.Time `json:"birthday,omitempty"`
	Notes     *string    `json:"notes,omitempty"`
	UserID    int64      `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CachedUser is the JSON shape stored in Redis for cached users.
// Only the fields needed for request gating -- no credential material, ever.
type CachedUser struct {
	ID         int64  `json:"id"`
	Email      string `json:"email"`
	IsActive   bool   `json:"is_active"`
	IsVerified bool   `json:"is_verified"`
	Role       Role   `json:"role"`
}

// RateLimit defines the policy for a rate-limited action.
// All three fields required, zero values disable the respective behaviour.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // rolling window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is hit
}
