// token.go

// HS256 JWT issuing and verification for access and password reset tokens.
// Both token kinds share the signing secret; a scope claim keeps them from
// being interchangeable.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification:
// bad signature, expired, not yet valid, wrong scope, or malformed.
var ErrInvalidToken = errors.New("invalid token")

// Token scopes. An access token must never pass reset verification and
// vice versa.
const (
	ScopeAccess        = "access"
	ScopePasswordReset = "password_reset"
)

// Claims carried by every issued token. Subject is the user's email; UserID
// is the integer primary key so the middleware can hit the user cache
// without a store lookup. UserID is zero on reset tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64  `json:"uid,omitempty"`
	Scope  string `json:"scope"`
}

// IssueAccessToken signs a bearer token for the user, valid for ttl.
func IssueAccessToken(email string, userID int64, secret string, ttl time.Duration) (string, error) {
	return issue(Claims{
		RegisteredClaims: standardClaims(email, ttl),
		UserID:           userID,
		Scope:            ScopeAccess,
	}, secret)
}

// IssueResetToken signs a password reset token for the email, valid for ttl.
// Reset tokens carry no user id -- the confirm step resolves the account by
// email so a deleted-and-recreated account can't inherit an old token's id.
func IssueResetToken(email string, secret string, ttl time.Duration) (string, error) {
	return issue(Claims{
		RegisteredClaims: standardClaims(email, ttl),
		Scope:            ScopePasswordReset,
	}, secret)
}

// standardClaims fills sub/nbf/iat/exp/jti for a token issued now.
func standardClaims(email string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	// jti makes otherwise-identical tokens distinct; best-effort.
	if id, err := uuid.NewV7(); err == nil {
		claims.ID = id.String()
	}
	return claims
}

func issue(claims Claims, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies an access token and returns its claims.
// Returns ErrInvalidToken on any failure, including a reset token presented
// as an access token.
func ParseAccessToken(tokenString, secret string) (*Claims, error) {
	return parse(tokenString, secret, ScopeAccess)
}

// ParseResetToken verifies a password reset token and returns the subject
// email. Returns ErrInvalidToken on any failure.
func ParseResetToken(tokenString, secret string) (string, error) {
	claims, err := parse(tokenString, secret, ScopePasswordReset)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func parse(tokenString, secret, wantScope string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Scope != wantScope {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
