package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenIssuer is the iss claim on every access token.
const TokenIssuer = "ledlocator"

// defaultAccessTokenTTL applies when the configured TTL is not positive.
const defaultAccessTokenTTL = 15 * time.Minute

// clockSkew is tolerated on exp/iat between hosts.
const clockSkew = 30 * time.Second

// TokenClaims is the payload of an access token.
type TokenClaims struct {
	jwt.RegisteredClaims
	Role     Role   `json:"role"`
	Username string `json:"username,omitempty"`
}

// Principal returns the identity these claims describe.
func (c *TokenClaims) Principal() Principal {
	return Principal{UserID: c.Subject, Username: c.Username, Role: c.Role}
}

// GenerateAccessToken signs an HS256 access token for user valid for
// ttlMinutes (default 15). Verification needs only the secret.
func GenerateAccessToken(user *User, secret string, ttlMinutes int) (string, error) {
	ttl := time.Duration(ttlMinutes) * time.Minute
	if ttl <= 0 {
		ttl = defaultAccessTokenTTL
	}
	issued := time.Now()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role:     user.Role,
		Username: user.Username,
	}).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token for %s: %w", user.ID, err)
	}
	return signed, nil
}

// ParseToken verifies tokenString and returns its claims. Anything that is
// not a current HS256 token from this issuer with a subject and a known role
// is ErrTokenInvalid.
func ParseToken(tokenString, secret string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: no subject", ErrTokenInvalid)
	case !IsValidUserRole(claims.Role):
		return nil, fmt.Errorf("%w: role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}
