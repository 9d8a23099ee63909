package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type claim values.
const (
	// TokenTypeAccess marks short-lived access tokens.
	TokenTypeAccess = "access"
	// TokenTypeRefresh marks longer-lived refresh tokens.
	TokenTypeRefresh = "refresh"
)

// ErrInvalidToken indicates a token that failed verification or carries the
// wrong type claim.
var ErrInvalidToken = errors.New("invalid token")

// UserClaims are the JWT claims carried by access and refresh tokens.
type UserClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// UserID returns the numeric user ID from the subject claim.
func (c *UserClaims) UserID() (uint64, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// IssueUserToken signs a token of the given type for a user.
func IssueUserToken(secret string, userID uint64, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := UserClaims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseUserToken verifies a token and checks its type claim.
func ParseUserToken(secret, raw, wantType string) (*UserClaims, error) {
	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
