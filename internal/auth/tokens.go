package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// Claims are the verified contents of an access token. Token issuance is
// owned by the account service; this backend only verifies and extracts the
// tenant namespace every request operates in.
type Claims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

var ErrTokenRevoked = errors.New("token has been revoked")

// ValidateAccessToken parses and verifies an access token.
func ValidateAccessToken(tokenString string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TenantID == "" {
		return nil, errors.New("token carries no tenant")
	}
	return claims, nil
}

// CheckRevocation consults the shared denylist written by the account
// service on logout/compromise. Fails open when Redis is unreachable so an
// outage does not lock everyone out.
func CheckRevocation(ctx context.Context, rdb *redis.Client, claims *Claims) error {
	if rdb == nil || claims.ID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	n, err := rdb.Exists(ctx, "revoked:"+claims.ID).Result()
	if err != nil {
		return nil
	}
	if n > 0 {
		return ErrTokenRevoked
	}
	return nil
}
