package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, claims *Claims, secret []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}
	return signed
}

func TestValidateAccessToken(t *testing.T) {
	signed := signToken(t, &Claims{
		UserID:   "user-1",
		TenantID: "64f0c3f1a2b3c4d5e6f70811",
		Role:     "member",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)

	claims, err := ValidateAccessToken(signed, testSecret)
	if err != nil {
		t.Fatalf("validate error: %v", err)
	}
	if claims.TenantID != "64f0c3f1a2b3c4d5e6f70811" || claims.UserID != "user-1" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestValidateAccessTokenRejectsExpired(t *testing.T) {
	signed := signToken(t, &Claims{
		TenantID: "64f0c3f1a2b3c4d5e6f70811",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}, testSecret)

	if _, err := ValidateAccessToken(signed, testSecret); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestValidateAccessTokenRejectsWrongSecret(t *testing.T) {
	signed := signToken(t, &Claims{
		TenantID: "64f0c3f1a2b3c4d5e6f70811",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, []byte("other-secret"))

	if _, err := ValidateAccessToken(signed, testSecret); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestValidateAccessTokenRequiresTenant(t *testing.T) {
	signed := signToken(t, &Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, testSecret)

	if _, err := ValidateAccessToken(signed, testSecret); err == nil {
		t.Fatal("expected missing-tenant error")
	}
}
