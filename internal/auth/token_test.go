package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestInspect_ReadsRegisteredClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signed(t, jwt.RegisteredClaims{
		Subject:   "user-42",
		Issuer:    "fitness-api",
		ExpiresAt: jwt.NewNumericDate(exp),
	})

	info, err := Inspect(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Subject != "user-42" {
		t.Errorf("Subject = %q, want %q", info.Subject, "user-42")
	}
	if info.Issuer != "fitness-api" {
		t.Errorf("Issuer = %q, want %q", info.Issuer, "fitness-api")
	}
	if !info.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", info.ExpiresAt, exp)
	}
}

func TestInspect_OpaqueToken(t *testing.T) {
	for _, token := range []string{"", "sk-live-abc123", "a.b"} {
		if _, err := Inspect(token); !errors.Is(err, ErrNotJWT) {
			t.Errorf("Inspect(%q) error = %v, want ErrNotJWT", token, err)
		}
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"expired", signed(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute))}), true},
		{"valid", signed(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))}), false},
		{"no exp", signed(t, jwt.RegisteredClaims{Subject: "u"}), false},
		{"opaque", "not-a-jwt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expired(tt.token, now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}
