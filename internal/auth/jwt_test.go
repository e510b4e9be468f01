package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 44-character base64 string, as produced by `openssl rand -base64 32`
const testSecret = "wJ6Qk8Qn1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk="

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService(testSecret)

	tests := []struct {
		name     string
		identity string
		wantErr  error
	}{
		{name: "valid identity", identity: "alice"},
		{name: "empty identity", identity: "", wantErr: ErrEmptyIdentity},
		{name: "blank identity", identity: "   ", wantErr: ErrEmptyIdentity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.GenerateAccessToken(tt.identity, "Alice")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GenerateAccessToken() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			claims, err := svc.ValidateToken(token)
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if claims.Identity() != tt.identity {
				t.Errorf("Identity() = %q, want %q", claims.Identity(), tt.identity)
			}
			if claims.Name != "Alice" {
				t.Errorf("Name = %q, want Alice", claims.Name)
			}
		})
	}
}

func TestExpiredToken(t *testing.T) {
	issued := time.Now().Add(-time.Hour)
	minting := NewJWTService(testSecret)
	minting.now = func() time.Time { return issued }

	token, err := minting.GenerateAccessToken("alice", "")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	_, err = NewJWTService(testSecret).ValidateToken(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("ValidateToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestLeeway(t *testing.T) {
	issued := time.Now().Add(-AccessTokenExpiry - 10*time.Second)
	minting := NewJWTService(testSecret)
	minting.now = func() time.Time { return issued }
	token, err := minting.GenerateAccessToken("alice", "")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	if _, err := NewJWTService(testSecret).ValidateToken(token); err != nil {
		t.Errorf("default leeway should accept a token 10s past expiry: %v", err)
	}
	if _, err := NewJWTService(testSecret, WithLeeway(0)).ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("zero leeway error = %v, want ErrExpiredToken", err)
	}
}

func TestTamperedToken(t *testing.T) {
	svc := NewJWTService(testSecret)
	token, err := svc.GenerateAccessToken("alice", "")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3 token segments, got %d", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	if _, err := svc.ValidateToken(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
	}
	if _, err := svc.ValidateToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken(garbage) error = %v, want ErrInvalidToken", err)
	}
}

func TestWrongSigningMethod(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Type: TokenTypeAccess,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := NewJWTService(testSecret).ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestRejectsNonAccessType(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Type: "refresh",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	if _, err := NewJWTService(testSecret).ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestKeyRotation(t *testing.T) {
	const oldSecret = "old-secret-old-secret-old-secret-old-secret!"

	oldToken, err := NewJWTService(oldSecret).GenerateAccessToken("alice", "")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	t.Run("accepted during rotation", func(t *testing.T) {
		svc := NewJWTService(testSecret, WithPreviousSecret(oldSecret))
		claims, err := svc.ValidateToken(oldToken)
		if err != nil {
			t.Fatalf("ValidateToken() error = %v", err)
		}
		if claims.Identity() != "alice" {
			t.Errorf("Identity() = %q, want alice", claims.Identity())
		}
	})

	t.Run("rejected after rotation", func(t *testing.T) {
		if _, err := NewJWTService(testSecret).ValidateToken(oldToken); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ValidateToken() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("new tokens signed with current secret", func(t *testing.T) {
		svc := NewJWTService(testSecret, WithPreviousSecret(oldSecret))
		token, err := svc.GenerateAccessToken("bob", "")
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}
		if _, err := NewJWTService(testSecret).ValidateToken(token); err != nil {
			t.Errorf("current-secret service rejected new token: %v", err)
		}
	})
}
