package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef-secret"

func TestServiceTokenRoundTrip(t *testing.T) {
	tokens, err := NewServiceTokens(testSecret, "synaptica", "privacy-gateway", time.Minute)
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	token, err := tokens.Issue("document-service")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := tokens.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "document-service" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
}

func TestServiceTokenRejections(t *testing.T) {
	tokens, _ := NewServiceTokens(testSecret, "synaptica", "privacy-gateway", time.Minute)
	other, _ := NewServiceTokens("another-secret-of-16+", "synaptica", "privacy-gateway", time.Minute)
	foreign, _ := other.Issue("intruder")
	wrongAudience, _ := NewServiceTokens(testSecret, "synaptica", "billing", time.Minute)
	misdirected, _ := wrongAudience.Issue("document-service")

	now := time.Now()
	tokens.nowFunc = func() time.Time { return now.Add(-time.Hour) }
	stale, _ := tokens.Issue("document-service")
	tokens.nowFunc = time.Now

	cases := map[string]struct {
		token string
		want  error
	}{
		"empty":     {"", ErrTokenEmpty},
		"malformed": {"a.b", ErrTokenMalformed},
		"signature": {foreign, ErrTokenSignature},
		"expired":   {stale, ErrTokenExpired},
		"audience":  {misdirected, ErrTokenClaims},
	}
	for name, tc := range cases {
		if _, err := tokens.Validate(context.Background(), tc.token); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}

func TestServiceTokenRejectsOtherAlgorithms(t *testing.T) {
	tokens, _ := NewServiceTokens(testSecret, "synaptica", "privacy-gateway", time.Minute)
	claims := jwt.RegisteredClaims{
		Issuer:    "synaptica",
		Subject:   "document-service",
		Audience:  jwt.ClaimStrings{"privacy-gateway"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := tokens.Validate(context.Background(), signed); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected HS512 token to be rejected, got %v", err)
	}
}

func TestShortSecretRejected(t *testing.T) {
	if _, err := NewServiceTokens("short", "i", "a", time.Minute); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}
