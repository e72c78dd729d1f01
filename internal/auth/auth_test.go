package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(t *testing.T, now func() time.Time) *Issuer {
	t.Helper()
	iss, err := NewIssuer("test-secret", WithIssuer("test-issuer"), WithTTL(30*time.Minute), WithClock(now))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	return iss
}

func TestGenerateAndValidate(t *testing.T) {
	now := time.Now().UTC()
	iss := newTestIssuer(t, func() time.Time { return now })

	token, expiresAt, err := iss.GenerateToken(" Alice ", 0)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !expiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("default ttl not applied: %v", expiresAt)
	}

	claims, err := iss.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Address() != "alice" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatal("jti missing")
	}
}

func TestRejectsExpiredToken(t *testing.T) {
	now := time.Now().UTC()
	iss := newTestIssuer(t, func() time.Time { return now })
	token, _, err := iss.GenerateToken("alice", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := iss.ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRejectsForeignTokens(t *testing.T) {
	now := time.Now().UTC()
	iss := newTestIssuer(t, func() time.Time { return now })

	other, err := NewIssuer("other-secret", WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	token, _, err := other.GenerateToken("alice", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := iss.ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("wrong key accepted: %v", err)
	}

	wrongIssuer, _ := NewIssuer("test-secret", WithIssuer("someone-else"))
	token, _, _ = wrongIssuer.GenerateToken("alice", time.Minute)
	if _, err := iss.ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("wrong issuer accepted: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "test-issuer",
		Subject:   "alice",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := iss.ParseAndValidate(unsigned); err != ErrInvalidToken {
		t.Fatalf("alg=none accepted: %v", err)
	}

	if _, err := iss.ParseAndValidate("  "); err != ErrInvalidToken {
		t.Fatalf("empty token accepted: %v", err)
	}
}

func TestIssuerRequiresSecret(t *testing.T) {
	if _, err := NewIssuer("  "); err != ErrMissingSecret {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestGenerateTokenValidation(t *testing.T) {
	iss := newTestIssuer(t, time.Now)
	if _, _, err := iss.GenerateToken("", time.Minute); err == nil {
		t.Fatal("expected error for empty address")
	}
	if _, _, err := iss.GenerateToken("alice", -time.Second); err == nil {
		t.Fatal("expected error for negative ttl")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := CallerFromContext(ctx); ok {
		t.Fatal("caller present on empty context")
	}
	ctx = ContextWithCaller(ctx, " Owner ")
	caller, ok := CallerFromContext(ctx)
	if !ok || caller != "owner" {
		t.Fatalf("unexpected caller: %s, ok=%v", caller, ok)
	}

	if got := ContextWithToken(ctx, ""); got != ctx {
		t.Fatal("empty token should not wrap the context")
	}
	ctx = ContextWithToken(ctx, "abc")
	if tok, ok := TokenFromContext(ctx); !ok || tok != "abc" {
		t.Fatalf("unexpected token: %q", tok)
	}
}
