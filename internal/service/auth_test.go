package service

import (
	"context"
	"testing"
	"time"

	"github.com/montage-studio/montage/internal/config"
)

func newAuth(secret, issuer string, ttl time.Duration) *AuthService {
	return NewAuthService(config.Auth{
		Secret:   secret,
		Issuer:   issuer,
		TokenTTL: ttl,
	})
}

func TestTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	auth := newAuth("hunter2", "montage", time.Hour)

	token, err := auth.IssueToken(ctx, "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	result, err := auth.AuthJwt(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.UserID != "alice" {
		t.Fatalf("wrong subject: %q", result.UserID)
	}
}

func TestIssueTokenRequiresUser(t *testing.T) {
	auth := newAuth("hunter2", "montage", time.Hour)
	if _, err := auth.IssueToken(context.Background(), ""); err == nil {
		t.Fatalf("empty user must fail")
	}
}

func TestWrongSecretRejected(t *testing.T) {
	ctx := context.Background()
	token, err := newAuth("hunter2", "montage", time.Hour).IssueToken(ctx, "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := newAuth("different", "montage", time.Hour).AuthJwt(ctx, token); err == nil {
		t.Fatalf("token signed with another secret must fail")
	}
}

func TestWrongIssuerRejected(t *testing.T) {
	ctx := context.Background()
	token, err := newAuth("hunter2", "other-service", time.Hour).IssueToken(ctx, "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := newAuth("hunter2", "montage", time.Hour).AuthJwt(ctx, token); err == nil {
		t.Fatalf("token from another issuer must fail")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	ctx := context.Background()
	auth := newAuth("hunter2", "montage", -time.Minute)

	token, err := auth.IssueToken(ctx, "alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := auth.AuthJwt(ctx, token); err == nil {
		t.Fatalf("expired token must fail")
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	auth := newAuth("hunter2", "montage", time.Hour)
	if _, err := auth.AuthJwt(context.Background(), "not.a.jwt"); err == nil {
		t.Fatalf("garbage token must fail")
	}
}
