package auth

import (
	"errors"
	"testing"
	"time"

	"tty-relay/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return m
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m := newTestManager(t)

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, "user-1", "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.ExpiresIn != 900 {
		t.Fatalf("unexpected pair: %+v", pair)
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "operator" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := newTestManager(t)
	now := time.Unix(1700000000, 0).UTC()
	pair, _ := m.IssuePair(now, "user-1", "operator")
	if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := m.IssuePair(time.Now(), "u", "r")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, time.Now()); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	m := newTestManager(t)
	other, _ := NewManager(config.AuthConfig{JWTSecret: "other", JWTIssuer: "issuer", JWTAudience: "aud", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, _ := other.IssuePair(time.Now(), "u", "operator")
	if _, err := m.Verify(p.AccessToken, TokenTypeAccess, time.Now()); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestRefreshLooksUpCurrentRole(t *testing.T) {
	m := newTestManager(t)
	now := time.Unix(1700000000, 0).UTC()
	p, _ := m.IssuePair(now, "user-1", "operator")

	next, err := m.Refresh(now.Add(time.Hour), p.RefreshToken, func(string) (string, error) { return "supervisor", nil })
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, err := m.Verify(next.AccessToken, TokenTypeAccess, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Role != "supervisor" {
		t.Fatalf("expected refreshed role, got %q", claims.Role)
	}

	if _, err := m.Refresh(now, p.AccessToken, func(string) (string, error) { return "x", nil }); err == nil {
		t.Fatalf("expected access token to be refused for refresh")
	}
	lookupErr := errors.New("gone")
	if _, err := m.Refresh(now, p.RefreshToken, func(string) (string, error) { return "", lookupErr }); !errors.Is(err, lookupErr) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}

func TestVerifyRejectsOtherIssuerOrAudience(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	pair, err := newTestManager(t).IssuePair(now, "user-1", "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for _, cfg := range []config.AuthConfig{
		{JWTSecret: "secret", JWTIssuer: "other", JWTAudience: "aud", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour},
		{JWTSecret: "secret", JWTIssuer: "issuer", JWTAudience: "other", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour},
	} {
		m, err := NewManager(cfg)
		if err != nil {
			t.Fatalf("manager: %v", err)
		}
		if _, err := m.Verify(pair.AccessToken, TokenTypeAccess, now); err == nil {
			t.Fatalf("expected rejection for issuer=%q audience=%q", cfg.JWTIssuer, cfg.JWTAudience)
		}
	}
}
