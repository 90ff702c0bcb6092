package httpapi

import (
	"testing"
	"time"
)

func TestIssueAndParseTokenRoundTrip(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour)

	token, expiresAt, err := manager.Issue("operator1", "operator")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
	if !expiresAt.After(time.Now()) {
		t.Fatalf("expected expiry in the future, got %v", expiresAt)
	}

	actor, err := manager.ParseToken(token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "operator1" {
		t.Fatalf("expected subject operator1, got %q", actor.Username)
	}
	if actor.Role != "operator" {
		t.Fatalf("expected role operator, got %q", actor.Role)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthManager("secret-one", time.Hour)
	verifier := NewAuthManager("secret-two", time.Hour)

	token, _, err := issuer.Issue("admin", "admin")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Millisecond)

	token, _, err := manager.Issue("admin", "admin")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour)

	if _, err := manager.ParseToken("not-a-jwt"); err == nil {
		t.Fatalf("expected malformed token to be rejected")
	}
}
