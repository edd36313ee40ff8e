package auth_test

import (
	"testing"
	"time"

	"github.com/fatewise/fatewise/adapters/auth"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := auth.NewTokenService("test-secret", time.Hour)

	token, expiresAt, err := svc.GenerateToken("user-42")
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(expiresAt) > time.Hour || time.Until(expiresAt) < 55*time.Minute {
		t.Errorf("unexpected expiry %v", expiresAt)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "user-42" {
		t.Errorf("user id = %s, want user-42", claims.UserID)
	}
}

func TestValidate_WrongSecret(t *testing.T) {
	issuer := auth.NewTokenService("secret-a", time.Hour)
	verifier := auth.NewTokenService("secret-b", time.Hour)

	token, _, err := issuer.GenerateToken("user-42")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Error("token signed with a different secret validated")
	}
}

func TestValidate_Garbage(t *testing.T) {
	svc := auth.NewTokenService("test-secret", time.Hour)
	if _, err := svc.ValidateToken("not.a.token"); err == nil {
		t.Error("garbage token validated")
	}
}

func TestValidate_SubjectFallback(t *testing.T) {
	// Tokens from the account service may carry only the standard sub
	// claim; the engine falls back to it.
	svc := auth.NewTokenService("test-secret", time.Hour)
	token, _, err := svc.GenerateToken("user-42")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "user-42" {
		t.Errorf("subject = %s, want user-42", claims.Subject)
	}
}
