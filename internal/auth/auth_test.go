package auth

import (
	"testing"
	"time"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	svc, err := NewTokenService("test-secret", "tezrelay")
	if err != nil {
		t.Fatalf("NewTokenService() = %v", err)
	}
	token, err := svc.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue() = %v", err)
	}
	subject, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify() = %v", err)
	}
	if subject != "user-1" {
		t.Fatalf("subject = %q, want user-1", subject)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	svc, _ := NewTokenService("test-secret", "tezrelay")
	token, err := svc.Issue("user-1", time.Nanosecond)
	if err != nil {
		t.Fatalf("Issue() = %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := svc.Verify(token); err != ErrInvalidToken {
		t.Fatalf("Verify() = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	svc, _ := NewTokenService("test-secret", "tezrelay")
	token, err := svc.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue() = %v", err)
	}
	other, _ := NewTokenService("other-secret", "tezrelay")
	if _, err := other.Verify(token); err != ErrInvalidToken {
		t.Fatalf("Verify() = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	svc, _ := NewTokenService("test-secret", "tezrelay")
	token, err := svc.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue() = %v", err)
	}
	other, _ := NewTokenService("test-secret", "other-issuer")
	if _, err := other.Verify(token); err != ErrInvalidToken {
		t.Fatalf("Verify() = %v, want ErrInvalidToken", err)
	}
}
