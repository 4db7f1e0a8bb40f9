package auth

import (
	"errors"
	"testing"
)

func TestDirectoryAuthenticate(t *testing.T) {
	d := NewDirectory("pw", map[string]string{"ada": "admin"}, "operator")

	if role, err := d.Authenticate("ada", "pw"); err != nil || role != "admin" {
		t.Fatalf("expected admin, got %q %v", role, err)
	}
	if role, err := d.Authenticate("bob", "pw"); err != nil || role != "operator" {
		t.Fatalf("expected default role, got %q %v", role, err)
	}
	if _, err := d.Authenticate("ada", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := d.Authenticate(" ", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty user, got %v", err)
	}
}

func TestDirectoryWithoutPasswordRejectsAll(t *testing.T) {
	d := NewDirectory("", nil, "operator")
	if _, err := d.Authenticate("ada", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
