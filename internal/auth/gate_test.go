package auth

import (
	"context"
	"testing"
)

func TestIdentityFromClaims(t *testing.T) {
	g := NewSessionGate("/sign-in")

	ctx := WithClaims(context.Background(), &Claims{UserID: "user-1", Username: "alice"})
	identity, err := g.Identity(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if identity.UserID != "user-1" || identity.Username != "alice" {
		t.Errorf("unexpected identity %+v", identity)
	}
}

func TestIdentityMissingClaims(t *testing.T) {
	g := NewSessionGate("/sign-in")

	if _, err := g.Identity(context.Background()); err != ErrNotAuthenticated {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}

	// Claims without a user ID are not an identity either.
	ctx := WithClaims(context.Background(), &Claims{})
	if _, err := g.Identity(ctx); err != ErrNotAuthenticated {
		t.Errorf("expected ErrNotAuthenticated for empty claims, got %v", err)
	}
}

func TestSignInURL(t *testing.T) {
	g := NewSessionGate("/sign-in")

	if got := g.SignInURL("/protected"); got != "/sign-in?redirect=%2Fprotected" {
		t.Errorf("unexpected URL %q", got)
	}
	if got := g.SignInURL(""); got != "/sign-in" {
		t.Errorf("expected bare sign-in path, got %q", got)
	}
}
