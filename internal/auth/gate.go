package auth

import (
	"context"
	"errors"
	"net/url"
)

// ErrNotAuthenticated is returned by Gate.Identity when the calling
// context carries no signed-in user.
var ErrNotAuthenticated = errors.New("not authenticated")

// Identity is the signed-in user seen by bridge operations.
type Identity struct {
	UserID   string
	Username string
}

// Gate answers the one question bridge operations ask before touching
// per-user storage: who is calling, and where do we send them if the
// answer is nobody.
type Gate interface {
	// Identity returns the caller's identity, or ErrNotAuthenticated.
	Identity(ctx context.Context) (*Identity, error)

	// SignInURL returns the sign-in page URL with a redirect back to
	// returnTo once authentication completes.
	SignInURL(returnTo string) string
}

// SessionGate implements Gate over request-context claims.
type SessionGate struct {
	signInPath string
}

// NewSessionGate creates a gate that redirects to signInPath.
func NewSessionGate(signInPath string) *SessionGate {
	return &SessionGate{signInPath: signInPath}
}

// Identity returns the identity from the context's validated claims.
func (g *SessionGate) Identity(ctx context.Context) (*Identity, error) {
	claims := GetClaims(ctx)
	if claims == nil || claims.UserID == "" {
		return nil, ErrNotAuthenticated
	}
	return &Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
	}, nil
}

// SignInURL builds the sign-in URL with the post-auth redirect target.
func (g *SessionGate) SignInURL(returnTo string) string {
	if returnTo == "" {
		return g.signInPath
	}
	return g.signInPath + "?redirect=" + url.QueryEscape(returnTo)
}
