package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrStateNotFound   = errors.New("login state not found")
)

// Session binds a request to an authenticated principal. It is created only
// by the OIDC callback after the identity token has been verified, and
// destroyed on logout or expiry.
type Session struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`        // opaque cookie value
	Subject   string    `json:"subject"`  // "sub" claim from the identity token
	Username  string    `json:"username"` // "preferred_username" claim
	Provider  string    `json:"provider"` // client registration that issued it
	IDToken   string    `json:"-"`        // raw identity token, kept for the logout id_token_hint
	CSRFToken string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionRepository defines the interface for session data access.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByToken(ctx context.Context, token string) (*Session, error)
	// EnsureCSRFToken stores candidate as the session's CSRF token if none is
	// set yet and returns the winning value. Concurrent callers for the same
	// session must all observe a single winner.
	EnsureCSRFToken(ctx context.Context, sessionToken, candidate string) (string, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context) (int64, error)
}
