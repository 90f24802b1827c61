package domain

import (
	"context"
	"time"
)

// LoginState is a pending authorization request: the state value sent to the
// identity provider, the PKCE verifier that must accompany the code exchange,
// and where to send the browser once login completes.
type LoginState struct {
	State      string
	Verifier   string
	ReturnPath string
	ExpiresAt  time.Time
}

// LoginStateStore holds login states between the authorization redirect and
// the provider callback.
type LoginStateStore interface {
	Put(ctx context.Context, state *LoginState) error
	// Consume returns and removes the state in one step so a state value can
	// never be replayed.
	Consume(ctx context.Context, state string) (*LoginState, error)
}
