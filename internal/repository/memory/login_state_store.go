package memory

import (
	"context"
	"sync"
	"time"

	"spa-gateway/internal/domain"
)

// LoginStateStore holds pending authorization requests between the redirect
// to the identity provider and the callback. States are short-lived and
// consumed exactly once.
type LoginStateStore struct {
	mu     sync.Mutex
	states map[string]*domain.LoginState
}

// NewLoginStateStore creates an empty login state store.
func NewLoginStateStore() *LoginStateStore {
	return &LoginStateStore{states: make(map[string]*domain.LoginState)}
}

func (s *LoginStateStore) Put(ctx context.Context, state *domain.LoginState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.State] = state
	return nil
}

// Consume returns the stored state and removes it, so a replayed callback
// with the same state value fails.
func (s *LoginStateStore) Consume(ctx context.Context, state string) (*domain.LoginState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.states[state]
	if !ok {
		return nil, domain.ErrStateNotFound
	}
	delete(s.states, state)

	if time.Now().After(entry.ExpiresAt) {
		return nil, domain.ErrStateNotFound
	}
	return entry, nil
}

// Sweep removes expired states. Called periodically from main.
func (s *LoginStateStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for state, entry := range s.states {
		if now.After(entry.ExpiresAt) {
			delete(s.states, state)
			removed++
		}
	}
	return removed
}
