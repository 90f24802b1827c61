package memory

import (
	"context"
	"sync"
	"time"

	"spa-gateway/internal/domain"
)

// SessionRepository is the default single-node session store. Reads are
// lock-free; the only contended write is the first CSRF token materialization
// for a session, which is settled with a compare-and-set so concurrent
// first requests converge on one value.
type SessionRepository struct {
	sessions   sync.Map // token -> domain.Session (stored by value)
	csrfTokens sync.Map // token -> string
}

// NewSessionRepository creates an empty in-memory session store.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	stored := *session
	if stored.CSRFToken != "" {
		r.csrfTokens.Store(stored.Token, stored.CSRFToken)
		stored.CSRFToken = ""
	}
	r.sessions.Store(stored.Token, stored)
	return nil
}

func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	v, ok := r.sessions.Load(token)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	session := v.(domain.Session)
	if time.Now().After(session.ExpiresAt) {
		r.sessions.Delete(token)
		r.csrfTokens.Delete(token)
		return nil, domain.ErrSessionExpired
	}

	if csrf, ok := r.csrfTokens.Load(token); ok {
		session.CSRFToken = csrf.(string)
	}
	return &session, nil
}

// EnsureCSRFToken installs candidate as the session's CSRF token unless one
// already exists, and returns the value that won.
func (r *SessionRepository) EnsureCSRFToken(ctx context.Context, sessionToken, candidate string) (string, error) {
	if _, ok := r.sessions.Load(sessionToken); !ok {
		return "", domain.ErrSessionNotFound
	}
	winner, _ := r.csrfTokens.LoadOrStore(sessionToken, candidate)
	return winner.(string), nil
}

func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	r.sessions.Delete(token)
	r.csrfTokens.Delete(token)
	return nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now()
	var count int64

	r.sessions.Range(func(key, value any) bool {
		session := value.(domain.Session)
		if now.After(session.ExpiresAt) {
			r.sessions.Delete(key)
			r.csrfTokens.Delete(key)
			count++
		}
		return true
	})
	return count, nil
}
