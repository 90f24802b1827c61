package middleware

import (
	"context"
	"net/http"

	"spa-gateway/internal/access"
	"spa-gateway/internal/domain"
	"spa-gateway/internal/observability"
)

type contextKey string

const SessionKey contextKey = "session"

// SessionCookieName is the cookie carrying the opaque session token.
const SessionCookieName = "session_id"

// Auth is the authentication gate. Public paths (per the access matcher)
// pass through without touching the session store. Protected paths require a
// live session; a request without one is terminated with a bare 401 — no
// body and no Location header — so the SPA can detect the status and decide
// itself when to start a login flow, instead of being redirected into an
// HTML login page it cannot parse.
func Auth(matcher *access.Matcher, sessionRepo domain.SessionRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if matcher.Classify(r.URL.Path) == access.Public {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(SessionCookieName)
			if err != nil {
				unauthorized(w, r)
				return
			}

			session, err := sessionRepo.GetByToken(r.Context(), cookie.Value)
			if err != nil {
				unauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), SessionKey, session)
			ctx = observability.WithSubject(ctx, session.Subject)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	observability.AuthFailuresTotal.WithLabelValues(r.URL.Path).Inc()
	w.WriteHeader(http.StatusUnauthorized)
}

func GetSession(ctx context.Context) (*domain.Session, bool) {
	session, ok := ctx.Value(SessionKey).(*domain.Session)
	return session, ok
}

func WithSession(ctx context.Context, session *domain.Session) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}
