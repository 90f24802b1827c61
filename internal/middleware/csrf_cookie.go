package middleware

import (
	"net/http"

	"spa-gateway/internal/domain"
	"spa-gateway/internal/observability"
	"spa-gateway/internal/security"
)

// CSRFCookie guarantees that an authenticated response never commits without
// its CSRF cookie. The token read is forced in a pre-commit hook on the
// response writer: even when no handler consumed the token, it is
// materialized (first writer wins in the repository) and written to the
// cookie before the first byte of the response goes out.
func CSRFCookie(sessionRepo domain.SessionRepository, tokens *security.TokenManager, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, ok := GetSession(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			ww := &preCommitWriter{ResponseWriter: w}
			ww.commit = func() {
				ensureCSRFCookie(ww.ResponseWriter, r, session, sessionRepo, tokens, secure)
			}

			next.ServeHTTP(ww, r)

			// Handlers that never write still need the cookie on the
			// implicit 200.
			ww.ensureCommitted()
		})
	}
}

func ensureCSRFCookie(w http.ResponseWriter, r *http.Request, session *domain.Session, sessionRepo domain.SessionRepository, tokens *security.TokenManager, secure bool) {
	token := session.CSRFToken
	if token == "" {
		candidate, err := tokens.Generate()
		if err != nil {
			observability.FromContext(r.Context()).Error("failed to generate CSRF token", "error", err.Error())
			return
		}

		winner, err := sessionRepo.EnsureCSRFToken(r.Context(), session.Token, candidate)
		if err != nil {
			// Session vanished mid-request (e.g. logout); nothing to deliver.
			return
		}
		token = winner
		session.CSRFToken = winner
	}

	// Skip the Set-Cookie when the browser already holds the right value.
	if cookie, err := r.Cookie(CSRFCookieName); err == nil && cookie.Value == token {
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false, // the frontend must read it back
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// preCommitWriter runs a hook exactly once before the response status or
// first body byte is written.
type preCommitWriter struct {
	http.ResponseWriter
	commit    func()
	committed bool
}

func (w *preCommitWriter) WriteHeader(statusCode int) {
	w.ensureCommitted()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *preCommitWriter) Write(b []byte) (int, error) {
	w.ensureCommitted()
	return w.ResponseWriter.Write(b)
}

func (w *preCommitWriter) ensureCommitted() {
	if !w.committed {
		w.committed = true
		w.commit()
	}
}
