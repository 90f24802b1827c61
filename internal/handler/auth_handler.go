package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"spa-gateway/internal/domain"
	"spa-gateway/internal/middleware"
	"spa-gateway/internal/observability"
	"spa-gateway/internal/oidc"
	"spa-gateway/internal/security"
)

// loginStateTTL bounds how long an authorization redirect may stay pending
// before the callback arrives.
const loginStateTTL = 10 * time.Minute

// identityProvider is the slice of the OIDC client the handlers need.
type identityProvider interface {
	Name() string
	AuthCodeURL(state, verifier string) string
	Authenticate(ctx context.Context, code, verifier string) (*oidc.Claims, string, error)
	EndSessionURL(idTokenHint string) string
	PostLogoutRedirect() string
}

// AuthHandler drives the authorization-code flow: starting a login, handling
// the provider callback, and tearing the session down again on logout.
type AuthHandler struct {
	provider   identityProvider
	sessions   domain.SessionRepository
	states     domain.LoginStateStore
	tokens     *security.TokenManager
	sessionTTL time.Duration
	failureURL string
	secure     bool
}

// NewAuthHandler creates a new authentication handler. failureURL is where
// the browser is sent after any failed login; secure controls the Secure flag
// on the cookies it issues.
func NewAuthHandler(provider identityProvider, sessions domain.SessionRepository, states domain.LoginStateStore, tokens *security.TokenManager, sessionTTL time.Duration, failureURL string, secure bool) *AuthHandler {
	return &AuthHandler{
		provider:   provider,
		sessions:   sessions,
		states:     states,
		tokens:     tokens,
		sessionTTL: sessionTTL,
		failureURL: failureURL,
		secure:     secure,
	}
}

// Login starts the authorization-code flow: it stores a fresh state and PKCE
// verifier, then redirects the browser to the provider's authorization
// endpoint. The optional return_to query parameter names the local path the
// browser comes back to after the callback.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := oidc.GenerateState()
	if err != nil {
		observability.FromContext(r.Context()).Error("failed to generate login state", "error", err)
		http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
		return
	}

	loginState := &domain.LoginState{
		State:      state,
		Verifier:   oidc.GenerateVerifier(),
		ReturnPath: sanitizeReturnPath(r.URL.Query().Get("return_to")),
		ExpiresAt:  time.Now().Add(loginStateTTL),
	}

	if err := h.states.Put(r.Context(), loginState); err != nil {
		observability.FromContext(r.Context()).Error("failed to store login state", "error", err)
		http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.provider.AuthCodeURL(loginState.State, loginState.Verifier), http.StatusFound)
}

// Callback completes the authorization-code flow. Every failure mode, from a
// tampered state to a provider timeout, ends in a redirect to the login
// failure URL; the callback never renders an error page of its own.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		h.failLogin(w, r, "provider returned error", "provider_error", errCode)
		return
	}

	state := query.Get("state")
	code := query.Get("code")
	if state == "" || code == "" {
		h.failLogin(w, r, "callback missing state or code")
		return
	}

	loginState, err := h.states.Consume(r.Context(), state)
	if err != nil {
		h.failLogin(w, r, "unknown or replayed login state", "error", err)
		return
	}

	start := time.Now()
	claims, rawIDToken, err := h.provider.Authenticate(r.Context(), code, loginState.Verifier)
	observability.TokenExchangeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		h.failLogin(w, r, "code exchange failed", "error", err)
		return
	}

	token, err := newSessionToken()
	if err != nil {
		h.failLogin(w, r, "failed to generate session token", "error", err)
		return
	}

	now := time.Now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		Token:     token,
		Subject:   claims.Subject,
		Username:  claims.PreferredUsername,
		Provider:  h.provider.Name(),
		IDToken:   rawIDToken,
		ExpiresAt: now.Add(h.sessionTTL),
		CreatedAt: now,
	}

	if err := h.sessions.Create(r.Context(), session); err != nil {
		h.failLogin(w, r, "failed to persist session", "error", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.Token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	// Deliver the anti-forgery token with the login response so the SPA can
	// mutate state without a warm-up request first.
	if candidate, err := h.tokens.Generate(); err == nil {
		if winner, err := h.sessions.EnsureCSRFToken(r.Context(), session.Token, candidate); err == nil {
			http.SetCookie(w, &http.Cookie{
				Name:     middleware.CSRFCookieName,
				Value:    winner,
				Path:     "/",
				HttpOnly: false,
				Secure:   h.secure,
				SameSite: http.SameSiteLaxMode,
			})
		}
	}

	observability.LoginsTotal.WithLabelValues("success").Inc()
	observability.SessionsActive.Inc()
	observability.FromContext(r.Context()).Info("login completed",
		"subject", claims.Subject,
		"provider", h.provider.Name(),
	)

	http.Redirect(w, r, loginState.ReturnPath, http.StatusFound)
}

// Logout destroys the session and tells the SPA where the provider's logout
// lives. The response is a 202 with the end-session URL in the Location
// header rather than a 302: a cross-origin fetch cannot follow a redirect to
// the provider, so the frontend reads the header and navigates itself.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	location := h.provider.PostLogoutRedirect()

	if session, ok := middleware.GetSession(r.Context()); ok {
		if err := h.sessions.Delete(r.Context(), session.Token); err != nil {
			observability.FromContext(r.Context()).Error("failed to delete session", "error", err)
		} else {
			observability.SessionsActive.Dec()
		}
		if endSession := h.provider.EndSessionURL(session.IDToken); endSession != "" {
			location = endSession
		}
		observability.LogoutsTotal.Inc()
		observability.FromContext(r.Context()).Info("logout completed", "subject", session.Subject)
	}

	expireCookie(w, middleware.SessionCookieName, true, h.secure)
	expireCookie(w, middleware.CSRFCookieName, false, h.secure)

	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusAccepted)
}

func (h *AuthHandler) failLogin(w http.ResponseWriter, r *http.Request, msg string, args ...any) {
	observability.LoginsTotal.WithLabelValues("failure").Inc()
	observability.FromContext(r.Context()).Warn("login failed: "+msg, args...)
	http.Redirect(w, r, h.failureURL, http.StatusFound)
}

// sanitizeReturnPath keeps the post-login redirect on this origin: only a
// local absolute path is accepted, anything else falls back to the root.
func sanitizeReturnPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return "/"
	}
	return p
}

func newSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func expireCookie(w http.ResponseWriter, name string, httpOnly, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: httpOnly,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
