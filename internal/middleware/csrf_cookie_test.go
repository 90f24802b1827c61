package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"spa-gateway/internal/security"
)

func findCookie(t *testing.T, res *http.Response, name string) *http.Cookie {
	t.Helper()
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCSRFCookie_MaterializesTokenBeforeCommit(t *testing.T) {
	repo := &mockSessionRepository{}
	session := liveSession("tok-1")
	_ = repo.Create(context.Background(), session)

	tokens := security.NewTokenManager()
	handler := CSRFCookie(repo, tokens, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Handler never touches the token; the cookie must appear anyway.
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/user", nil)
	req = req.WithContext(WithSession(req.Context(), liveSession("tok-1")))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	cookie := findCookie(t, w.Result(), CSRFCookieName)
	if cookie == nil {
		t.Fatal("response committed without the CSRF cookie")
	}
	if cookie.Value == "" {
		t.Error("CSRF cookie has no value")
	}
	if cookie.HttpOnly {
		t.Error("CSRF cookie must be readable by frontend scripts")
	}
	if cookie.Path != "/" {
		t.Errorf("CSRF cookie path = %q, want /", cookie.Path)
	}
	if repo.ensureCalls != 1 {
		t.Errorf("expected exactly one EnsureCSRFToken call, got %d", repo.ensureCalls)
	}
}

func TestCSRFCookie_SilentHandlerStillGetsCookie(t *testing.T) {
	repo := &mockSessionRepository{}
	_ = repo.Create(context.Background(), liveSession("tok-2"))

	tokens := security.NewTokenManager()
	handler := CSRFCookie(repo, tokens, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No WriteHeader, no Write: implicit 200 on return.
	}))

	req := httptest.NewRequest(http.MethodGet, "/user", nil)
	req = req.WithContext(WithSession(req.Context(), liveSession("tok-2")))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if findCookie(t, w.Result(), CSRFCookieName) == nil {
		t.Error("implicit response lost the CSRF cookie")
	}
}

func TestCSRFCookie_ExistingMatchingCookieNotRewritten(t *testing.T) {
	repo := &mockSessionRepository{}
	session := liveSession("tok-3")
	session.CSRFToken = "existing-token"
	_ = repo.Create(context.Background(), session)

	tokens := security.NewTokenManager()
	handler := CSRFCookie(repo, tokens, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	ctxSession := liveSession("tok-3")
	ctxSession.CSRFToken = "existing-token"

	req := httptest.NewRequest(http.MethodGet, "/user", nil)
	req.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: "existing-token"})
	req = req.WithContext(WithSession(req.Context(), ctxSession))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if findCookie(t, w.Result(), CSRFCookieName) != nil {
		t.Error("cookie rewritten although the browser already holds the token")
	}
	if repo.ensureCalls != 0 {
		t.Errorf("token regenerated although the session already has one: %d calls", repo.ensureCalls)
	}
}

func TestCSRFCookie_NoSessionNoCookie(t *testing.T) {
	repo := &mockSessionRepository{}
	tokens := security.NewTokenManager()
	handler := CSRFCookie(repo, tokens, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if findCookie(t, w.Result(), CSRFCookieName) != nil {
		t.Error("anonymous response must not receive a CSRF cookie")
	}
}

func TestCSRFCookie_CookieWrittenOn403(t *testing.T) {
	// A CSRF failure response still delivers the token so the client can
	// retry with it.
	repo := &mockSessionRepository{}
	_ = repo.Create(context.Background(), liveSession("tok-4"))

	tokens := security.NewTokenManager()
	matcher := testMatcher()

	chain := CSRFCookie(repo, tokens, false)(
		CSRF(matcher, tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler must not run on CSRF failure")
		})),
	)

	req := httptest.NewRequest(http.MethodPost, "/user", nil)
	req = req.WithContext(WithSession(req.Context(), liveSession("tok-4")))
	w := httptest.NewRecorder()

	chain.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if findCookie(t, w.Result(), CSRFCookieName) == nil {
		t.Error("403 response committed without the CSRF cookie")
	}
}
