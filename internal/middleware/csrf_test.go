package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"spa-gateway/internal/security"
)

func csrfHandler(t *testing.T, executed *bool) http.Handler {
	t.Helper()
	tokens := security.NewTokenManager()
	return CSRF(testMatcher(), tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*executed = true
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCSRF_SkipsSafeMethods(t *testing.T) {
	var executed bool
	handler := csrfHandler(t, &executed)

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace} {
		executed = false
		req := httptest.NewRequest(method, "/user", nil)
		req = req.WithContext(WithSession(req.Context(), liveSession("tok")))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if !executed || w.Code != http.StatusOK {
			t.Errorf("%s: expected pass-through, got %d", method, w.Code)
		}
	}
}

func TestCSRF_SkipsPublicPaths(t *testing.T) {
	var executed bool
	handler := csrfHandler(t, &executed)

	req := httptest.NewRequest(http.MethodPost, "/topic/lobby", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !executed || w.Code != http.StatusOK {
		t.Errorf("public POST: expected pass-through, got %d", w.Code)
	}
}

func TestCSRF_MissingSessionYields401(t *testing.T) {
	var executed bool
	handler := csrfHandler(t, &executed)

	req := httptest.NewRequest(http.MethodPost, "/user", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if executed {
		t.Error("handler executed without a session")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestCSRF_MissingTokenYields403(t *testing.T) {
	var executed bool
	handler := csrfHandler(t, &executed)

	session := liveSession("tok")
	session.CSRFToken = "expected-token"

	req := httptest.NewRequest(http.MethodPost, "/user", nil)
	req = req.WithContext(WithSession(req.Context(), session))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if executed {
		t.Error("handler executed despite missing CSRF token")
	}
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", w.Body.String())
	}
}

func TestCSRF_WrongHeaderTokenYields403(t *testing.T) {
	var executed bool
	handler := csrfHandler(t, &executed)

	session := liveSession("tok")
	session.CSRFToken = "expected-token"

	req := httptest.NewRequest(http.MethodPost, "/user", nil)
	req.Header.Set(CSRFHeaderName, "wrong-token")
	req = req.WithContext(WithSession(req.Context(), session))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if executed {
		t.Error("handler executed despite wrong CSRF token")
	}
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestCSRF_HeaderChannelAcceptsRawToken(t *testing.T) {
	var executed bool
	handler := csrfHandler(t, &executed)

	session := liveSession("tok")
	session.CSRFToken = "expected-token"

	req := httptest.NewRequest(http.MethodPost, "/user", nil)
	req.Header.Set(CSRFHeaderName, "expected-token")
	req = req.WithContext(WithSession(req.Context(), session))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !executed || w.Code != http.StatusOK {
		t.Errorf("expected success via header channel, got %d", w.Code)
	}
}

func TestCSRF_FormChannelAcceptsMaskedToken(t *testing.T) {
	tokens := security.NewTokenManager()
	var executed bool
	handler := CSRF(testMatcher(), tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		executed = true
		w.WriteHeader(http.StatusOK)
	}))

	session := liveSession("tok")
	session.CSRFToken = "expected-token"

	masked, err := tokens.Mask(session.CSRFToken)
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}

	form := url.Values{CSRFFieldName: {masked}}
	req := httptest.NewRequest(http.MethodPost, "/user", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = req.WithContext(WithSession(req.Context(), session))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !executed || w.Code != http.StatusOK {
		t.Errorf("expected success via masked form channel, got %d", w.Code)
	}
}

func TestCSRF_FormChannelPreservesBodyForHandler(t *testing.T) {
	tokens := security.NewTokenManager()
	var gotBody string
	handler := CSRF(testMatcher(), tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("handler failed to read body: %v", err)
		}
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))

	session := liveSession("tok")
	session.CSRFToken = "expected-token"

	masked, err := tokens.Mask(session.CSRFToken)
	if err != nil {
		t.Fatalf("Mask failed: %v", err)
	}

	// The proxied upstream must receive exactly what the client sent.
	form := url.Values{CSRFFieldName: {masked}, "payload": {"important"}}
	encoded := form.Encode()
	req := httptest.NewRequest(http.MethodPost, "/user", strings.NewReader(encoded))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = req.WithContext(WithSession(req.Context(), session))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotBody != encoded {
		t.Errorf("handler saw body %q, want %q", gotBody, encoded)
	}
}

func TestCSRF_FormChannelRejectsRawToken(t *testing.T) {
	// The form channel only accepts masked values; a raw token unmasks to
	// garbage and must fail.
	var executed bool
	handler := csrfHandler(t, &executed)

	session := liveSession("tok")
	session.CSRFToken = "expected-token"

	form := url.Values{CSRFFieldName: {"expected-token"}}
	req := httptest.NewRequest(http.MethodPost, "/user", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = req.WithContext(WithSession(req.Context(), session))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if executed {
		t.Error("handler executed for raw token on the masked channel")
	}
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}
