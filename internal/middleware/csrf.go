package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"spa-gateway/internal/access"
	"spa-gateway/internal/observability"
	"spa-gateway/internal/security"
)

const (
	// CSRFCookieName delivers the raw token to the browser. The cookie is
	// deliberately not HttpOnly: the double-submit scheme depends on frontend
	// scripts reading it and echoing it back.
	CSRFCookieName = "XSRF-TOKEN"
	// CSRFHeaderName is the direct-comparison channel. Headers are not
	// reflected in compressible response bodies, so this channel carries the
	// raw token.
	CSRFHeaderName = "X-XSRF-TOKEN"
	// CSRFFieldName is the form/body channel and carries the masked token.
	CSRFFieldName = "_csrf"
)

// CSRF validates anti-forgery tokens on state-mutating requests.
//
// Safe methods and public paths are exempt. A token presented via the
// X-XSRF-TOKEN header is compared directly; otherwise the masked value is
// taken from the _csrf form field and unmasked first. Both comparisons are
// constant-time. Failure writes exactly 403 with no body and the handler
// never runs.
func CSRF(matcher *access.Matcher, tokens *security.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if matcher.Classify(r.URL.Path) == access.Public {
				next.ServeHTTP(w, r)
				return
			}

			// Auth runs before CSRF; a missing session here means the chain
			// is miswired, but answer 401 rather than leak a 403.
			session, ok := GetSession(r.Context())
			if !ok {
				unauthorized(w, r)
				return
			}

			submitted, masked := extractCSRFToken(r)
			if submitted == "" {
				forbidden(w, r, session.Subject, "missing token")
				return
			}

			if masked {
				raw, err := tokens.Unmask(submitted)
				if err != nil {
					forbidden(w, r, session.Subject, "malformed masked token")
					return
				}
				submitted = raw
			}

			if session.CSRFToken == "" || !tokens.Equal(session.CSRFToken, submitted) {
				forbidden(w, r, session.Subject, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSafeMethod returns true for read-only methods that never mutate state
// and therefore carry no CSRF token.
func isSafeMethod(method string) bool {
	return method == http.MethodGet ||
		method == http.MethodHead ||
		method == http.MethodOptions ||
		method == http.MethodTrace
}

// maxFormBodyBytes bounds how much of a form body is buffered to look up the
// CSRF field.
const maxFormBodyBytes = 1 << 20

// extractCSRFToken resolves the submitted token. The header channel wins
// when present and is unmasked raw; the form field carries a masked value.
//
// The form channel reads a buffered copy of the body and puts the original
// bytes back on the request: most validated requests continue into the
// reverse proxy, and the upstream must see the payload intact.
func extractCSRFToken(r *http.Request) (token string, masked bool) {
	if v := r.Header.Get(CSRFHeaderName); v != "" {
		return v, false
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "application/x-www-form-urlencoded" || r.Body == nil {
		return "", true
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxFormBodyBytes))
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return "", true
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", true
	}
	return values.Get(CSRFFieldName), true
}

func forbidden(w http.ResponseWriter, r *http.Request, subject, reason string) {
	observability.CSRFFailuresTotal.WithLabelValues(reason).Inc()
	slog.Warn("CSRF validation failed",
		slog.String("subject", subject),
		slog.String("reason", reason),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)
	w.WriteHeader(http.StatusForbidden)
}
