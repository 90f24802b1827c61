// Package proxy forwards gated traffic to the upstream application. The
// gateway owns authentication and CSRF enforcement; everything that survives
// the middleware chain is handed to the upstream untouched, plus identity
// headers so the upstream does not need to understand sessions.
package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"spa-gateway/internal/middleware"
	"spa-gateway/internal/observability"
)

// Identity headers injected on proxied requests for an authenticated caller.
const (
	SubjectHeader  = "X-Auth-Subject"
	UsernameHeader = "X-Auth-Username"
)

// New builds the upstream reverse proxy for the given base URL.
func New(upstreamURL string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL %q: %w", upstreamURL, err)
	}

	rp := httputil.NewSingleHostReverseProxy(target)

	director := rp.Director
	rp.Director = func(r *http.Request) {
		director(r)
		// Never trust identity headers from the client side.
		r.Header.Del(SubjectHeader)
		r.Header.Del(UsernameHeader)
		if session, ok := middleware.GetSession(r.Context()); ok {
			r.Header.Set(SubjectHeader, session.Subject)
			r.Header.Set(UsernameHeader, session.Username)
		}
	}

	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		observability.FromContext(r.Context()).Error("upstream request failed",
			"path", r.URL.Path,
			"error", err,
		)
		w.WriteHeader(http.StatusBadGateway)
	}

	return rp, nil
}
