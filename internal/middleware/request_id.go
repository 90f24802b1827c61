package middleware

import (
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"spa-gateway/internal/observability"
)

// RequestLogContext copies chi's request id into the logging context, so
// every line logged through observability.FromContext carries it. Must sit
// after chi's RequestID middleware in the chain.
func RequestLogContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reqID := chimiddleware.GetReqID(r.Context()); reqID != "" {
				r = r.WithContext(observability.WithRequestID(r.Context(), reqID))
			}
			next.ServeHTTP(w, r)
		})
	}
}
