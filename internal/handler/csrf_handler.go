package handler

import (
	"encoding/json"
	"net/http"

	"spa-gateway/internal/domain"
	"spa-gateway/internal/middleware"
	"spa-gateway/internal/observability"
	"spa-gateway/internal/security"
)

// CSRFResponse describes the anti-forgery token to the SPA: the masked value
// and the request channels that accept it.
type CSRFResponse struct {
	Token         string `json:"token"`
	HeaderName    string `json:"headerName"`
	ParameterName string `json:"parameterName"`
}

// CSRFHandler serves the session's anti-forgery token on demand.
type CSRFHandler struct {
	sessions domain.SessionRepository
	tokens   *security.TokenManager
}

func NewCSRFHandler(sessions domain.SessionRepository, tokens *security.TokenManager) *CSRFHandler {
	return &CSRFHandler{sessions: sessions, tokens: tokens}
}

// Token returns the session's CSRF token, masked with a fresh pad per
// response. The token is created on first use; concurrent first requests all
// converge on the same stored value.
func (h *CSRFHandler) Token(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	token := session.CSRFToken
	if token == "" {
		candidate, err := h.tokens.Generate()
		if err != nil {
			observability.FromContext(r.Context()).Error("failed to generate CSRF token", "error", err)
			http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
			return
		}
		token, err = h.sessions.EnsureCSRFToken(r.Context(), session.Token, candidate)
		if err != nil {
			observability.FromContext(r.Context()).Error("failed to store CSRF token", "error", err)
			http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
			return
		}
	}

	masked, err := h.tokens.Mask(token)
	if err != nil {
		observability.FromContext(r.Context()).Error("failed to mask CSRF token", "error", err)
		http.Error(w, `{"error":"Internal server error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CSRFResponse{
		Token:         masked,
		HeaderName:    middleware.CSRFHeaderName,
		ParameterName: middleware.CSRFFieldName,
	})
}
