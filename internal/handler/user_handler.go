package handler

import (
	"encoding/json"
	"net/http"

	"spa-gateway/internal/middleware"
)

// UserResponse is the identity payload the SPA polls to decide whether a
// session is live.
type UserResponse struct {
	Username string `json:"username"`
}

// User returns the authenticated principal's username. The route is
// protected, so a request reaching this handler always carries a session.
func User(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(UserResponse{Username: session.Username})
}
