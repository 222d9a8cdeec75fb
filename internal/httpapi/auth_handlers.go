package httpapi

import (
	"net/http"
	"strings"
	"time"

	"levra.org/internal/audit"
	"levra.org/internal/auth"
)

type tokenRequest struct {
	User string `json:"user" validate:"required,max=128"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

type meResponse struct {
	UserID string `json:"user_id"`
	Admin  bool   `json:"admin"`
}

// handleAuthToken signs a development token. Roles are looked up, not
// taken from the request.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !a.bind(w, r, &req) {
		return
	}
	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}

	roles, err := auth.RolesFor(r.Context(), a.roles, user)
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "role lookup failed")
		return
	}
	token, err := auth.GenerateToken(user, roles, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventTokenIssued, map[string]any{
		"user":       user,
		"roles":      roles,
		"expires_at": token.ExpiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token.Value,
		Roles:     roles,
		ExpiresAt: token.ExpiresAt,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	writeJSON(w, http.StatusOK, meResponse{UserID: actor.ID(), Admin: actor.IsAdmin()})
}
