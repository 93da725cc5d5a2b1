package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"gitforge.org/internal/auth"
)

type loginRequest struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Scope    []string `json:"scope"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	token, compact, err := a.auth.Login(r.Context(), req.Username, req.Password, auth.NewScope(req.Scope...))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		handleAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.login", map[string]any{
		"user":  token.Subject,
		"scope": token.Scope.String(),
	})
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     compact,
		ExpiresAt: token.Expiration,
	})
}

type refreshRequest struct {
	Token string `json:"token"`
}

type refreshResponse struct {
	Token     string `json:"token"`
	Refreshed bool   `json:"refreshed"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	compact := strings.TrimSpace(req.Token)
	if compact == "" {
		// Fall back to the bearer token the request authenticated with.
		compact, _ = extractBearerToken(r.Header.Get(authHeader))
	}
	if compact == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}

	replacement, refreshed, err := a.auth.RefreshToken(r.Context(), compact)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	if !refreshed {
		// Still valid and the strategy declined; the client keeps its token.
		writeJSON(w, http.StatusOK, refreshResponse{Token: compact, Refreshed: false})
		return
	}
	a.audit(r.Context(), "auth.refresh", nil)
	writeJSON(w, http.StatusOK, refreshResponse{Token: replacement, Refreshed: true})
}
