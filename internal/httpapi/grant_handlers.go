package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"gitforge.org/internal/auth"
)

type createGrantRequest struct {
	Name       string `json:"name"`
	Group      bool   `json:"group"`
	Permission string `json:"permission"`
}

func (a *API) handleGrants(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		grants, err := a.auth.ListGrants(r.Context(), principal)
		if err != nil {
			handleAuthError(w, r, err)
			return
		}
		if grants == nil {
			grants = []auth.AssignedPermission{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"grants": grants})

	case http.MethodPost:
		var req createGrantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		grant := &auth.AssignedPermission{
			Name:       strings.TrimSpace(req.Name),
			Group:      req.Group,
			Permission: strings.TrimSpace(req.Permission),
		}
		if err := a.auth.AddGrant(r.Context(), principal, grant); err != nil {
			handleAuthError(w, r, err)
			return
		}
		a.audit(r.Context(), "auth.grant.create", map[string]any{
			"grant":      grant.ID,
			"target":     grant.Name,
			"group":      grant.Group,
			"permission": grant.Permission,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/grants/%s", grant.ID))
		writeJSON(w, http.StatusCreated, grant)

	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleGrantByID(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/grants/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.auth.RemoveGrant(r.Context(), principal, id); err != nil {
		handleAuthError(w, r, err)
		return
	}
	a.audit(r.Context(), "auth.grant.delete", map[string]any{"grant": id})
	w.WriteHeader(http.StatusNoContent)
}
