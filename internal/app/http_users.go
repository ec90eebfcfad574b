package app

import (
	"net/http"

	"supportdesk/api/internal/rbac"
)

func (s *HTTPServer) routeUsers(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if !s.service.Can(session.Role, rbac.ActionManageUsers) {
		s.forbid(w, r, session, rbac.ActionManageUsers)
		return
	}

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		users, err := s.service.ListUsers(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})

	case len(parts) == 2 && parts[1] == "role" && r.Method == http.MethodPost:
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.UpdateUserRole(r.Context(), session, parts[0], body.Role)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
