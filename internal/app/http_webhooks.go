package app

import (
	"net/http"
	"strconv"

	"supportdesk/api/internal/rbac"
	"supportdesk/api/internal/webhooks"
)

func (s *HTTPServer) routeWebhooks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if !s.service.Can(session.Role, rbac.ActionManageWebhooks) {
		s.forbid(w, r, session, rbac.ActionManageWebhooks)
		return
	}

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListWebhooks(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"webhooks": items})

	case len(parts) == 0 && r.Method == http.MethodPost:
		var body webhooks.CreateInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.CreateWebhook(r.Context(), session, body)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)

	case len(parts) == 1 && r.Method == http.MethodGet:
		view, err := s.service.GetWebhook(r.Context(), parts[0])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case len(parts) == 1 && r.Method == http.MethodPut:
		var body webhooks.UpdateInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err := s.service.UpdateWebhook(r.Context(), parts[0], body)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteWebhook(r.Context(), parts[0]); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 2 && parts[1] == "test" && r.Method == http.MethodPost:
		result, err := s.service.TestWebhook(r.Context(), parts[0])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(parts) == 2 && parts[1] == "deliveries" && r.Method == http.MethodGet:
		limit := 0
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
			limit = v
		}
		items, err := s.service.ListWebhookDeliveries(r.Context(), parts[0], limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deliveries": items})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
