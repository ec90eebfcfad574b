package app

import (
	"net/http"

	"supportdesk/api/internal/rbac"
)

// routeConversations handles /api/conversations[/{id}[/messages|/status|/assign]].
func (s *HTTPServer) routeConversations(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if !s.service.Can(session.Role, rbac.ActionConverse) {
		s.forbid(w, r, session, rbac.ActionConverse)
		return
	}

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListConversations(r.Context(), session, r.URL.Query().Get("status"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": items})

	case len(parts) == 0 && r.Method == http.MethodPost:
		var body CreateConversationInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		detail, err := s.service.CreateConversation(r.Context(), session, body)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, detail)

	case len(parts) == 1 && r.Method == http.MethodGet:
		detail, err := s.service.GetConversation(r.Context(), session, parts[0])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodPost:
		var body PostMessageInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		message, err := s.service.PostMessage(r.Context(), session, parts[0], body)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, message)

	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionTriage) {
			s.forbid(w, r, session, rbac.ActionTriage)
			return
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		conversation, err := s.service.ChangeStatus(r.Context(), session, parts[0], body.Status)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conversation)

	case len(parts) == 2 && parts[1] == "assign" && r.Method == http.MethodPost:
		if !s.service.Can(session.Role, rbac.ActionTriage) {
			s.forbid(w, r, session, rbac.ActionTriage)
			return
		}
		var body struct {
			AssigneeID string `json:"assigneeId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		conversation, err := s.service.Assign(r.Context(), session, parts[0], body.AssigneeID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conversation)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
