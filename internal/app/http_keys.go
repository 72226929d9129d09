package app

import (
	"net/http"

	"gmptracker/internal/rbac"
)

func (s *HTTPServer) handleWorkspaceKeys(w http.ResponseWriter, r *http.Request, sess Session) {
	if !s.service.Can(sess.Role, rbac.ActionAdmin) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		keys, err := s.service.ListWorkspaceKeys(r.Context(), sess)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"keys": keys})

	case http.MethodPost:
		var body struct {
			Label string `json:"label"`
			Key   string `json:"key"`
			Role  string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		key, err := s.service.CreateWorkspaceKey(r.Context(), sess, body.Label, body.Key, body.Role)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, key)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}
