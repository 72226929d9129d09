package app

import (
	"net/http"
	"strconv"

	"gmptracker/internal/rbac"
	"gmptracker/internal/records"
)

// handleProgress serves /api/progress and everything below it. rest is the
// path after "progress".
func (s *HTTPServer) handleProgress(w http.ResponseWriter, r *http.Request, sess Session, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		rows, err := s.service.ListProgress(r.Context(), sess)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list progress", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"progress": rows})

	case len(rest) == 0 && r.Method == http.MethodPost:
		if !s.service.Can(sess.Role, rbac.ActionTrack) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Rows []records.ProgressPatch `json:"rows"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		rows, err := s.service.UpsertProgress(r.Context(), sess, body.Rows)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"progress": rows})

	case len(rest) == 0 && r.Method == http.MethodDelete:
		if !s.service.Can(sess.Role, rbac.ActionReset) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		deleted, err := s.service.ResetProgress(r.Context(), sess)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": deleted})

	case len(rest) == 1 && rest[0] == "summary" && r.Method == http.MethodGet:
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		summary, err := s.service.ProgressSummary(r.Context(), sess)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, summary)

	case len(rest) == 1 && rest[0] == "export" && r.Method == http.MethodGet:
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		archive, _ := strconv.ParseBool(r.URL.Query().Get("archive"))
		result, err := s.service.Export(r.Context(), sess, r.URL.Query().Get("format"), archive)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		if result.ArchiveKey != "" {
			w.Header().Set("X-Archive-Key", result.ArchiveKey)
			w.Header().Set("X-Archive-URL", result.ArchiveURL)
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	case len(rest) == 1 && rest[0] == "import" && r.Method == http.MethodPost:
		if !s.service.Can(sess.Role, rbac.ActionReset) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		backup := records.EmptyBackup()
		if err := decodeBody(r, &backup); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		rows, err := s.service.ImportProgress(r.Context(), sess, backup)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"progress": rows})

	case len(rest) == 1 && rest[0] == "history" && r.Method == http.MethodGet:
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		limit, err := queryInt(r.URL.Query().Get("limit"), defaultHistoryLimit)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, records.CodeValidation, "limit must be an integer", nil)
			return
		}
		commits, err := s.service.History(r.Context(), sess, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits})

	case len(rest) == 1 && rest[0] == "history" && r.Method == http.MethodPost:
		if !s.service.Can(sess.Role, rbac.ActionTrack) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body struct {
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		commit, err := s.service.Checkpoint(r.Context(), sess, body.Message)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, commit)

	case len(rest) == 2 && rest[0] == "history" && r.Method == http.MethodGet:
		if !s.service.Can(sess.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		entry, err := s.service.HistoryEntry(r.Context(), sess, rest[1])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, entry)

	case len(rest) == 3 && rest[0] == "history" && rest[2] == "restore" && r.Method == http.MethodPost:
		if !s.service.Can(sess.Role, rbac.ActionReset) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		rows, err := s.service.Restore(r.Context(), sess, rest[1])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"progress": rows})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
