package app

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"gmptracker/internal/records"
)

// handleRealtime streams change events as Server-Sent Events until the
// client goes away. Each event is "event: change" with the change JSON as
// data; idle streams get a comment line every keepAlive.
func (s *HTTPServer) handleRealtime(w http.ResponseWriter, r *http.Request, sess Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Streaming unsupported", nil)
		return
	}
	query := r.URL.Query()
	sub, err := s.service.Subscribe(r.Context(), sess, records.Table(query.Get("table")), query.Get("itemId"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	defer sub.Close()

	// The server's write timeout would cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case change, ok := <-sub.C:
			if !ok {
				return
			}
			payload, err := json.Marshal(change)
			if err != nil {
				log.Printf("app: encode change event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
