package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ledlocator/internal/notify"
)

// handleListNotifications returns the caller's notifications, newest first.
// ?unread=true skips ones already read.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	unreadOnly := r.URL.Query().Get("unread") == "true"

	notes, err := s.notify.List(r.Context(), p.UserID, unreadOnly)
	if err != nil {
		s.logger.Error("list notifications failed", "user_id", p.UserID, "error", err)
		writeInternalError(w, "failed to list notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notes, "count": len(notes)})
}

// handleMarkNotificationRead marks one of the caller's notifications read.
// Another user's notification is reported as not found.
func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	id := chi.URLParam(r, "id")

	if err := s.notify.MarkRead(r.Context(), p.UserID, id); err != nil {
		if errors.Is(err, notify.ErrNotificationNotFound) {
			writeNotFound(w, "notification not found")
			return
		}
		s.logger.Error("mark notification read failed", "notification_id", id, "error", err)
		writeInternalError(w, "failed to update notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read", "id": id})
}
