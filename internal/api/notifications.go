package api

import (
	"net/http"
	"strconv"

	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/db"
)

func (s *Server) registerNotificationRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/notifications", s.authed(s.handleListNotifications))
	mux.HandleFunc("GET /api/notifications/unread-count", s.authed(s.handleUnreadCount))
	mux.HandleFunc("POST /api/notifications/{id}/read", s.authed(s.handleMarkRead))
	mux.HandleFunc("POST /api/notifications/read-all", s.authed(s.handleMarkAllRead))
	mux.HandleFunc("GET /api/activity", s.authed(s.handleMyActivity))
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request, u *db.User) error {
	var unread bool
	if v := r.URL.Query().Get("unread"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Invalid("unread", "must be true or false")
		}
		unread = b
	}
	p, err := page(r)
	if err != nil {
		return err
	}
	notifications, err := s.svc.ListNotifications(r.Context(), u, unread, p)
	if err != nil {
		return err
	}
	return list(w, notifications)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request, u *db.User) error {
	n, err := s.svc.UnreadCount(r.Context(), u)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
	return nil
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := s.svc.MarkRead(r.Context(), u, id); err != nil {
		return err
	}
	return noContent(w)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request, u *db.User) error {
	n, err := s.svc.MarkAllRead(r.Context(), u)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
	return nil
}

func (s *Server) handleMyActivity(w http.ResponseWriter, r *http.Request, u *db.User) error {
	p, err := page(r)
	if err != nil {
		return err
	}
	entries, err := s.svc.ListMyActivity(r.Context(), u, p)
	if err != nil {
		return err
	}
	return list(w, entries)
}
