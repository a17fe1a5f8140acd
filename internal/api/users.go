package api

import (
	"net/http"

	"github.com/kidandcat/workboard/internal/db"
)

func (s *Server) registerUserRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users", s.authed(s.handleListUsers))
	mux.HandleFunc("PUT /api/users/{id}/role", s.authed(s.handleSetUserRole))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request, u *db.User) error {
	p, err := page(r)
	if err != nil {
		return err
	}
	users, err := s.svc.ListUsers(r.Context(), u, p)
	if err != nil {
		return err
	}
	return list(w, users)
}

func (s *Server) handleSetUserRole(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	user, err := s.svc.SetUserRole(r.Context(), u, id, req.Role)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, user)
	return nil
}
