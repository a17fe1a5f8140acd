package api

import (
	"net/http"

	"github.com/kidandcat/workboard/internal/db"
)

func (s *Server) registerInvitationRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/invitations", s.authed(s.handleListInvitations))
	mux.HandleFunc("GET /api/invitations/{id}", s.authed(s.handleGetInvitation))
	mux.HandleFunc("POST /api/invitations/{id}/accept", s.authed(s.handleAcceptInvitation))
	mux.HandleFunc("POST /api/invitations/{id}/decline", s.authed(s.handleDeclineInvitation))
}

func (s *Server) handleListInvitations(w http.ResponseWriter, r *http.Request, u *db.User) error {
	p, err := page(r)
	if err != nil {
		return err
	}
	invitations, err := s.svc.ListMyInvitations(r.Context(), u, p)
	if err != nil {
		return err
	}
	return list(w, invitations)
}

func (s *Server) handleGetInvitation(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	inv, err := s.svc.GetInvitation(r.Context(), u, id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, inv)
	return nil
}

// Accept and decline are not retried: losing the race means somebody
// else already answered.
func (s *Server) handleAcceptInvitation(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	m, err := s.svc.AcceptInvitation(r.Context(), u, id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, m)
	return nil
}

func (s *Server) handleDeclineInvitation(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := s.svc.DeclineInvitation(r.Context(), u, id); err != nil {
		return err
	}
	return noContent(w)
}
