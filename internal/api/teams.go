package api

import (
	"net/http"

	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/service"
)

func (s *Server) registerTeamRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/teams", s.authed(s.handleListTeams))
	mux.HandleFunc("POST /api/teams", s.authed(s.handleCreateTeam))
	mux.HandleFunc("GET /api/teams/{id}", s.authed(s.handleGetTeam))
	mux.HandleFunc("PATCH /api/teams/{id}", s.authed(s.handleUpdateTeam))
	mux.HandleFunc("DELETE /api/teams/{id}", s.authed(s.handleDeleteTeam))

	mux.HandleFunc("GET /api/teams/{id}/members", s.authed(s.handleListTeamMembers))
	mux.HandleFunc("POST /api/teams/{id}/members", s.authed(s.handleAddTeamMember))
	mux.HandleFunc("DELETE /api/teams/{id}/members/{user}", s.authed(s.handleRemoveTeamMember))
	mux.HandleFunc("POST /api/teams/{id}/join", s.authed(s.handleJoinTeam))
	mux.HandleFunc("POST /api/teams/{id}/leave", s.authed(s.handleLeaveTeam))

	mux.HandleFunc("GET /api/teams/{id}/invitations", s.authed(s.handleListTeamInvitations))
	mux.HandleFunc("POST /api/teams/{id}/invitations", s.authed(s.handleInvite))
}

type teamRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Open        *bool   `json:"is_open"`
	LeaderID    *int64  `json:"leader_id"`
	Version     int64   `json:"version"`
}

func (req teamRequest) input() service.TeamInput {
	return service.TeamInput{
		Name:            req.Name,
		Description:     req.Description,
		Open:            req.Open,
		LeaderID:        req.LeaderID,
		ExpectedVersion: req.Version,
	}
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request, u *db.User) error {
	p, err := page(r)
	if err != nil {
		return err
	}
	teams, err := s.svc.ListTeams(r.Context(), u, p)
	if err != nil {
		return err
	}
	return list(w, teams)
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request, u *db.User) error {
	var req teamRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	team, err := s.svc.CreateTeam(r.Context(), u, req.input())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, team)
	return nil
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	team, err := s.svc.GetTeam(r.Context(), u, id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, team)
	return nil
}

func (s *Server) handleUpdateTeam(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req teamRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	in := req.input()
	var team *db.Team
	update := func() error {
		var err error
		team, err = s.svc.UpdateTeam(r.Context(), u, id, in)
		return err
	}
	if in.ExpectedVersion != 0 {
		err = update()
	} else {
		err = retryConflict(update)
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, team)
	return nil
}

func (s *Server) handleDeleteTeam(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := s.svc.DeleteTeam(r.Context(), u, id); err != nil {
		return err
	}
	return noContent(w)
}

// Members

func (s *Server) handleListTeamMembers(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	members, err := s.svc.ListTeamMembers(r.Context(), u, id)
	if err != nil {
		return err
	}
	return list(w, members)
}

func (s *Server) handleAddTeamMember(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req struct {
		UserID int64  `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	m, err := s.svc.AddTeamMember(r.Context(), u, id, req.UserID, req.Role)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, m)
	return nil
}

func (s *Server) handleRemoveTeamMember(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	userID, err := pathID(r, "user")
	if err != nil {
		return err
	}
	if err := s.svc.RemoveTeamMember(r.Context(), u, id, userID); err != nil {
		return err
	}
	return noContent(w)
}

func (s *Server) handleJoinTeam(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	m, err := s.svc.JoinTeam(r.Context(), u, id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, m)
	return nil
}

func (s *Server) handleLeaveTeam(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := s.svc.LeaveTeam(r.Context(), u, id); err != nil {
		return err
	}
	return noContent(w)
}

// Invitations

func (s *Server) handleListTeamInvitations(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	p, err := page(r)
	if err != nil {
		return err
	}
	invitations, err := s.svc.ListTeamInvitations(r.Context(), u, id, p)
	if err != nil {
		return err
	}
	return list(w, invitations)
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req struct {
		InviteeID int64  `json:"invitee_id"`
		Role      string `json:"role"`
		Message   string `json:"message"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	inv, err := s.svc.Invite(r.Context(), u, id, service.InviteInput{
		InviteeID: req.InviteeID,
		Role:      req.Role,
		Message:   req.Message,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, inv)
	return nil
}
