package api

import (
	"net/http"

	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/ref"
	"github.com/kidandcat/workboard/internal/service"
)

func (s *Server) registerProjectRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/projects", s.authed(s.handleListProjects))
	mux.HandleFunc("POST /api/projects", s.authed(s.handleCreateProject))
	mux.HandleFunc("GET /api/projects/{id}", s.authed(s.handleGetProject))
	mux.HandleFunc("PATCH /api/projects/{id}", s.authed(s.handleUpdateProject))
	mux.HandleFunc("DELETE /api/projects/{id}", s.authed(s.handleDeleteProject))
	mux.HandleFunc("GET /api/projects/{id}/stats", s.authed(s.handleProjectStats))
	mux.HandleFunc("GET /api/projects/{id}/activity", s.authed(s.handleProjectActivity))

	mux.HandleFunc("GET /api/projects/{id}/members", s.authed(s.handleListProjectMembers))
	mux.HandleFunc("POST /api/projects/{id}/members", s.authed(s.handleAddProjectMember))
	mux.HandleFunc("PATCH /api/projects/{id}/members/{user}", s.authed(s.handleUpdateProjectMember))
	mux.HandleFunc("DELETE /api/projects/{id}/members/{user}", s.authed(s.handleRemoveProjectMember))

	mux.HandleFunc("GET /api/projects/{id}/teams", s.authed(s.handleListProjectTeams))
	mux.HandleFunc("POST /api/projects/{id}/teams", s.authed(s.handleAssignTeam))
	mux.HandleFunc("DELETE /api/projects/{id}/teams/{team}", s.authed(s.handleUnassignTeam))

	mux.HandleFunc("GET /api/projects/{id}/lists", s.authed(s.handleListTaskLists))
	mux.HandleFunc("POST /api/projects/{id}/lists", s.authed(s.handleCreateTaskList))
	mux.HandleFunc("GET /api/projects/{id}/labels", s.authed(s.handleListLabels))
	mux.HandleFunc("POST /api/projects/{id}/labels", s.authed(s.handleCreateLabel))
	mux.HandleFunc("POST /api/projects/{id}/tasks", s.authed(s.handleCreateTask))

	mux.HandleFunc("GET /api/projects/{id}/comments", s.authed(s.listComments(ref.Project)))
	mux.HandleFunc("POST /api/projects/{id}/comments", s.authed(s.createComment(ref.Project)))
	mux.HandleFunc("GET /api/projects/{id}/attachments", s.authed(s.listAttachments(ref.Project)))
	mux.HandleFunc("POST /api/projects/{id}/attachments", s.authed(s.upload(ref.Project)))
}

type projectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	StartDate   *string `json:"start_date"`
	DueDate     *string `json:"due_date"`
	ManagerID   *int64  `json:"manager_id"`
	Version     int64   `json:"version"`
}

func (req projectRequest) input() service.ProjectInput {
	return service.ProjectInput{
		Name:            req.Name,
		Description:     req.Description,
		Status:          req.Status,
		Priority:        req.Priority,
		StartDate:       req.StartDate,
		DueDate:         req.DueDate,
		ManagerID:       req.ManagerID,
		ExpectedVersion: req.Version,
	}
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request, u *db.User) error {
	p, err := page(r)
	if err != nil {
		return err
	}
	projects, err := s.svc.ListProjects(r.Context(), u, p)
	if err != nil {
		return err
	}
	return list(w, projects)
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request, u *db.User) error {
	var req projectRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	project, err := s.svc.CreateProject(r.Context(), u, req.input())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, project)
	return nil
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	project, err := s.svc.GetProject(r.Context(), u, id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, project)
	return nil
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req projectRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	in := req.input()
	var project *db.Project
	update := func() error {
		var err error
		project, err = s.svc.UpdateProject(r.Context(), u, id, in)
		return err
	}
	// A client-supplied version is a real precondition; only blind
	// updates are retried.
	if in.ExpectedVersion != 0 {
		err = update()
	} else {
		err = retryConflict(update)
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, project)
	return nil
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := s.svc.DeleteProject(r.Context(), u, id); err != nil {
		return err
	}
	return noContent(w)
}

func (s *Server) handleProjectStats(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	stats, err := s.svc.ProjectStats(r.Context(), u, id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, stats)
	return nil
}

func (s *Server) handleProjectActivity(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	p, err := page(r)
	if err != nil {
		return err
	}
	entries, err := s.svc.ListProjectActivity(r.Context(), u, id, p)
	if err != nil {
		return err
	}
	return list(w, entries)
}

// Members

func (s *Server) handleListProjectMembers(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	members, err := s.svc.ListProjectMembers(r.Context(), u, id)
	if err != nil {
		return err
	}
	return list(w, members)
}

func (s *Server) handleAddProjectMember(w http.ResponseWriter, r *http.Request, u *db.User) error {
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
	member, err := s.svc.AddProjectMember(r.Context(), u, id, req.UserID, req.Role)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, member)
	return nil
}

func (s *Server) handleUpdateProjectMember(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	userID, err := pathID(r, "user")
	if err != nil {
		return err
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	if err := s.svc.UpdateProjectMemberRole(r.Context(), u, id, userID, req.Role); err != nil {
		return err
	}
	return noContent(w)
}

func (s *Server) handleRemoveProjectMember(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	userID, err := pathID(r, "user")
	if err != nil {
		return err
	}
	if err := s.svc.RemoveProjectMember(r.Context(), u, id, userID); err != nil {
		return err
	}
	return noContent(w)
}

// Teams

func (s *Server) handleListProjectTeams(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	teams, err := s.svc.ListProjectTeams(r.Context(), u, id)
	if err != nil {
		return err
	}
	return list(w, teams)
}

func (s *Server) handleAssignTeam(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req struct {
		TeamID  int64 `json:"team_id"`
		Primary bool  `json:"is_primary"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	pt, err := s.svc.AssignTeam(r.Context(), u, id, req.TeamID, req.Primary)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, pt)
	return nil
}

func (s *Server) handleUnassignTeam(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	teamID, err := pathID(r, "team")
	if err != nil {
		return err
	}
	if err := s.svc.UnassignTeam(r.Context(), u, id, teamID); err != nil {
		return err
	}
	return noContent(w)
}

// Lists and labels

func (s *Server) handleListTaskLists(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	lists, err := s.svc.ListTaskLists(r.Context(), u, id)
	if err != nil {
		return err
	}
	return list(w, lists)
}

func (s *Server) handleCreateTaskList(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Position    int    `json:"position"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	tl, err := s.svc.CreateTaskList(r.Context(), u, id, req.Name, req.Description, req.Position)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, tl)
	return nil
}

func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	labels, err := s.svc.ListLabels(r.Context(), u, id)
	if err != nil {
		return err
	}
	return list(w, labels)
}

func (s *Server) handleCreateLabel(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	label, err := s.svc.CreateLabel(r.Context(), u, id, req.Name, req.Color)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, label)
	return nil
}
