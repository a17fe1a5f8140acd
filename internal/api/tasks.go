package api

import (
	"net/http"

	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/ref"
	"github.com/kidandcat/workboard/internal/service"
)

func (s *Server) registerTaskRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", s.authed(s.handleListTasks))
	mux.HandleFunc("GET /api/tasks/{id}", s.authed(s.handleGetTask))
	mux.HandleFunc("PATCH /api/tasks/{id}", s.authed(s.handleUpdateTask))
	mux.HandleFunc("DELETE /api/tasks/{id}", s.authed(s.handleDeleteTask))
	mux.HandleFunc("POST /api/tasks/{id}/transition", s.authed(s.handleTransitionTask))
	mux.HandleFunc("POST /api/tasks/{id}/reopen", s.authed(s.handleReopenTask))
	mux.HandleFunc("PUT /api/tasks/{id}/assignee", s.authed(s.handleAssignTask))
	mux.HandleFunc("GET /api/tasks/{id}/subtasks", s.authed(s.handleListSubtasks))

	mux.HandleFunc("GET /api/tasks/{id}/dependencies", s.authed(s.handleListDependencies))
	mux.HandleFunc("POST /api/tasks/{id}/dependencies", s.authed(s.handleAddDependency))
	mux.HandleFunc("DELETE /api/tasks/{id}/dependencies/{dep}", s.authed(s.handleRemoveDependency))
	mux.HandleFunc("POST /api/tasks/{id}/labels/{label}", s.authed(s.handleAttachLabel))
	mux.HandleFunc("DELETE /api/tasks/{id}/labels/{label}", s.authed(s.handleDetachLabel))

	mux.HandleFunc("GET /api/tasks/{id}/comments", s.authed(s.listComments(ref.Task)))
	mux.HandleFunc("POST /api/tasks/{id}/comments", s.authed(s.createComment(ref.Task)))
	mux.HandleFunc("GET /api/tasks/{id}/attachments", s.authed(s.listAttachments(ref.Task)))
	mux.HandleFunc("POST /api/tasks/{id}/attachments", s.authed(s.upload(ref.Task)))
}

type taskRequest struct {
	Title          *string  `json:"title"`
	Description    *string  `json:"description"`
	ListID         *int64   `json:"list_id"`
	ParentTaskID   *int64   `json:"parent_task_id"`
	AssigneeID     *int64   `json:"assignee_id"`
	Priority       *string  `json:"priority"`
	StartDate      *string  `json:"start_date"`
	DueDate        *string  `json:"due_date"`
	EstimatedHours *float64 `json:"estimated_hours"`
	Position       *int     `json:"position"`
	LabelIDs       []int64  `json:"label_ids"`
	Version        int64    `json:"version"`
}

func (req taskRequest) input() service.TaskInput {
	return service.TaskInput{
		Title:           req.Title,
		Description:     req.Description,
		ListID:          req.ListID,
		ParentTaskID:    req.ParentTaskID,
		AssigneeID:      req.AssigneeID,
		Priority:        req.Priority,
		StartDate:       req.StartDate,
		DueDate:         req.DueDate,
		EstimatedHours:  req.EstimatedHours,
		Position:        req.Position,
		LabelIDs:        req.LabelIDs,
		ExpectedVersion: req.Version,
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, u *db.User) error {
	projectID, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req taskRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	task, err := s.svc.CreateTask(r.Context(), u, projectID, req.input())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, task)
	return nil
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, u *db.User) error {
	var tq service.TaskQuery
	var err error
	if tq.ProjectID, err = queryID(r, "project"); err != nil {
		return err
	}
	if tq.AssigneeID, err = queryID(r, "assignee"); err != nil {
		return err
	}
	if tq.LabelID, err = queryID(r, "label"); err != nil {
		return err
	}
	if tq.ListID, err = queryID(r, "list"); err != nil {
		return err
	}
	tq.Status = r.URL.Query().Get("status")
	p, err := page(r)
	if err != nil {
		return err
	}
	tasks, err := s.svc.ListTasks(r.Context(), u, tq, p)
	if err != nil {
		return err
	}
	return list(w, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	task, err := s.svc.GetTask(r.Context(), u, id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, task)
	return nil
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req taskRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	in := req.input()
	var task *db.Task
	update := func() error {
		var err error
		task, err = s.svc.UpdateTask(r.Context(), u, id, in)
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
	writeJSON(w, http.StatusOK, task)
	return nil
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := s.svc.DeleteTask(r.Context(), u, id); err != nil {
		return err
	}
	return noContent(w)
}

func (s *Server) handleTransitionTask(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req struct {
		Status  string `json:"status"`
		Version int64  `json:"version"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	task, err := s.svc.TransitionTask(r.Context(), u, id, req.Status, req.Version)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, task)
	return nil
}

func (s *Server) handleReopenTask(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	task, err := s.svc.ReopenTask(r.Context(), u, id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, task)
	return nil
}

func (s *Server) handleAssignTask(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req struct {
		AssigneeID int64 `json:"assignee_id"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	var task *db.Task
	err = retryConflict(func() error {
		var err error
		task, err = s.svc.AssignTask(r.Context(), u, id, req.AssigneeID)
		return err
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, task)
	return nil
}

func (s *Server) handleListSubtasks(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	tasks, err := s.svc.ListSubtasks(r.Context(), u, id)
	if err != nil {
		return err
	}
	return list(w, tasks)
}

// Dependencies

func (s *Server) handleListDependencies(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	deps, err := s.svc.ListDependencies(r.Context(), u, id)
	if err != nil {
		return err
	}
	return list(w, deps)
}

func (s *Server) handleAddDependency(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req struct {
		DependsOnID int64  `json:"depends_on_id"`
		Type        string `json:"dependency_type"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	dep, err := s.svc.AddDependency(r.Context(), u, id, req.DependsOnID, req.Type)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, dep)
	return nil
}

func (s *Server) handleRemoveDependency(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	dep, err := pathID(r, "dep")
	if err != nil {
		return err
	}
	if err := s.svc.RemoveDependency(r.Context(), u, id, dep); err != nil {
		return err
	}
	return noContent(w)
}

// Labels

func (s *Server) handleAttachLabel(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	label, err := pathID(r, "label")
	if err != nil {
		return err
	}
	if err := s.svc.AttachLabel(r.Context(), u, id, label); err != nil {
		return err
	}
	return noContent(w)
}

func (s *Server) handleDetachLabel(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	label, err := pathID(r, "label")
	if err != nil {
		return err
	}
	if err := s.svc.DetachLabel(r.Context(), u, id, label); err != nil {
		return err
	}
	return noContent(w)
}
