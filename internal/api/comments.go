package api

import (
	"bytes"
	"net/http"

	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/ref"
)

func (s *Server) registerCommentRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PATCH /api/comments/{id}", s.authed(s.handleUpdateComment))
	mux.HandleFunc("DELETE /api/comments/{id}", s.authed(s.handleDeleteComment))
	mux.HandleFunc("POST /api/comments/{id}/reactions", s.authed(s.handleReact))
	mux.HandleFunc("DELETE /api/comments/{id}/reactions", s.authed(s.handleUnreact))
	mux.HandleFunc("GET /api/comments/{id}/attachments", s.authed(s.listAttachments(ref.Comment)))
	mux.HandleFunc("POST /api/comments/{id}/attachments", s.authed(s.upload(ref.Comment)))
}

// commentView adds the rendered Markdown body.
type commentView struct {
	db.Comment
	HTML string `json:"html"`
}

func (s *Server) render(c db.Comment) commentView {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(c.Body), &buf); err != nil {
		s.logger.Warn("rendering comment failed", "comment", c.ID, "error", err)
	}
	return commentView{Comment: c, HTML: buf.String()}
}

func (s *Server) listComments(t ref.Type) userHandler {
	return func(w http.ResponseWriter, r *http.Request, u *db.User) error {
		id, err := pathID(r, "id")
		if err != nil {
			return err
		}
		p, err := page(r)
		if err != nil {
			return err
		}
		comments, err := s.svc.ListComments(r.Context(), u, ref.New(t, id), p)
		if err != nil {
			return err
		}
		views := make([]commentView, len(comments))
		for i, c := range comments {
			views[i] = s.render(c)
		}
		return list(w, views)
	}
}

func (s *Server) createComment(t ref.Type) userHandler {
	return func(w http.ResponseWriter, r *http.Request, u *db.User) error {
		id, err := pathID(r, "id")
		if err != nil {
			return err
		}
		var req struct {
			ParentID int64  `json:"parent_id"`
			Body     string `json:"body"`
		}
		if err := decode(r, &req); err != nil {
			return err
		}
		c, err := s.svc.CreateComment(r.Context(), u, ref.New(t, id), req.ParentID, req.Body)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, s.render(*c))
		return nil
	}
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	var c *db.Comment
	err = retryConflict(func() error {
		var err error
		c, err = s.svc.UpdateComment(r.Context(), u, id, req.Body)
		return err
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, s.render(*c))
	return nil
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := s.svc.DeleteComment(r.Context(), u, id); err != nil {
		return err
	}
	return noContent(w)
}

func (s *Server) handleReact(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	var req struct {
		Reaction string `json:"reaction"`
	}
	if err := decode(r, &req); err != nil {
		return err
	}
	var created bool
	err = retryConflict(func() error {
		var err error
		created, err = s.svc.React(r.Context(), u, id, req.Reaction)
		return err
	})
	if err != nil {
		return err
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"reaction": req.Reaction, "created": created})
	return nil
}

func (s *Server) handleUnreact(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := s.svc.Unreact(r.Context(), u, id); err != nil {
		return err
	}
	return noContent(w)
}
