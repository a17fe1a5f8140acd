package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/ref"
	"github.com/kidandcat/workboard/internal/service"
)

// multipartOverhead is allowed on top of the upload limit for the
// multipart framing around the file.
const multipartOverhead = 64 << 10

func (s *Server) registerAttachmentRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/attachments/{id}", s.authed(s.handleGetAttachment))
	mux.HandleFunc("GET /api/attachments/{id}/download", s.authed(s.handleDownload))
	mux.HandleFunc("DELETE /api/attachments/{id}", s.authed(s.handleDeleteAttachment))
}

type attachmentView struct {
	db.Attachment
	SizeHuman string `json:"size_human"`
}

func viewAttachment(a db.Attachment) attachmentView {
	return attachmentView{Attachment: a, SizeHuman: humanize.IBytes(uint64(a.Size))}
}

func (s *Server) listAttachments(t ref.Type) userHandler {
	return func(w http.ResponseWriter, r *http.Request, u *db.User) error {
		id, err := pathID(r, "id")
		if err != nil {
			return err
		}
		p, err := page(r)
		if err != nil {
			return err
		}
		attachments, err := s.svc.ListAttachments(r.Context(), u, ref.New(t, id), p)
		if err != nil {
			return err
		}
		views := make([]attachmentView, len(attachments))
		for i, a := range attachments {
			views[i] = viewAttachment(a)
		}
		return list(w, views)
	}
}

// upload streams the "file" part of a multipart body into the store.
// Uploads are not retried: the body can only be read once.
func (s *Server) upload(t ref.Type) userHandler {
	return func(w http.ResponseWriter, r *http.Request, u *db.User) error {
		id, err := pathID(r, "id")
		if err != nil {
			return err
		}
		if limit := s.cfg.Uploads.MaxBytes; limit > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
		}
		mr, err := r.MultipartReader()
		if err != nil {
			return apperr.Invalid("file", "expected a multipart/form-data body")
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return apperr.Invalid("file", "is required")
			}
			if err != nil {
				return tooLarge(err, apperr.Invalid("file", "malformed multipart body"))
			}
			if part.FormName() != "file" {
				part.Close()
				continue
			}
			a, err := s.svc.Upload(r.Context(), u, service.UploadInput{
				Target:      ref.New(t, id),
				Filename:    part.FileName(),
				ContentType: part.Header.Get("Content-Type"),
				Body:        part,
			})
			part.Close()
			if err != nil {
				return tooLarge(err, err)
			}
			writeJSON(w, http.StatusCreated, viewAttachment(*a))
			return nil
		}
	}
}

// tooLarge reports an exhausted request body as a validation error on
// the file, and otherwise returns fallback.
func tooLarge(err, fallback error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return apperr.Invalid("file", "exceeds the %s upload limit", humanize.IBytes(uint64(mbe.Limit-multipartOverhead)))
	}
	return fallback
}

func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	a, err := s.svc.GetAttachment(r.Context(), u, id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, viewAttachment(*a))
	return nil
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	a, body, err := s.svc.Download(r.Context(), u, id)
	if err != nil {
		return err
	}
	defer body.Close()

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("download interrupted", "attachment", a.ID, "error", err)
	}
	return nil
}

func (s *Server) handleDeleteAttachment(w http.ResponseWriter, r *http.Request, u *db.User) error {
	id, err := pathID(r, "id")
	if err != nil {
		return err
	}
	if err := s.svc.DeleteAttachment(r.Context(), u, id); err != nil {
		return err
	}
	return noContent(w)
}
