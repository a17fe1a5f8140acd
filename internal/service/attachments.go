package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/kidandcat/workboard/internal/access"
	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/events"
	"github.com/kidandcat/workboard/internal/ref"
)

var errNoBlobStore = errors.New("attachments are not configured")

// UploadInput describes an attachment upload.
type UploadInput struct {
	Target   ref.Ref
	Filename string

	// ContentType is what the client declared. Empty or generic types
	// are replaced by the sniffed type.
	ContentType string

	Body io.Reader
}

func cleanFilename(name string) (string, error) {
	name = strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return "", apperr.Invalid("filename", "is required")
	}
	if len([]rune(name)) > 255 {
		return "", apperr.Invalid("filename", "must be at most 255 characters")
	}
	return name, nil
}

func contentType(declared, sniffed string) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return declared
		}
	}
	return sniffed
}

// attachment loads an attachment and checks action for actor on it.
func (s *Service) attachment(ctx context.Context, q *db.Queries, actor *db.User, id int64, action access.Action) (*db.Attachment, *target, error) {
	if actor == nil {
		return nil, nil, apperr.ErrUnauthorized
	}
	a, err := q.GetAttachment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.loadTarget(ctx, q, actor.ID, a.Target)
	if err != nil {
		return nil, nil, err
	}
	roles := s.graph.AttachmentRoles(actor.ID, t.roles, a.UploaderID)
	if err := s.authorize(actor, roles, access.ResourceAttachment, action); err != nil {
		return nil, nil, err
	}
	return a, t, nil
}

// Upload stores an attachment on a project, task or comment. The
// content is written to the blob store before the row; identical
// content is stored once.
func (s *Service) Upload(ctx context.Context, actor *db.User, in UploadInput) (*db.Attachment, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthorized
	}
	if s.blobs == nil {
		return nil, errNoBlobStore
	}
	if err := attachmentTarget(in.Target); err != nil {
		return nil, err
	}
	filename, err := cleanFilename(in.Filename)
	if err != nil {
		return nil, err
	}
	t, err := s.loadTarget(ctx, s.store.Queries, actor.ID, in.Target)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, t.roles, t.resource, access.ActionUpload); err != nil {
		return nil, err
	}

	blob, err := s.blobs.Put(in.Body, s.maxUpload)
	if err != nil {
		return nil, err
	}

	var a *db.Attachment
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		// The target may have gone while the body was streaming.
		if _, err := s.loadTarget(ctx, q, actor.ID, in.Target); err != nil {
			return err
		}
		var err error
		a, err = q.CreateAttachment(ctx, db.Attachment{
			Target:      in.Target,
			UploaderID:  actor.ID,
			Filename:    filename,
			ContentType: contentType(in.ContentType, blob.ContentType),
			Size:        blob.Size,
			Digest:      blob.Digest,
		})
		return err
	})
	if err != nil {
		s.releaseBlobs(ctx, []string{blob.Digest})
		return nil, err
	}

	e := events.New(events.AttachmentUploaded, actor.ID, ref.New(ref.Attachment, a.ID))
	e.ProjectID = t.projectID
	e.Title = fmt.Sprintf("%s uploaded %s", actor.Name, a.Filename)
	e.Message = humanize.IBytes(uint64(a.Size))
	e.Recipients = recipients(actor.ID, t.watchers...)
	s.emit(ctx, e)
	return a, nil
}

func (s *Service) ListAttachments(ctx context.Context, actor *db.User, r ref.Ref, page db.Page) ([]db.Attachment, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthorized
	}
	if err := attachmentTarget(r); err != nil {
		return nil, err
	}
	t, err := s.loadTarget(ctx, s.store.Queries, actor.ID, r)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, t.roles, t.resource, access.ActionView); err != nil {
		return nil, err
	}
	return s.store.ListAttachments(ctx, r, page)
}

func (s *Service) GetAttachment(ctx context.Context, actor *db.User, id int64) (*db.Attachment, error) {
	a, _, err := s.attachment(ctx, s.store.Queries, actor, id, access.ActionView)
	return a, err
}

// Download opens an attachment's content and counts the download. The
// caller closes the reader.
func (s *Service) Download(ctx context.Context, actor *db.User, id int64) (*db.Attachment, io.ReadCloser, error) {
	if s.blobs == nil {
		return nil, nil, errNoBlobStore
	}
	a, _, err := s.attachment(ctx, s.store.Queries, actor, id, access.ActionDownload)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.blobs.Open(a.Digest)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.IncrementDownloads(ctx, id); err != nil {
		body.Close()
		return nil, nil, err
	}
	a.DownloadCount++
	return a, body, nil
}

// DeleteAttachment removes an attachment, and its content once nothing
// else refers to it.
func (s *Service) DeleteAttachment(ctx context.Context, actor *db.User, id int64) error {
	var a *db.Attachment
	var t *target
	var digest string
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if a, t, err = s.attachment(ctx, q, actor, id, access.ActionDelete); err != nil {
			return err
		}
		digest, err = q.DeleteAttachment(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	s.releaseBlobs(ctx, []string{digest})

	e := events.New(events.AttachmentDeleted, actor.ID, ref.New(ref.Attachment, id))
	e.ProjectID = t.projectID
	e.Title = fmt.Sprintf("%s was removed", a.Filename)
	s.emit(ctx, e)
	return nil
}
