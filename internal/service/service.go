// Package service implements every user-facing operation. Each one
// follows the same shape: load the facts about the resource, resolve
// the caller's roles through the access.Graph, ask access.Authorize,
// run the lifecycle guard, then write inside one transaction. Events
// are emitted only after the transaction has committed.
//
// A caller with no relation at all to a scoped resource gets
// apperr.ErrNotFound rather than apperr.ErrForbidden, so the API does
// not reveal that the resource exists.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kidandcat/workboard/internal/access"
	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/auth"
	"github.com/kidandcat/workboard/internal/blobstore"
	"github.com/kidandcat/workboard/internal/clock"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/events"
	"github.com/kidandcat/workboard/internal/lifecycle"
)

const dateLayout = "2006-01-02"

// Options configures New. Store is required.
type Options struct {
	Store *db.Store

	// Blobs holds attachment content. Attachment operations fail
	// without it.
	Blobs *blobstore.Store

	// Graph resolves roles. Defaults to the default team mapping.
	Graph *access.Graph

	// Events receives domain events after commit. Defaults to
	// events.Discard.
	Events events.Sink

	Clock  clock.Clock
	Logger *slog.Logger

	// InvitationTTL defaults to lifecycle.DefaultInvitationTTL.
	InvitationTTL time.Duration

	// MaxUploadBytes caps attachment size. Zero means 10 MiB.
	MaxUploadBytes int64
}

type Service struct {
	store         *db.Store
	blobs         *blobstore.Store
	graph         *access.Graph
	events        events.Sink
	clock         clock.Clock
	logger        *slog.Logger
	invitationTTL time.Duration
	maxUpload     int64
}

func New(opts Options) *Service {
	s := &Service{
		store:         opts.Store,
		blobs:         opts.Blobs,
		graph:         opts.Graph,
		events:        opts.Events,
		clock:         opts.Clock,
		logger:        opts.Logger,
		invitationTTL: opts.InvitationTTL,
		maxUpload:     opts.MaxUploadBytes,
	}
	if s.graph == nil {
		s.graph = access.NewGraph(nil)
	}
	if s.events == nil {
		s.events = events.Discard
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.invitationTTL <= 0 {
		s.invitationTTL = lifecycle.DefaultInvitationTTL
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 10 << 20
	}
	return s
}

// InvitationTTL is how long invitations stay answerable.
func (s *Service) InvitationTTL() time.Duration { return s.invitationTTL }

// authorize checks action on a resource for which actor holds roles.
func (s *Service) authorize(actor *db.User, roles access.RoleSet, res access.Resource, action access.Action) error {
	if actor == nil {
		return apperr.ErrUnauthorized
	}
	d := access.Authorize(auth.Subject(actor), roles, res, action)
	if d.Allowed {
		if d.Bypass {
			s.logger.Info("superuser override", "user", actor.ID, "resource", res, "action", action)
		}
		return nil
	}
	if res != access.ResourceWorkspace && roles.Empty() {
		return fmt.Errorf("%s: %w", res, apperr.ErrNotFound)
	}
	s.logger.Debug("access denied", "user", actor.ID, "resource", res, "action", action, "reason", d.Reason)
	return fmt.Errorf("%s %s: %w", action, res, apperr.ErrForbidden)
}

// authorizeWorkspace checks an action that creates or lists top-level
// entities, using actor's global role.
func (s *Service) authorizeWorkspace(actor *db.User, action access.Action) error {
	if actor == nil {
		return apperr.ErrUnauthorized
	}
	return s.authorize(actor, s.graph.WorkspaceRoles(actor.Role), access.ResourceWorkspace, action)
}

// listsAll reports whether list queries for actor skip the visibility
// filter. Only the superuser override grants it.
func (s *Service) listsAll(actor *db.User) bool {
	return access.Authorize(auth.Subject(actor), 0, access.ResourceWorkspace, access.ActionListAll).Allowed
}

func (s *Service) emit(ctx context.Context, evs ...events.Event) {
	now := s.clock.Now().UTC()
	for _, e := range evs {
		if e.OccurredAt.IsZero() {
			e.OccurredAt = now
		}
		s.events.Emit(ctx, e)
	}
}

// releaseBlobs deletes the blobs behind removed attachments unless
// another attachment still points at the same content.
func (s *Service) releaseBlobs(ctx context.Context, digests []string) {
	if s.blobs == nil {
		return
	}
	for _, d := range digests {
		used, err := s.store.DigestInUse(ctx, d)
		if err != nil {
			s.logger.Error("blob reference check failed", "digest", d, "error", err)
			continue
		}
		if used {
			continue
		}
		if err := s.blobs.Delete(d); err != nil {
			s.logger.Error("blob delete failed", "digest", d, "error", err)
		}
	}
}

// recipients drops zero ids, the actor, and duplicates.
func recipients(actorID int64, ids ...int64) []int64 {
	seen := map[int64]bool{0: true, actorID: true}
	var out []int64
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) today() string { return s.clock.Now().UTC().Format(dateLayout) }

// checkVersion rejects a write based on a stale read. Zero skips the
// check.
func checkVersion(entity string, expected, current int64) error {
	if expected != 0 && expected != current {
		return fmt.Errorf("%s version %d is stale (current %d): %w", entity, expected, current, apperr.ErrConflict)
	}
	return nil
}

func checkName(field, v string, max int) error {
	if v == "" {
		return apperr.Invalid(field, "is required")
	}
	if len([]rune(v)) > max {
		return apperr.Invalid(field, "must be at most %d characters", max)
	}
	return nil
}

// checkDates validates optional YYYY-MM-DD dates and their order.
func checkDates(start, due string) error {
	var s, d time.Time
	var err error
	if start != "" {
		if s, err = time.Parse(dateLayout, start); err != nil {
			return apperr.Invalid("start_date", "must be YYYY-MM-DD")
		}
	}
	if due != "" {
		if d, err = time.Parse(dateLayout, due); err != nil {
			return apperr.Invalid("due_date", "must be YYYY-MM-DD")
		}
	}
	if start != "" && due != "" && d.Before(s) {
		return apperr.Invalid("due_date", "must not be before start_date")
	}
	return nil
}
