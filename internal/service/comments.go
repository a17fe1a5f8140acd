package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kidandcat/workboard/internal/access"
	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/events"
	"github.com/kidandcat/workboard/internal/ref"
)

const maxCommentLength = 10000

// Reactions a user may leave on a comment. Each user holds at most one
// per comment.
var Reactions = []string{"like", "dislike", "laugh", "heart", "angry"}

// mentionPattern matches @handle where handle is an e-mail local part.
var mentionPattern = regexp.MustCompile(`(?:^|[^\w.@])@([\w][\w.+-]*)`)

// mentionHandles extracts the distinct handles mentioned in body.
func mentionHandles(body string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range mentionPattern.FindAllStringSubmatch(body, -1) {
		h := strings.ToLower(strings.TrimRight(m[1], ".-+"))
		if h != "" && !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}

// resolveMentions maps the handles in body to users who can see the
// comment's target.
func (s *Service) resolveMentions(ctx context.Context, q *db.Queries, target ref.Ref, body string) ([]int64, error) {
	users, err := q.FindUsersByHandle(ctx, mentionHandles(body))
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, u := range users {
		t, err := s.loadTarget(ctx, q, u.ID, target)
		if err != nil {
			return nil, err
		}
		if !t.roles.Empty() {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

func checkBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", apperr.Invalid("body", "is required")
	}
	if len([]rune(body)) > maxCommentLength {
		return "", apperr.Invalid("body", "must be at most %d characters", maxCommentLength)
	}
	return body, nil
}

// comment loads a comment and checks action for actor on it.
func (s *Service) comment(ctx context.Context, q *db.Queries, actor *db.User, id int64, action access.Action) (*db.Comment, *target, error) {
	if actor == nil {
		return nil, nil, apperr.ErrUnauthorized
	}
	c, err := q.GetComment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	t, err := s.loadTarget(ctx, q, actor.ID, c.Target)
	if err != nil {
		return nil, nil, err
	}
	roles := s.graph.CommentRoles(actor.ID, t.roles, c.AuthorID)
	if err := s.authorize(actor, roles, access.ResourceComment, action); err != nil {
		return nil, nil, err
	}
	return c, t, nil
}

// ListComments lists the comments on a project or task, oldest first.
func (s *Service) ListComments(ctx context.Context, actor *db.User, r ref.Ref, page db.Page) ([]db.Comment, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthorized
	}
	if err := commentTarget(r); err != nil {
		return nil, err
	}
	t, err := s.loadTarget(ctx, s.store.Queries, actor.ID, r)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, t.roles, t.resource, access.ActionView); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, r, page)
}

// CreateComment posts a comment, or a reply when parentID is set. A
// reply lives on the same target as its parent. Mentioned users who
// can see the target are recorded and notified.
func (s *Service) CreateComment(ctx context.Context, actor *db.User, r ref.Ref, parentID int64, body string) (*db.Comment, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthorized
	}
	if err := commentTarget(r); err != nil {
		return nil, err
	}
	body, err := checkBody(body)
	if err != nil {
		return nil, err
	}

	var c *db.Comment
	var t *target
	var parentAuthor int64
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if t, err = s.loadTarget(ctx, q, actor.ID, r); err != nil {
			return err
		}
		if err := s.authorize(actor, t.roles, t.resource, access.ActionComment); err != nil {
			return err
		}
		if parentID != 0 {
			parent, err := q.GetComment(ctx, parentID)
			if err != nil || parent.Target != r {
				return apperr.Invalid("parent_id", "comment %d is not on this %s", parentID, r.Type)
			}
			parentAuthor = parent.AuthorID
		}
		if c, err = q.CreateComment(ctx, db.Comment{Target: r, ParentID: parentID, AuthorID: actor.ID, Body: body}); err != nil {
			return err
		}
		if c.Mentions, err = s.resolveMentions(ctx, q, r, body); err != nil {
			return err
		}
		return q.AddMentions(ctx, c.ID, c.Mentions)
	})
	if err != nil {
		return nil, err
	}

	e := events.New(events.CommentCreated, actor.ID, ref.New(ref.Comment, c.ID))
	e.ProjectID = t.projectID
	e.Title = fmt.Sprintf("New comment on %s %d", r.Type, r.ID)
	e.Message = excerpt(body)
	e.Recipients = recipients(actor.ID, append(t.watchers, parentAuthor)...)
	evs := []events.Event{e}
	if m := s.mentionedEvent(actor, c, t.projectID, c.Mentions); m != nil {
		evs = append(evs, *m)
	}
	s.emit(ctx, evs...)
	return c, nil
}

func (s *Service) mentionedEvent(actor *db.User, c *db.Comment, projectID int64, userIDs []int64) *events.Event {
	to := recipients(actor.ID, userIDs...)
	if len(to) == 0 {
		return nil
	}
	e := events.New(events.Mentioned, actor.ID, ref.New(ref.Comment, c.ID))
	e.ProjectID = projectID
	e.Title = fmt.Sprintf("%s mentioned you", actor.Name)
	e.Message = excerpt(c.Body)
	e.Recipients = to
	return &e
}

func excerpt(body string) string {
	const max = 140
	r := []rune(body)
	if len(r) <= max {
		return body
	}
	return string(r[:max-1]) + "…"
}

// UpdateComment replaces the body of actor's own comment and marks it
// edited. Mentions are recomputed; only new ones are notified.
func (s *Service) UpdateComment(ctx context.Context, actor *db.User, id int64, body string) (*db.Comment, error) {
	body, err := checkBody(body)
	if err != nil {
		return nil, err
	}
	var c *db.Comment
	var t *target
	var added []int64
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if c, t, err = s.comment(ctx, q, actor, id, access.ActionUpdate); err != nil {
			return err
		}
		before, err := q.Mentions(ctx, id)
		if err != nil {
			return err
		}
		if err := q.UpdateCommentBody(ctx, c, body); err != nil {
			return err
		}
		if c.Mentions, err = s.resolveMentions(ctx, q, c.Target, body); err != nil {
			return err
		}
		if err := q.ClearMentions(ctx, id); err != nil {
			return err
		}
		had := map[int64]bool{}
		for _, u := range before {
			had[u] = true
		}
		for _, u := range c.Mentions {
			if !had[u] {
				added = append(added, u)
			}
		}
		return q.AddMentions(ctx, id, c.Mentions)
	})
	if err != nil {
		return nil, err
	}

	e := events.New(events.CommentUpdated, actor.ID, ref.New(ref.Comment, c.ID))
	e.ProjectID = t.projectID
	e.Title = "Comment edited"
	evs := []events.Event{e}
	if m := s.mentionedEvent(actor, c, t.projectID, added); m != nil {
		evs = append(evs, *m)
	}
	s.emit(ctx, evs...)
	return c, nil
}

// DeleteComment removes a comment with its replies and attachments.
func (s *Service) DeleteComment(ctx context.Context, actor *db.User, id int64) error {
	var t *target
	var digests []string
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if _, t, err = s.comment(ctx, q, actor, id, access.ActionDelete); err != nil {
			return err
		}
		digests, err = q.DeleteComment(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	s.releaseBlobs(ctx, digests)

	e := events.New(events.CommentDeleted, actor.ID, ref.New(ref.Comment, id))
	e.ProjectID = t.projectID
	e.Title = "Comment deleted"
	s.emit(ctx, e)
	return nil
}

func validReaction(r string) bool {
	for _, known := range Reactions {
		if r == known {
			return true
		}
	}
	return false
}

// React sets actor's reaction on a comment, replacing any earlier one.
// It reports whether the reaction is new.
func (s *Service) React(ctx context.Context, actor *db.User, commentID int64, reaction string) (bool, error) {
	reaction = strings.ToLower(strings.TrimSpace(reaction))
	if !validReaction(reaction) {
		return false, apperr.Invalid("reaction", "must be one of %s", strings.Join(Reactions, ", "))
	}
	var created bool
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		if _, _, err := s.comment(ctx, q, actor, commentID, access.ActionReact); err != nil {
			return err
		}
		var err error
		created, err = q.SetReaction(ctx, commentID, actor.ID, reaction)
		return err
	})
	return created, err
}

// Unreact removes actor's reaction from a comment.
func (s *Service) Unreact(ctx context.Context, actor *db.User, commentID int64) error {
	return s.store.WithTx(ctx, func(q *db.Queries) error {
		if _, _, err := s.comment(ctx, q, actor, commentID, access.ActionReact); err != nil {
			return err
		}
		return q.RemoveReaction(ctx, commentID, actor.ID)
	})
}
