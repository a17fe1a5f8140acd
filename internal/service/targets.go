package service

import (
	"context"

	"github.com/kidandcat/workboard/internal/access"
	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/ref"
)

// target is a commentable or attachable entity with the roles one user
// holds on it.
type target struct {
	ref       ref.Ref
	resource  access.Resource
	projectID int64
	roles     access.RoleSet

	// watchers are the users told about activity on the target.
	watchers []int64
}

// loadTarget resolves r for userID. Comments resolve through the entity
// they are attached to.
func (s *Service) loadTarget(ctx context.Context, q *db.Queries, userID int64, r ref.Ref) (*target, error) {
	switch r.Type {
	case ref.Project:
		p, facts, err := q.ProjectFacts(ctx, r.ID, userID)
		if err != nil {
			return nil, err
		}
		return &target{
			ref:       r,
			resource:  access.ResourceProject,
			projectID: p.ID,
			roles:     s.graph.ProjectRoles(userID, facts),
			watchers:  []int64{p.OwnerID, p.ManagerID},
		}, nil
	case ref.Task:
		t, facts, err := q.TaskFacts(ctx, r.ID, userID)
		if err != nil {
			return nil, err
		}
		return &target{
			ref:       r,
			resource:  access.ResourceTask,
			projectID: t.ProjectID,
			roles:     s.graph.TaskRoles(userID, facts),
			watchers:  []int64{t.CreatorID, t.AssigneeID},
		}, nil
	case ref.Comment:
		c, err := q.GetComment(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		parent, err := s.loadTarget(ctx, q, userID, c.Target)
		if err != nil {
			return nil, err
		}
		return &target{
			ref:       r,
			resource:  access.ResourceComment,
			projectID: parent.projectID,
			roles:     s.graph.CommentRoles(userID, parent.roles, c.AuthorID),
			watchers:  []int64{c.AuthorID},
		}, nil
	}
	return nil, apperr.Invalid("target", "%s cannot be targeted", r.Type)
}

func commentTarget(r ref.Ref) error {
	if r.Type != ref.Project && r.Type != ref.Task {
		return apperr.Invalid("target", "comments can only be posted on projects and tasks")
	}
	return nil
}

func attachmentTarget(r ref.Ref) error {
	if r.Type != ref.Project && r.Type != ref.Task && r.Type != ref.Comment {
		return apperr.Invalid("target", "attachments can only be added to projects, tasks and comments")
	}
	return nil
}
