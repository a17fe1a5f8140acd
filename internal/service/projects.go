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
	"github.com/kidandcat/workboard/internal/lifecycle"
	"github.com/kidandcat/workboard/internal/ref"
)

// ProjectInput carries the fields of a create or partial update. Nil
// fields are left unchanged.
type ProjectInput struct {
	Name        *string
	Description *string
	Status      *string
	Priority    *string
	StartDate   *string
	DueDate     *string
	ManagerID   *int64

	// ExpectedVersion, when non-zero, must match the stored version.
	ExpectedVersion int64
}

// project loads a project and checks action for actor on it.
func (s *Service) project(ctx context.Context, q *db.Queries, actor *db.User, id int64, action access.Action) (*db.Project, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthorized
	}
	p, facts, err := q.ProjectFacts(ctx, id, actor.ID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, s.graph.ProjectRoles(actor.ID, facts), access.ResourceProject, action); err != nil {
		return nil, err
	}
	return p, nil
}

func applyProject(p *db.Project, in ProjectInput) (map[string]any, error) {
	changes := map[string]any{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := checkName("name", name, 200); err != nil {
			return nil, err
		}
		if name != p.Name {
			changes["name"] = name
		}
		p.Name = name
	}
	if in.Description != nil && *in.Description != p.Description {
		p.Description = *in.Description
		changes["description"] = true
	}
	if in.Status != nil {
		st, err := lifecycle.ParseProjectStatus(*in.Status)
		if err != nil {
			return nil, err
		}
		if string(st) != p.Status {
			changes["status"] = []string{p.Status, string(st)}
		}
		p.Status = string(st)
	}
	if in.Priority != nil {
		pr, err := lifecycle.ParseProjectPriority(*in.Priority)
		if err != nil {
			return nil, err
		}
		if pr != p.Priority {
			changes["priority"] = []string{p.Priority, pr}
		}
		p.Priority = pr
	}
	if in.StartDate != nil {
		p.StartDate = strings.TrimSpace(*in.StartDate)
		changes["start_date"] = p.StartDate
	}
	if in.DueDate != nil {
		p.DueDate = strings.TrimSpace(*in.DueDate)
		changes["due_date"] = p.DueDate
	}
	if in.ManagerID != nil && *in.ManagerID != p.ManagerID {
		p.ManagerID = *in.ManagerID
		changes["manager_id"] = p.ManagerID
	}
	if err := checkDates(p.StartDate, p.DueDate); err != nil {
		return nil, err
	}
	return changes, nil
}

// CreateProject creates a project owned by actor. Ownership needs no
// member row.
func (s *Service) CreateProject(ctx context.Context, actor *db.User, in ProjectInput) (*db.Project, error) {
	if err := s.authorizeWorkspace(actor, access.ActionCreateProject); err != nil {
		return nil, err
	}
	if in.Name == nil {
		return nil, apperr.Invalid("name", "is required")
	}
	p := db.Project{OwnerID: actor.ID, Status: string(lifecycle.ProjectPlanning), Priority: "medium"}
	if _, err := applyProject(&p, in); err != nil {
		return nil, err
	}
	created, err := s.store.CreateProject(ctx, p)
	if err != nil {
		return nil, err
	}

	e := events.New(events.ProjectCreated, actor.ID, ref.New(ref.Project, created.ID))
	e.ProjectID = created.ID
	e.Title = fmt.Sprintf("Project %q created", created.Name)
	e.Recipients = recipients(actor.ID, created.ManagerID)
	s.emit(ctx, e)
	return created, nil
}

// ListProjects lists the projects actor has any relation to.
func (s *Service) ListProjects(ctx context.Context, actor *db.User, page db.Page) ([]db.Project, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthorized
	}
	return s.store.ListProjects(ctx, actor.ID, s.listsAll(actor), page)
}

// ProjectDetail is a project with the roles the caller holds on it.
type ProjectDetail struct {
	*db.Project
	Roles []string `json:"my_roles"`
}

func (s *Service) GetProject(ctx context.Context, actor *db.User, id int64) (*ProjectDetail, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthorized
	}
	p, facts, err := s.store.ProjectFacts(ctx, id, actor.ID)
	if err != nil {
		return nil, err
	}
	roles := s.graph.ProjectRoles(actor.ID, facts)
	if err := s.authorize(actor, roles, access.ResourceProject, access.ActionView); err != nil {
		return nil, err
	}
	return &ProjectDetail{Project: p, Roles: roles.Names()}, nil
}

// UpdateProject applies a partial update under an optimistic version
// check.
func (s *Service) UpdateProject(ctx context.Context, actor *db.User, id int64, in ProjectInput) (*db.Project, error) {
	var p *db.Project
	var changes map[string]any
	var audience []int64
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if p, err = s.project(ctx, q, actor, id, access.ActionUpdate); err != nil {
			return err
		}
		if err := checkVersion("project", in.ExpectedVersion, p.Version); err != nil {
			return err
		}
		if changes, err = applyProject(p, in); err != nil {
			return err
		}
		if err := q.UpdateProject(ctx, p); err != nil {
			return err
		}
		audience, err = q.ProjectAudience(ctx, p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e := events.New(events.ProjectUpdated, actor.ID, ref.New(ref.Project, p.ID))
	e.ProjectID = p.ID
	e.Title = fmt.Sprintf("Project %q updated", p.Name)
	e.Changes = changes
	e.Recipients = recipients(actor.ID, audience...)
	s.emit(ctx, e)
	return p, nil
}

// DeleteProject removes a project and everything in it. Only the owner
// may do this.
func (s *Service) DeleteProject(ctx context.Context, actor *db.User, id int64) error {
	var p *db.Project
	var audience []int64
	var digests []string
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if p, err = s.project(ctx, q, actor, id, access.ActionDelete); err != nil {
			return err
		}
		if audience, err = q.ProjectAudience(ctx, id); err != nil {
			return err
		}
		digests, err = q.DeleteProject(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	s.releaseBlobs(ctx, digests)

	e := events.New(events.ProjectDeleted, actor.ID, ref.New(ref.Project, id))
	e.ProjectID = id
	e.Title = fmt.Sprintf("Project %q was deleted", p.Name)
	e.Recipients = recipients(actor.ID, audience...)
	s.emit(ctx, e)
	return nil
}

// Members

func (s *Service) ListProjectMembers(ctx context.Context, actor *db.User, projectID int64) ([]db.ProjectMember, error) {
	if _, err := s.project(ctx, s.store.Queries, actor, projectID, access.ActionListMembers); err != nil {
		return nil, err
	}
	return s.store.ListProjectMembers(ctx, projectID)
}

// AddProjectMember grants userID a stored role on the project. A user
// who already has a member row gets a conflict.
func (s *Service) AddProjectMember(ctx context.Context, actor *db.User, projectID, userID int64, role string) (*db.ProjectMember, error) {
	r, err := access.ParseMemberRole(role)
	if err != nil {
		return nil, apperr.Invalid("role", "%v", err)
	}
	var p *db.Project
	var m *db.ProjectMember
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if p, err = s.project(ctx, q, actor, projectID, access.ActionAddMember); err != nil {
			return err
		}
		if userID == p.OwnerID {
			return fmt.Errorf("user %d owns the project: %w", userID, apperr.ErrConflict)
		}
		m, err = q.AddProjectMember(ctx, projectID, userID, r.String())
		return err
	})
	if err != nil {
		return nil, err
	}

	e := events.New(events.MemberAdded, actor.ID, ref.New(ref.Project, projectID))
	e.ProjectID = projectID
	e.Title = fmt.Sprintf("You were added to %q as %s", p.Name, r)
	e.Recipients = recipients(actor.ID, userID)
	e.Changes = map[string]any{"user_id": userID, "role": r.String()}
	s.emit(ctx, e)
	return m, nil
}

func (s *Service) UpdateProjectMemberRole(ctx context.Context, actor *db.User, projectID, userID int64, role string) error {
	r, err := access.ParseMemberRole(role)
	if err != nil {
		return apperr.Invalid("role", "%v", err)
	}
	var p *db.Project
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if p, err = s.project(ctx, q, actor, projectID, access.ActionAddMember); err != nil {
			return err
		}
		return q.UpdateProjectMemberRole(ctx, projectID, userID, r.String())
	})
	if err != nil {
		return err
	}

	e := events.New(events.MemberRoleChanged, actor.ID, ref.New(ref.Project, projectID))
	e.ProjectID = projectID
	e.Title = fmt.Sprintf("Your role on %q is now %s", p.Name, r)
	e.Recipients = recipients(actor.ID, userID)
	e.Changes = map[string]any{"user_id": userID, "role": r.String()}
	s.emit(ctx, e)
	return nil
}

// RemoveProjectMember deletes a member row. The owner has no row and
// cannot be removed.
func (s *Service) RemoveProjectMember(ctx context.Context, actor *db.User, projectID, userID int64) error {
	var p *db.Project
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if p, err = s.project(ctx, q, actor, projectID, access.ActionRemoveMember); err != nil {
			return err
		}
		if userID == p.OwnerID {
			return apperr.Invalid("user_id", "the project owner cannot be removed")
		}
		return q.RemoveProjectMember(ctx, projectID, userID)
	})
	if err != nil {
		return err
	}

	e := events.New(events.MemberRemoved, actor.ID, ref.New(ref.Project, projectID))
	e.ProjectID = projectID
	e.Title = fmt.Sprintf("You were removed from %q", p.Name)
	e.Recipients = recipients(actor.ID, userID)
	e.Changes = map[string]any{"user_id": userID}
	s.emit(ctx, e)
	return nil
}

// Team links

func (s *Service) ListProjectTeams(ctx context.Context, actor *db.User, projectID int64) ([]db.ProjectTeam, error) {
	if _, err := s.project(ctx, s.store.Queries, actor, projectID, access.ActionListMembers); err != nil {
		return nil, err
	}
	return s.store.ListProjectTeams(ctx, projectID)
}

// AssignTeam links a team to a project; its members gain the mapped
// project role. At most one team is primary.
func (s *Service) AssignTeam(ctx context.Context, actor *db.User, projectID, teamID int64, primary bool) (*db.ProjectTeam, error) {
	var p *db.Project
	var team *db.Team
	var link *db.ProjectTeam
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if p, err = s.project(ctx, q, actor, projectID, access.ActionAssignTeam); err != nil {
			return err
		}
		if team, err = q.GetTeam(ctx, teamID); err != nil {
			return err
		}
		if link, err = q.AssignTeam(ctx, projectID, teamID, primary); err != nil {
			return err
		}
		link.TeamName = team.Name
		return nil
	})
	if err != nil {
		return nil, err
	}

	e := events.New(events.TeamAssigned, actor.ID, ref.New(ref.Project, projectID))
	e.ProjectID = projectID
	e.Title = fmt.Sprintf("Team %q now works on %q", team.Name, p.Name)
	e.Recipients = recipients(actor.ID, team.LeaderID)
	e.Changes = map[string]any{"team_id": teamID, "primary": primary}
	s.emit(ctx, e)
	return link, nil
}

func (s *Service) UnassignTeam(ctx context.Context, actor *db.User, projectID, teamID int64) error {
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		if _, err := s.project(ctx, q, actor, projectID, access.ActionAssignTeam); err != nil {
			return err
		}
		return q.UnassignTeam(ctx, projectID, teamID)
	})
	if err != nil {
		return err
	}

	e := events.New(events.TeamUnassigned, actor.ID, ref.New(ref.Project, projectID))
	e.ProjectID = projectID
	e.Title = "Team unassigned"
	e.Changes = map[string]any{"team_id": teamID}
	s.emit(ctx, e)
	return nil
}

// Stats, lists and labels

func (s *Service) ProjectStats(ctx context.Context, actor *db.User, projectID int64) (*db.ProjectStats, error) {
	if _, err := s.project(ctx, s.store.Queries, actor, projectID, access.ActionView); err != nil {
		return nil, err
	}
	return s.store.ProjectStats(ctx, projectID, s.today())
}

func (s *Service) ListTaskLists(ctx context.Context, actor *db.User, projectID int64) ([]db.TaskList, error) {
	if _, err := s.project(ctx, s.store.Queries, actor, projectID, access.ActionView); err != nil {
		return nil, err
	}
	return s.store.ListTaskLists(ctx, projectID)
}

func (s *Service) CreateTaskList(ctx context.Context, actor *db.User, projectID int64, name, description string, position int) (*db.TaskList, error) {
	name = strings.TrimSpace(name)
	if err := checkName("name", name, 100); err != nil {
		return nil, err
	}
	if _, err := s.project(ctx, s.store.Queries, actor, projectID, access.ActionManageLists); err != nil {
		return nil, err
	}
	return s.store.CreateTaskList(ctx, db.TaskList{ProjectID: projectID, Name: name, Description: description, Position: position})
}

var labelColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

const defaultLabelColor = "#3B82F6"

func (s *Service) ListLabels(ctx context.Context, actor *db.User, projectID int64) ([]db.Label, error) {
	if _, err := s.project(ctx, s.store.Queries, actor, projectID, access.ActionView); err != nil {
		return nil, err
	}
	return s.store.ListLabels(ctx, projectID)
}

// CreateLabel adds a label to a project. Names are unique per project.
func (s *Service) CreateLabel(ctx context.Context, actor *db.User, projectID int64, name, color string) (*db.Label, error) {
	name = strings.TrimSpace(name)
	if err := checkName("name", name, 50); err != nil {
		return nil, err
	}
	if color == "" {
		color = defaultLabelColor
	}
	if !labelColor.MatchString(color) {
		return nil, apperr.Invalid("color", "must be a hex color like #3B82F6")
	}
	if _, err := s.project(ctx, s.store.Queries, actor, projectID, access.ActionManageLabels); err != nil {
		return nil, err
	}
	return s.store.CreateLabel(ctx, db.Label{ProjectID: projectID, Name: name, Color: strings.ToUpper(color)})
}

func (s *Service) ListProjectActivity(ctx context.Context, actor *db.User, projectID int64, page db.Page) ([]db.Activity, error) {
	if _, err := s.project(ctx, s.store.Queries, actor, projectID, access.ActionViewActivity); err != nil {
		return nil, err
	}
	return s.store.ListProjectActivity(ctx, projectID, page)
}
