package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kidandcat/workboard/internal/access"
	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/events"
	"github.com/kidandcat/workboard/internal/lifecycle"
	"github.com/kidandcat/workboard/internal/ref"
)

// TeamInput carries the fields of a team create or partial update.
type TeamInput struct {
	Name        *string
	Description *string
	Open        *bool
	LeaderID    *int64

	ExpectedVersion int64
}

func (s *Service) team(ctx context.Context, q *db.Queries, actor *db.User, id int64, action access.Action) (*db.Team, access.TeamFacts, error) {
	if actor == nil {
		return nil, access.TeamFacts{}, apperr.ErrUnauthorized
	}
	t, facts, err := q.TeamFacts(ctx, id, actor.ID)
	if err != nil {
		return nil, facts, err
	}
	if err := s.authorize(actor, s.graph.TeamRoles(actor.ID, facts), access.ResourceTeam, action); err != nil {
		return nil, facts, err
	}
	return t, facts, nil
}

func parseTeamRole(s string) (access.TeamRole, error) {
	if strings.TrimSpace(s) == "" {
		return access.TeamMember, nil
	}
	r, err := access.ParseTeamRole(s)
	if err != nil {
		return "", apperr.Invalid("role", "%v", err)
	}
	return r, nil
}

// CreateTeam creates a team led by actor, who also joins it as lead.
func (s *Service) CreateTeam(ctx context.Context, actor *db.User, in TeamInput) (*db.Team, error) {
	if err := s.authorizeWorkspace(actor, access.ActionCreateTeam); err != nil {
		return nil, err
	}
	if in.Name == nil {
		return nil, apperr.Invalid("name", "is required")
	}
	name := strings.TrimSpace(*in.Name)
	if err := checkName("name", name, 100); err != nil {
		return nil, err
	}
	t := db.Team{Name: name, LeaderID: actor.ID}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Open != nil {
		t.Open = *in.Open
	}

	var created *db.Team
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if created, err = q.CreateTeam(ctx, t); err != nil {
			return err
		}
		_, err = q.AddTeamMember(ctx, created.ID, actor.ID, string(access.TeamLead))
		created.MemberCount = 1
		return err
	})
	if err != nil {
		return nil, err
	}

	e := events.New(events.TeamCreated, actor.ID, ref.New(ref.Team, created.ID))
	e.Title = fmt.Sprintf("Team %q created", created.Name)
	s.emit(ctx, e)
	return created, nil
}

// ListTeams lists open teams and the teams actor belongs to.
func (s *Service) ListTeams(ctx context.Context, actor *db.User, page db.Page) ([]db.Team, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthorized
	}
	return s.store.ListTeams(ctx, actor.ID, s.listsAll(actor), page)
}

func (s *Service) GetTeam(ctx context.Context, actor *db.User, id int64) (*db.Team, error) {
	t, _, err := s.team(ctx, s.store.Queries, actor, id, access.ActionView)
	return t, err
}

// UpdateTeam edits a team. A new leader must already be a member.
func (s *Service) UpdateTeam(ctx context.Context, actor *db.User, id int64, in TeamInput) (*db.Team, error) {
	var t *db.Team
	changes := map[string]any{}
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if t, _, err = s.team(ctx, q, actor, id, access.ActionUpdate); err != nil {
			return err
		}
		if err := checkVersion("team", in.ExpectedVersion, t.Version); err != nil {
			return err
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if err := checkName("name", name, 100); err != nil {
				return err
			}
			if name != t.Name {
				changes["name"] = name
			}
			t.Name = name
		}
		if in.Description != nil {
			t.Description = *in.Description
		}
		if in.Open != nil && *in.Open != t.Open {
			t.Open = *in.Open
			changes["is_open"] = t.Open
		}
		if in.LeaderID != nil && *in.LeaderID != t.LeaderID {
			_, facts, err := q.TeamFacts(ctx, id, *in.LeaderID)
			if err != nil {
				return err
			}
			if _, ok := facts.Members[*in.LeaderID]; !ok {
				return apperr.Invalid("leader_id", "user %d is not a member of the team", *in.LeaderID)
			}
			t.LeaderID = *in.LeaderID
			changes["leader_id"] = t.LeaderID
		}
		return q.UpdateTeam(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	e := events.New(events.TeamUpdated, actor.ID, ref.New(ref.Team, t.ID))
	e.Title = fmt.Sprintf("Team %q updated", t.Name)
	e.Changes = changes
	if id, ok := changes["leader_id"].(int64); ok {
		e.Recipients = recipients(actor.ID, id)
	}
	s.emit(ctx, e)
	return t, nil
}

// DeleteTeam removes a team, its memberships, invitations and project
// links. Only the leader may do this.
func (s *Service) DeleteTeam(ctx context.Context, actor *db.User, id int64) error {
	var t *db.Team
	var members []db.TeamMembership
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if t, _, err = s.team(ctx, q, actor, id, access.ActionDelete); err != nil {
			return err
		}
		if members, err = q.ListTeamMembers(ctx, id); err != nil {
			return err
		}
		return q.DeleteTeam(ctx, id)
	})
	if err != nil {
		return err
	}

	ids := make([]int64, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	e := events.New(events.TeamDeleted, actor.ID, ref.New(ref.Team, id))
	e.Title = fmt.Sprintf("Team %q was deleted", t.Name)
	e.Recipients = recipients(actor.ID, ids...)
	s.emit(ctx, e)
	return nil
}

func (s *Service) ListTeamMembers(ctx context.Context, actor *db.User, teamID int64) ([]db.TeamMembership, error) {
	if _, _, err := s.team(ctx, s.store.Queries, actor, teamID, access.ActionListMembers); err != nil {
		return nil, err
	}
	return s.store.ListTeamMembers(ctx, teamID)
}

// AddTeamMember adds userID directly, without an invitation.
func (s *Service) AddTeamMember(ctx context.Context, actor *db.User, teamID, userID int64, role string) (*db.TeamMembership, error) {
	r, err := parseTeamRole(role)
	if err != nil {
		return nil, err
	}
	var t *db.Team
	var m *db.TeamMembership
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if t, _, err = s.team(ctx, q, actor, teamID, access.ActionAddMember); err != nil {
			return err
		}
		m, err = q.AddTeamMember(ctx, teamID, userID, string(r))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, s.joinedEvent(actor.ID, t, userID, r))
	return m, nil
}

func (s *Service) joinedEvent(actorID int64, t *db.Team, userID int64, r access.TeamRole) events.Event {
	e := events.New(events.TeamMemberJoined, actorID, ref.New(ref.Team, t.ID))
	e.Title = fmt.Sprintf("Joined team %q", t.Name)
	e.Recipients = recipients(actorID, userID, t.LeaderID)
	e.Changes = map[string]any{"user_id": userID, "role": string(r)}
	return e
}

func (s *Service) leftEvent(actorID int64, t *db.Team, userID int64) events.Event {
	e := events.New(events.TeamMemberLeft, actorID, ref.New(ref.Team, t.ID))
	e.Title = fmt.Sprintf("Left team %q", t.Name)
	e.Recipients = recipients(actorID, userID, t.LeaderID)
	e.Changes = map[string]any{"user_id": userID}
	return e
}

// RemoveTeamMember removes userID. The leader cannot be removed.
func (s *Service) RemoveTeamMember(ctx context.Context, actor *db.User, teamID, userID int64) error {
	var t *db.Team
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if t, _, err = s.team(ctx, q, actor, teamID, access.ActionRemoveMember); err != nil {
			return err
		}
		if userID == t.LeaderID {
			return apperr.Invalid("user_id", "the team leader cannot be removed")
		}
		return q.RemoveTeamMember(ctx, teamID, userID)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, s.leftEvent(actor.ID, t, userID))
	return nil
}

// JoinTeam adds actor to an open team as a member.
func (s *Service) JoinTeam(ctx context.Context, actor *db.User, teamID int64) (*db.TeamMembership, error) {
	var t *db.Team
	var m *db.TeamMembership
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if t, _, err = s.team(ctx, q, actor, teamID, access.ActionJoin); err != nil {
			return err
		}
		if !t.Open {
			return fmt.Errorf("team %q is invite-only: %w", t.Name, apperr.ErrForbidden)
		}
		m, err = q.AddTeamMember(ctx, teamID, actor.ID, string(access.TeamMember))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, s.joinedEvent(actor.ID, t, actor.ID, access.TeamMember))
	return m, nil
}

// LeaveTeam removes actor from a team. The leader must hand over
// leadership first.
func (s *Service) LeaveTeam(ctx context.Context, actor *db.User, teamID int64) error {
	var t *db.Team
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		if t, _, err = s.team(ctx, q, actor, teamID, access.ActionLeave); err != nil {
			return err
		}
		if actor.ID == t.LeaderID {
			return apperr.Invalid("team", "the leader cannot leave; transfer leadership first")
		}
		return q.RemoveTeamMember(ctx, teamID, actor.ID)
	})
	if err != nil {
		return err
	}
	s.emit(ctx, s.leftEvent(actor.ID, t, actor.ID))
	return nil
}

// InviteInput describes a team invitation.
type InviteInput struct {
	InviteeID int64
	Role      string
	Message   string
}

// Invite sends a team invitation. A user may hold one pending
// invitation per team; a pending one past its window is expired first.
func (s *Service) Invite(ctx context.Context, actor *db.User, teamID int64, in InviteInput) (*db.Invitation, error) {
	r, err := parseTeamRole(in.Role)
	if err != nil {
		return nil, err
	}
	if len([]rune(in.Message)) > 500 {
		return nil, apperr.Invalid("message", "must be at most 500 characters")
	}
	now := s.clock.Now()
	var inv *db.Invitation
	var expired *db.Invitation
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		team, _, err := s.team(ctx, q, actor, teamID, access.ActionInvite)
		if err != nil {
			return err
		}
		if _, err := q.GetUserByID(ctx, in.InviteeID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.Invalid("invitee_id", "user %d does not exist", in.InviteeID)
			}
			return err
		}
		_, facts, err := q.TeamFacts(ctx, teamID, in.InviteeID)
		if err != nil {
			return err
		}
		if _, ok := facts.Members[in.InviteeID]; ok {
			return fmt.Errorf("user %d is already a member: %w", in.InviteeID, apperr.ErrConflict)
		}

		prev, err := q.PendingInvitation(ctx, teamID, in.InviteeID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
		case err != nil:
			return err
		case lifecycle.IsInvitationExpired(prev.CreatedAt, now, s.invitationTTL):
			if err := q.SetInvitationStatus(ctx, prev, string(lifecycle.InvitationExpired)); err != nil {
				return err
			}
			expired = prev
		default:
			return fmt.Errorf("user %d already has a pending invitation: %w", in.InviteeID, apperr.ErrConflict)
		}

		inv, err = q.CreateInvitation(ctx, db.Invitation{
			TeamID:    teamID,
			InviteeID: in.InviteeID,
			InviterID: actor.ID,
			Role:      string(r),
			Message:   strings.TrimSpace(in.Message),
		})
		if err != nil {
			return err
		}
		inv.TeamName = team.Name
		return nil
	})
	if err != nil {
		return nil, err
	}

	var evs []events.Event
	if expired != nil {
		evs = append(evs, s.expiredEvent(*expired))
	}
	e := events.New(events.InvitationSent, actor.ID, ref.New(ref.Invitation, inv.ID))
	e.Title = fmt.Sprintf("You were invited to join %q", inv.TeamName)
	e.Message = inv.Message
	e.Recipients = recipients(actor.ID, inv.InviteeID)
	e.Changes = map[string]any{"team_id": teamID, "role": inv.Role}
	evs = append(evs, e)
	s.emit(ctx, evs...)
	return inv, nil
}
