package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kidandcat/workboard/internal/access"
	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/events"
	"github.com/kidandcat/workboard/internal/lifecycle"
	"github.com/kidandcat/workboard/internal/ref"
)

// InvitationView is an invitation as a reader sees it: Status is the
// effective status and ExpiresAt the end of its window.
type InvitationView struct {
	db.Invitation
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Service) view(inv db.Invitation, now time.Time) InvitationView {
	inv.Status = string(lifecycle.EffectiveInvitationStatus(
		lifecycle.InvitationStatus(inv.Status), inv.CreatedAt, now, s.invitationTTL))
	return InvitationView{Invitation: inv, ExpiresAt: inv.CreatedAt.Add(s.invitationTTL)}
}

func (s *Service) invitation(ctx context.Context, q *db.Queries, actor *db.User, id int64, action access.Action) (*db.Invitation, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthorized
	}
	inv, err := q.GetInvitation(ctx, id)
	if err != nil {
		return nil, err
	}
	_, facts, err := q.TeamFacts(ctx, inv.TeamID, actor.ID)
	if err != nil {
		return nil, err
	}
	roles := s.graph.InvitationRoles(actor.ID, facts, inv.InviteeID)
	if err := s.authorize(actor, roles, access.ResourceInvitation, action); err != nil {
		return nil, err
	}
	return inv, nil
}

// ListMyInvitations lists the invitations addressed to actor, newest
// first.
func (s *Service) ListMyInvitations(ctx context.Context, actor *db.User, page db.Page) ([]InvitationView, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthorized
	}
	invs, err := s.store.ListInvitations(ctx, actor.ID, 0, page)
	if err != nil {
		return nil, err
	}
	return s.views(invs), nil
}

// ListTeamInvitations lists the invitations a team has sent.
func (s *Service) ListTeamInvitations(ctx context.Context, actor *db.User, teamID int64, page db.Page) ([]InvitationView, error) {
	if _, _, err := s.team(ctx, s.store.Queries, actor, teamID, access.ActionInvite); err != nil {
		return nil, err
	}
	invs, err := s.store.ListInvitations(ctx, 0, teamID, page)
	if err != nil {
		return nil, err
	}
	return s.views(invs), nil
}

func (s *Service) views(invs []db.Invitation) []InvitationView {
	now := s.clock.Now()
	out := make([]InvitationView, len(invs))
	for i, inv := range invs {
		out[i] = s.view(inv, now)
	}
	return out
}

func (s *Service) GetInvitation(ctx context.Context, actor *db.User, id int64) (*InvitationView, error) {
	inv, err := s.invitation(ctx, s.store.Queries, actor, id, access.ActionView)
	if err != nil {
		return nil, err
	}
	v := s.view(*inv, s.clock.Now())
	return &v, nil
}

// AcceptInvitation makes the invitee a team member. The status change
// and the membership are written in one transaction, guarded by the
// version read beforehand: of several concurrent accepts exactly one
// succeeds and the rest get a conflict. An invitee who joined the team
// some other way meanwhile keeps that membership and the invitation is
// closed as accepted.
func (s *Service) AcceptInvitation(ctx context.Context, actor *db.User, id int64) (*db.TeamMembership, error) {
	inv, err := s.respond(ctx, actor, id, lifecycle.InvitationAccepted)
	if err != nil {
		return nil, err
	}
	var m *db.TeamMembership
	joined := false
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		if err := q.SetInvitationStatus(ctx, inv, string(lifecycle.InvitationAccepted)); err != nil {
			return err
		}
		var err error
		m, err = q.GetTeamMembership(ctx, inv.TeamID, inv.InviteeID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		m, err = q.AddTeamMember(ctx, inv.TeamID, inv.InviteeID, inv.Role)
		joined = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}

	e := events.New(events.InvitationAccepted, actor.ID, ref.New(ref.Invitation, inv.ID))
	e.Title = fmt.Sprintf("Invitation to %q accepted", inv.TeamName)
	e.Recipients = recipients(actor.ID, inv.InviterID)
	e.Changes = map[string]any{"team_id": inv.TeamID, "role": inv.Role}
	if !joined {
		s.emit(ctx, e)
		return m, nil
	}
	join := events.New(events.TeamMemberJoined, actor.ID, ref.New(ref.Team, inv.TeamID))
	join.Title = fmt.Sprintf("Joined team %q", inv.TeamName)
	join.Changes = map[string]any{"user_id": inv.InviteeID, "role": inv.Role}
	s.emit(ctx, e, join)
	return m, nil
}

// DeclineInvitation closes an invitation without joining.
func (s *Service) DeclineInvitation(ctx context.Context, actor *db.User, id int64) error {
	inv, err := s.respond(ctx, actor, id, lifecycle.InvitationDeclined)
	if err != nil {
		return err
	}
	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		return q.SetInvitationStatus(ctx, inv, string(lifecycle.InvitationDeclined))
	})
	if err != nil {
		return err
	}

	e := events.New(events.InvitationDeclined, actor.ID, ref.New(ref.Invitation, inv.ID))
	e.Title = fmt.Sprintf("Invitation to %q declined", inv.TeamName)
	e.Recipients = recipients(actor.ID, inv.InviterID)
	s.emit(ctx, e)
	return nil
}

// respond loads an invitation and checks that actor may answer it with
// to right now.
func (s *Service) respond(ctx context.Context, actor *db.User, id int64, to lifecycle.InvitationStatus) (*db.Invitation, error) {
	action := access.ActionAccept
	if to == lifecycle.InvitationDeclined {
		action = access.ActionDecline
	}
	inv, err := s.invitation(ctx, s.store.Queries, actor, id, action)
	if err != nil {
		return nil, err
	}
	err = lifecycle.CheckInvitationResponse(lifecycle.InvitationStatus(inv.Status), inv.CreatedAt, to, s.clock.Now(), s.invitationTTL)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Service) expiredEvent(inv db.Invitation) events.Event {
	e := events.New(events.InvitationExpired, 0, ref.New(ref.Invitation, inv.ID))
	e.ID = events.DeterministicID(string(events.InvitationExpired), strconv.FormatInt(inv.ID, 10))
	e.Title = fmt.Sprintf("Invitation to %q expired", inv.TeamName)
	e.Recipients = recipients(0, inv.InviteeID, inv.InviterID)
	return e
}

// SweepExpiredInvitations marks every pending invitation whose window
// closed before now as expired. It returns how many it changed and is
// safe to run concurrently with accepts: an invitation accepted first
// is left alone.
func (s *Service) SweepExpiredInvitations(ctx context.Context, now time.Time) (int, error) {
	var expired []db.Invitation
	err := s.store.WithTx(ctx, func(q *db.Queries) error {
		var err error
		expired, err = q.ExpireInvitations(ctx, now.Add(-s.invitationTTL))
		return err
	})
	if err != nil {
		return 0, err
	}
	evs := make([]events.Event, len(expired))
	for i, inv := range expired {
		evs[i] = s.expiredEvent(inv)
	}
	s.emit(ctx, evs...)
	return len(expired), nil
}
