package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kidandcat/workboard/internal/access"
)

const teamColumns = `id, name, description, leader_id, is_open, version, created_at, updated_at,
	(SELECT COUNT(*) FROM team_memberships tm WHERE tm.team_id = teams.id)`

func scanTeam(row interface{ Scan(...any) error }) (*Team, error) {
	var t Team
	var leader sql.NullInt64
	err := row.Scan(&t.ID, &t.Name, &t.Description, &leader, &t.Open, &t.Version, &t.CreatedAt, &t.UpdatedAt, &t.MemberCount)
	if err != nil {
		return nil, err
	}
	t.LeaderID = leader.Int64
	return &t, nil
}

// Teams

func (q *Queries) CreateTeam(ctx context.Context, t Team) (*Team, error) {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO teams (name, description, leader_id, is_open, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)`,
		t.Name, t.Description, nullInt(t.LeaderID), boolInt(t.Open), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert team: %w", mapError(err))
	}
	t.ID, _ = res.LastInsertId()
	t.Version = 1
	t.CreatedAt, t.UpdatedAt = now, now
	return &t, nil
}

func (q *Queries) GetTeam(ctx context.Context, id int64) (*Team, error) {
	t, err := scanTeam(q.q.QueryRowContext(ctx, "SELECT "+teamColumns+" FROM teams WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "team")
	}
	return t, nil
}

// ListTeams lists the teams userID leads or belongs to plus open teams,
// or every team when all is set.
func (q *Queries) ListTeams(ctx context.Context, userID int64, all bool, page Page) ([]Team, error) {
	query := "SELECT " + teamColumns + " FROM teams"
	var args []any
	if !all {
		query += ` WHERE is_open = 1 OR leader_id = ?
			OR EXISTS (SELECT 1 FROM team_memberships m WHERE m.team_id = teams.id AND m.user_id = ?)`
		args = append(args, userID, userID)
	}
	query += " ORDER BY name LIMIT ? OFFSET ?"
	args = append(args, page.limit(), page.Offset)

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *t)
	}
	return teams, rows.Err()
}

func (q *Queries) UpdateTeam(ctx context.Context, t *Team) error {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		`UPDATE teams SET name = ?, description = ?, leader_id = ?, is_open = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		t.Name, t.Description, nullInt(t.LeaderID), boolInt(t.Open), now, t.ID, t.Version,
	)
	if err != nil {
		return mapError(err)
	}
	if err := expectOne(res, "team"); err != nil {
		return err
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

// DeleteTeam removes a team with its memberships, invitations and
// project links.
func (q *Queries) DeleteTeam(ctx context.Context, id int64) error {
	res, err := q.q.ExecContext(ctx, "DELETE FROM teams WHERE id = ?", id)
	if err != nil {
		return mapError(err)
	}
	return expectRow(res, "team")
}

// TeamFacts loads a team and userID's membership in it.
func (q *Queries) TeamFacts(ctx context.Context, teamID, userID int64) (*Team, access.TeamFacts, error) {
	t, err := q.GetTeam(ctx, teamID)
	if err != nil {
		return nil, access.TeamFacts{}, err
	}
	facts := access.TeamFacts{LeaderID: t.LeaderID, Open: t.Open}
	if userID == 0 {
		return t, facts, nil
	}
	var role string
	err = q.q.QueryRowContext(ctx,
		"SELECT role FROM team_memberships WHERE team_id = ? AND user_id = ?", teamID, userID,
	).Scan(&role)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, facts, err
	default:
		r, err := access.ParseTeamRole(role)
		if err != nil {
			return nil, facts, err
		}
		facts.Members = map[int64]access.TeamRole{userID: r}
	}
	return t, facts, nil
}

// Memberships

func (q *Queries) AddTeamMember(ctx context.Context, teamID, userID int64, role string) (*TeamMembership, error) {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		"INSERT INTO team_memberships (team_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)",
		teamID, userID, role, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert team member: %w", mapError(err))
	}
	id, _ := res.LastInsertId()
	return &TeamMembership{ID: id, TeamID: teamID, UserID: userID, Role: role, JoinedAt: now}, nil
}

// GetTeamMembership returns userID's membership in teamID, or
// apperr.ErrNotFound.
func (q *Queries) GetTeamMembership(ctx context.Context, teamID, userID int64) (*TeamMembership, error) {
	var m TeamMembership
	err := q.q.QueryRowContext(ctx,
		"SELECT id, team_id, user_id, role, joined_at FROM team_memberships WHERE team_id = ? AND user_id = ?",
		teamID, userID,
	).Scan(&m.ID, &m.TeamID, &m.UserID, &m.Role, &m.JoinedAt)
	if err != nil {
		return nil, notFound(err, "team member")
	}
	return &m, nil
}

func (q *Queries) RemoveTeamMember(ctx context.Context, teamID, userID int64) error {
	res, err := q.q.ExecContext(ctx,
		"DELETE FROM team_memberships WHERE team_id = ? AND user_id = ?", teamID, userID)
	if err != nil {
		return err
	}
	return expectRow(res, "team member")
}

func (q *Queries) ListTeamMembers(ctx context.Context, teamID int64) ([]TeamMembership, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT m.id, m.team_id, m.user_id, m.role, m.joined_at, u.id, u.email, u.name, u.role, u.created_at
		 FROM team_memberships m JOIN users u ON u.id = m.user_id
		 WHERE m.team_id = ? ORDER BY m.joined_at, m.id`,
		teamID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []TeamMembership
	for rows.Next() {
		var m TeamMembership
		var u User
		if err := rows.Scan(&m.ID, &m.TeamID, &m.UserID, &m.Role, &m.JoinedAt,
			&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		m.User = &u
		members = append(members, m)
	}
	return members, rows.Err()
}

// Invitations

const invitationColumns = `i.id, i.team_id, t.name, i.invitee_id, i.inviter_id, i.role, i.message, i.status,
	i.version, i.created_at, i.responded_at`

const invitationFrom = " FROM team_invitations i JOIN teams t ON t.id = i.team_id"

func scanInvitation(row interface{ Scan(...any) error }) (*Invitation, error) {
	var inv Invitation
	var inviter sql.NullInt64
	var responded sql.NullTime
	err := row.Scan(&inv.ID, &inv.TeamID, &inv.TeamName, &inv.InviteeID, &inviter, &inv.Role, &inv.Message,
		&inv.Status, &inv.Version, &inv.CreatedAt, &responded)
	if err != nil {
		return nil, err
	}
	inv.InviterID = inviter.Int64
	inv.RespondedAt = timePtr(responded)
	return &inv, nil
}

func (q *Queries) CreateInvitation(ctx context.Context, inv Invitation) (*Invitation, error) {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO team_invitations (team_id, invitee_id, inviter_id, role, message, status, version, created_at)
		 VALUES (?, ?, ?, ?, ?, 'pending', 1, ?)`,
		inv.TeamID, inv.InviteeID, nullInt(inv.InviterID), inv.Role, inv.Message, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert invitation: %w", mapError(err))
	}
	inv.ID, _ = res.LastInsertId()
	inv.Status = "pending"
	inv.Version = 1
	inv.CreatedAt = now
	return &inv, nil
}

func (q *Queries) GetInvitation(ctx context.Context, id int64) (*Invitation, error) {
	inv, err := scanInvitation(q.q.QueryRowContext(ctx, "SELECT "+invitationColumns+invitationFrom+" WHERE i.id = ?", id))
	if err != nil {
		return nil, notFound(err, "invitation")
	}
	return inv, nil
}

// PendingInvitation returns the stored-pending invitation of userID to
// teamID, if any.
func (q *Queries) PendingInvitation(ctx context.Context, teamID, userID int64) (*Invitation, error) {
	inv, err := scanInvitation(q.q.QueryRowContext(ctx,
		"SELECT "+invitationColumns+invitationFrom+" WHERE i.team_id = ? AND i.invitee_id = ? AND i.status = 'pending'",
		teamID, userID))
	if err != nil {
		return nil, notFound(err, "invitation")
	}
	return inv, nil
}

// ListInvitations lists invitations addressed to inviteeID, or sent by
// teamID when inviteeID is zero.
func (q *Queries) ListInvitations(ctx context.Context, inviteeID, teamID int64, page Page) ([]Invitation, error) {
	query := "SELECT " + invitationColumns + invitationFrom
	var args []any
	if inviteeID != 0 {
		query += " WHERE i.invitee_id = ?"
		args = append(args, inviteeID)
	} else {
		query += " WHERE i.team_id = ?"
		args = append(args, teamID)
	}
	query += " ORDER BY i.created_at DESC, i.id DESC LIMIT ? OFFSET ?"
	args = append(args, page.limit(), page.Offset)

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invs []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, *inv)
	}
	return invs, rows.Err()
}

// SetInvitationStatus moves a stored-pending invitation at version to
// status. Zero rows means another writer changed it first: conflict.
func (q *Queries) SetInvitationStatus(ctx context.Context, inv *Invitation, status string) error {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		`UPDATE team_invitations SET status = ?, responded_at = ?, version = version + 1
		 WHERE id = ? AND version = ? AND status = 'pending'`,
		status, now, inv.ID, inv.Version,
	)
	if err != nil {
		return mapError(err)
	}
	if err := expectOne(res, "invitation"); err != nil {
		return err
	}
	inv.Status = status
	inv.Version++
	inv.RespondedAt = &now
	return nil
}

// ExpireInvitations marks every pending invitation created before
// cutoff as expired and returns them.
func (q *Queries) ExpireInvitations(ctx context.Context, cutoff time.Time) ([]Invitation, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+invitationColumns+invitationFrom+" WHERE i.status = 'pending' AND i.created_at < ? ORDER BY i.id",
		cutoff.UTC(),
	)
	if err != nil {
		return nil, err
	}
	var stale []Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, *inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var expired []Invitation
	for i := range stale {
		inv := &stale[i]
		res, err := q.q.ExecContext(ctx,
			"UPDATE team_invitations SET status = 'expired', version = version + 1 WHERE id = ? AND status = 'pending'",
			inv.ID)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			inv.Status = "expired"
			inv.Version++
			expired = append(expired, *inv)
		}
	}
	return expired, nil
}
