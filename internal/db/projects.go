package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kidandcat/workboard/internal/access"
)

const projectColumns = "id, name, description, owner_id, manager_id, status, priority, start_date, due_date, version, created_at, updated_at"

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	var manager sql.NullInt64
	var start, due sql.NullString
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &manager, &p.Status, &p.Priority,
		&start, &due, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ManagerID = manager.Int64
	p.StartDate = start.String
	p.DueDate = due.String
	return &p, nil
}

// Projects

func (q *Queries) CreateProject(ctx context.Context, p Project) (*Project, error) {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO projects (name, description, owner_id, manager_id, status, priority, start_date, due_date, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		p.Name, p.Description, p.OwnerID, nullInt(p.ManagerID), p.Status, p.Priority,
		nullString(p.StartDate), nullString(p.DueDate), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project: %w", mapError(err))
	}
	p.ID, _ = res.LastInsertId()
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = now, now
	return &p, nil
}

func (q *Queries) GetProject(ctx context.Context, id int64) (*Project, error) {
	p, err := scanProject(q.q.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "project")
	}
	return p, nil
}

// visibleProject matches projects userID has any relation to: owner,
// manager, member, or leader/member of an assigned team. Takes the user
// id five times.
const visibleProject = `(owner_id = ? OR manager_id = ?
	OR EXISTS (SELECT 1 FROM project_members m WHERE m.project_id = projects.id AND m.user_id = ?)
	OR EXISTS (SELECT 1 FROM project_teams pt JOIN teams t ON t.id = pt.team_id
		WHERE pt.project_id = projects.id AND (t.leader_id = ?
			OR EXISTS (SELECT 1 FROM team_memberships tm WHERE tm.team_id = t.id AND tm.user_id = ?))))`

// ListProjects lists the projects visible to userID, or every project
// when all is set.
func (q *Queries) ListProjects(ctx context.Context, userID int64, all bool, page Page) ([]Project, error) {
	query := "SELECT " + projectColumns + " FROM projects"
	var args []any
	if !all {
		query += " WHERE " + visibleProject
		args = append(args, userID, userID, userID, userID, userID)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, page.limit(), page.Offset)

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// UpdateProject writes p if its version is still current and bumps the
// version.
func (q *Queries) UpdateProject(ctx context.Context, p *Project) error {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, manager_id = ?, status = ?, priority = ?,
		 start_date = ?, due_date = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		p.Name, p.Description, nullInt(p.ManagerID), p.Status, p.Priority,
		nullString(p.StartDate), nullString(p.DueDate), now, p.ID, p.Version,
	)
	if err != nil {
		return mapError(err)
	}
	if err := expectOne(res, "project"); err != nil {
		return err
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

// DeleteProject removes a project. Tasks, lists, labels, members and
// team links cascade through foreign keys; comments and attachments on
// the project, its tasks, and those comments are purged here. It
// returns the blob digests the removed attachments referenced.
func (q *Queries) DeleteProject(ctx context.Context, id int64) ([]string, error) {
	digests, err := q.purgeTargets(ctx,
		"(target_type = 'project' AND target_id = ?) OR (target_type = 'task' AND target_id IN (SELECT id FROM tasks WHERE project_id = ?))",
		id, id)
	if err != nil {
		return nil, err
	}
	res, err := q.q.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return nil, mapError(err)
	}
	if err := expectRow(res, "project"); err != nil {
		return nil, err
	}
	return digests, nil
}

// purgeTargets deletes the comments matching scope (a WHERE clause on
// target_type/target_id) and every attachment on those targets or on
// those comments.
func (q *Queries) purgeTargets(ctx context.Context, scope string, args ...any) ([]string, error) {
	attScope := "(" + scope + ") OR (target_type = 'comment' AND target_id IN (SELECT id FROM comments WHERE " + scope + "))"
	attArgs := append(append([]any{}, args...), args...)

	digests, err := q.collectDigests(ctx, attScope, attArgs...)
	if err != nil {
		return nil, err
	}

	if _, err := q.q.ExecContext(ctx, "DELETE FROM attachments WHERE "+attScope, attArgs...); err != nil {
		return nil, fmt.Errorf("delete attachments: %w", err)
	}
	if _, err := q.q.ExecContext(ctx, "DELETE FROM comments WHERE "+scope, args...); err != nil {
		return nil, fmt.Errorf("delete comments: %w", err)
	}
	return digests, nil
}

// ProjectFacts loads a project and the relationships userID has with
// it.
func (q *Queries) ProjectFacts(ctx context.Context, projectID, userID int64) (*Project, access.ProjectFacts, error) {
	p, err := q.GetProject(ctx, projectID)
	if err != nil {
		return nil, access.ProjectFacts{}, err
	}
	facts, err := q.projectFacts(ctx, p, userID)
	return p, facts, err
}

func (q *Queries) projectFacts(ctx context.Context, p *Project, userID int64) (access.ProjectFacts, error) {
	facts := access.ProjectFacts{OwnerID: p.OwnerID, ManagerID: p.ManagerID}
	if userID == 0 {
		return facts, nil
	}

	var role string
	err := q.q.QueryRowContext(ctx,
		"SELECT role FROM project_members WHERE project_id = ? AND user_id = ?", p.ID, userID,
	).Scan(&role)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return facts, err
	default:
		r, err := access.ParseMemberRole(role)
		if err != nil {
			return facts, fmt.Errorf("project %d member %d: %w", p.ID, userID, err)
		}
		facts.Members = map[int64]access.Role{userID: r}
	}

	rows, err := q.q.QueryContext(ctx,
		`SELECT pt.team_id, COALESCE(t.leader_id, 0), tm.role
		 FROM project_teams pt
		 JOIN teams t ON t.id = pt.team_id
		 LEFT JOIN team_memberships tm ON tm.team_id = t.id AND tm.user_id = ?
		 WHERE pt.project_id = ? AND (t.leader_id = ? OR tm.user_id IS NOT NULL)`,
		userID, p.ID, userID,
	)
	if err != nil {
		return facts, err
	}
	defer rows.Close()
	for rows.Next() {
		var link access.TeamLink
		var teamRole sql.NullString
		if err := rows.Scan(&link.TeamID, &link.LeaderID, &teamRole); err != nil {
			return facts, err
		}
		if teamRole.Valid {
			r, err := access.ParseTeamRole(teamRole.String)
			if err != nil {
				return facts, err
			}
			link.Members = map[int64]access.TeamRole{userID: r}
		}
		facts.TeamLinks = append(facts.TeamLinks, link)
	}
	return facts, rows.Err()
}

// ProjectAudience lists every user with a relation to the project,
// for notification fan-out.
func (q *Queries) ProjectAudience(ctx context.Context, projectID int64) ([]int64, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT owner_id FROM projects WHERE id = ?
		 UNION SELECT manager_id FROM projects WHERE id = ? AND manager_id IS NOT NULL
		 UNION SELECT user_id FROM project_members WHERE project_id = ?
		 UNION SELECT t.leader_id FROM project_teams pt JOIN teams t ON t.id = pt.team_id
			WHERE pt.project_id = ? AND t.leader_id IS NOT NULL
		 UNION SELECT tm.user_id FROM project_teams pt JOIN team_memberships tm ON tm.team_id = pt.team_id
			WHERE pt.project_id = ?`,
		projectID, projectID, projectID, projectID, projectID,
	)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Members

func (q *Queries) ListProjectMembers(ctx context.Context, projectID int64) ([]ProjectMember, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT m.id, m.project_id, m.user_id, m.role, m.created_at, u.id, u.email, u.name, u.role, u.created_at
		 FROM project_members m JOIN users u ON u.id = m.user_id
		 WHERE m.project_id = ? ORDER BY m.id`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []ProjectMember
	for rows.Next() {
		var m ProjectMember
		var u User
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt,
			&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		m.User = &u
		members = append(members, m)
	}
	return members, rows.Err()
}

// AddProjectMember inserts a membership row. A second row for the same
// user and project is a conflict.
func (q *Queries) AddProjectMember(ctx context.Context, projectID, userID int64, role string) (*ProjectMember, error) {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		"INSERT INTO project_members (project_id, user_id, role, created_at) VALUES (?, ?, ?, ?)",
		projectID, userID, role, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project member: %w", mapError(err))
	}
	id, _ := res.LastInsertId()
	return &ProjectMember{ID: id, ProjectID: projectID, UserID: userID, Role: role, CreatedAt: now}, nil
}

func (q *Queries) UpdateProjectMemberRole(ctx context.Context, projectID, userID int64, role string) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE project_members SET role = ? WHERE project_id = ? AND user_id = ?", role, projectID, userID)
	if err != nil {
		return mapError(err)
	}
	return expectRow(res, "project member")
}

func (q *Queries) RemoveProjectMember(ctx context.Context, projectID, userID int64) error {
	res, err := q.q.ExecContext(ctx,
		"DELETE FROM project_members WHERE project_id = ? AND user_id = ?", projectID, userID)
	if err != nil {
		return err
	}
	return expectRow(res, "project member")
}

// Team links

// AssignTeam links a team to a project. Only one link per project may
// be primary.
func (q *Queries) AssignTeam(ctx context.Context, projectID, teamID int64, primary bool) (*ProjectTeam, error) {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		"INSERT INTO project_teams (project_id, team_id, is_primary, created_at) VALUES (?, ?, ?, ?)",
		projectID, teamID, boolInt(primary), now,
	)
	if err != nil {
		return nil, fmt.Errorf("assign team: %w", mapError(err))
	}
	id, _ := res.LastInsertId()
	return &ProjectTeam{ID: id, ProjectID: projectID, TeamID: teamID, Primary: primary, CreatedAt: now}, nil
}

func (q *Queries) UnassignTeam(ctx context.Context, projectID, teamID int64) error {
	res, err := q.q.ExecContext(ctx,
		"DELETE FROM project_teams WHERE project_id = ? AND team_id = ?", projectID, teamID)
	if err != nil {
		return err
	}
	return expectRow(res, "project team")
}

func (q *Queries) ListProjectTeams(ctx context.Context, projectID int64) ([]ProjectTeam, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT pt.id, pt.project_id, pt.team_id, t.name, pt.is_primary, pt.created_at
		 FROM project_teams pt JOIN teams t ON t.id = pt.team_id
		 WHERE pt.project_id = ? ORDER BY pt.is_primary DESC, t.name`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []ProjectTeam
	for rows.Next() {
		var pt ProjectTeam
		if err := rows.Scan(&pt.ID, &pt.ProjectID, &pt.TeamID, &pt.TeamName, &pt.Primary, &pt.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, pt)
	}
	return links, rows.Err()
}

// Task lists

func (q *Queries) CreateTaskList(ctx context.Context, l TaskList) (*TaskList, error) {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		"INSERT INTO task_lists (project_id, name, description, position, created_at) VALUES (?, ?, ?, ?, ?)",
		l.ProjectID, l.Name, l.Description, l.Position, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task list: %w", mapError(err))
	}
	l.ID, _ = res.LastInsertId()
	l.CreatedAt = now
	return &l, nil
}

func (q *Queries) GetTaskList(ctx context.Context, id int64) (*TaskList, error) {
	var l TaskList
	err := q.q.QueryRowContext(ctx,
		"SELECT id, project_id, name, description, position, created_at FROM task_lists WHERE id = ?", id,
	).Scan(&l.ID, &l.ProjectID, &l.Name, &l.Description, &l.Position, &l.CreatedAt)
	if err != nil {
		return nil, notFound(err, "task list")
	}
	return &l, nil
}

func (q *Queries) ListTaskLists(ctx context.Context, projectID int64) ([]TaskList, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT id, project_id, name, description, position, created_at FROM task_lists WHERE project_id = ? ORDER BY position, created_at",
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []TaskList
	for rows.Next() {
		var l TaskList
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &l.Description, &l.Position, &l.CreatedAt); err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

// Labels

func (q *Queries) CreateLabel(ctx context.Context, l Label) (*Label, error) {
	res, err := q.q.ExecContext(ctx,
		"INSERT INTO task_labels (project_id, name, color) VALUES (?, ?, ?)", l.ProjectID, l.Name, l.Color)
	if err != nil {
		return nil, fmt.Errorf("insert label: %w", mapError(err))
	}
	l.ID, _ = res.LastInsertId()
	return &l, nil
}

func (q *Queries) GetLabel(ctx context.Context, id int64) (*Label, error) {
	var l Label
	err := q.q.QueryRowContext(ctx,
		"SELECT id, project_id, name, color FROM task_labels WHERE id = ?", id,
	).Scan(&l.ID, &l.ProjectID, &l.Name, &l.Color)
	if err != nil {
		return nil, notFound(err, "label")
	}
	return &l, nil
}

func (q *Queries) ListLabels(ctx context.Context, projectID int64) ([]Label, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT id, project_id, name, color FROM task_labels WHERE project_id = ? ORDER BY name", projectID)
	if err != nil {
		return nil, err
	}
	return scanLabels(rows)
}

func scanLabels(rows *sql.Rows) ([]Label, error) {
	defer rows.Close()
	var labels []Label
	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &l.Color); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// Stats

type ProjectStats struct {
	Total    int            `json:"total_tasks"`
	ByStatus map[string]int `json:"by_status"`
	Overdue  int            `json:"overdue"`
	Progress int            `json:"progress"`
}

// ProjectStats counts a project's tasks. Progress is the percentage of
// non-cancelled tasks that are done. today is a YYYY-MM-DD date.
func (q *Queries) ProjectStats(ctx context.Context, projectID int64, today string) (*ProjectStats, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM tasks WHERE project_id = ? GROUP BY status", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &ProjectStats{ByStatus: map[string]int{}}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE project_id = ? AND due_date IS NOT NULL AND due_date < ?
		 AND status NOT IN ('done', 'cancelled')`,
		projectID, today,
	).Scan(&stats.Overdue)
	if err != nil {
		return nil, err
	}

	if active := stats.Total - stats.ByStatus["cancelled"]; active > 0 {
		stats.Progress = stats.ByStatus["done"] * 100 / active
	}
	return stats, nil
}
