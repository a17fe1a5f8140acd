package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kidandcat/workboard/internal/access"
)

const taskColumns = `id, project_id, list_id, parent_task_id, title, description, assignee_id, creator_id,
	status, priority, start_date, due_date, completed_at, estimated_hours, position, version, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var list, parent, assignee, creator sql.NullInt64
	var start, due sql.NullString
	var completed sql.NullTime
	var hours sql.NullFloat64
	err := row.Scan(&t.ID, &t.ProjectID, &list, &parent, &t.Title, &t.Description, &assignee, &creator,
		&t.Status, &t.Priority, &start, &due, &completed, &hours, &t.Position, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.ListID = list.Int64
	t.ParentTaskID = parent.Int64
	t.AssigneeID = assignee.Int64
	t.CreatorID = creator.Int64
	t.StartDate = start.String
	t.DueDate = due.String
	t.CompletedAt = timePtr(completed)
	if hours.Valid {
		t.EstimatedHours = &hours.Float64
	}
	return &t, nil
}

func (q *Queries) CreateTask(ctx context.Context, t Task) (*Task, error) {
	now := q.now()
	var hours sql.NullFloat64
	if t.EstimatedHours != nil {
		hours = sql.NullFloat64{Float64: *t.EstimatedHours, Valid: true}
	}
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO tasks (project_id, list_id, parent_task_id, title, description, assignee_id, creator_id,
			status, priority, start_date, due_date, estimated_hours, position, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		t.ProjectID, nullInt(t.ListID), nullInt(t.ParentTaskID), t.Title, t.Description,
		nullInt(t.AssigneeID), nullInt(t.CreatorID), t.Status, t.Priority,
		nullString(t.StartDate), nullString(t.DueDate), hours, t.Position, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", mapError(err))
	}
	t.ID, _ = res.LastInsertId()
	t.Version = 1
	t.CreatedAt, t.UpdatedAt = now, now
	return &t, nil
}

func (q *Queries) GetTask(ctx context.Context, id int64) (*Task, error) {
	t, err := scanTask(q.q.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "task")
	}
	return t, nil
}

// TaskFilter narrows ListTasks. Zero fields do not filter.
type TaskFilter struct {
	ProjectID  int64
	Status     string
	AssigneeID int64
	LabelID    int64
	ListID     int64
	ParentID   int64

	// VisibleTo restricts the result to projects the user can see when
	// ProjectID is zero.
	VisibleTo int64
}

func (q *Queries) ListTasks(ctx context.Context, f TaskFilter, page Page) ([]Task, error) {
	var where []string
	var args []any
	if f.ProjectID != 0 {
		where = append(where, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != 0 {
		where = append(where, "assignee_id = ?")
		args = append(args, f.AssigneeID)
	}
	if f.ListID != 0 {
		where = append(where, "list_id = ?")
		args = append(args, f.ListID)
	}
	if f.ParentID != 0 {
		where = append(where, "parent_task_id = ?")
		args = append(args, f.ParentID)
	}
	if f.LabelID != 0 {
		where = append(where, "id IN (SELECT task_id FROM task_label_assignments WHERE label_id = ?)")
		args = append(args, f.LabelID)
	}
	if f.ProjectID == 0 && f.VisibleTo != 0 {
		where = append(where, "project_id IN (SELECT id FROM projects WHERE "+visibleProject+")")
		args = append(args, f.VisibleTo, f.VisibleTo, f.VisibleTo, f.VisibleTo, f.VisibleTo)
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY position, created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, page.limit(), page.Offset)

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpdateTask writes every mutable field of t, including status, if its
// version is still current.
func (q *Queries) UpdateTask(ctx context.Context, t *Task) error {
	now := q.now()
	var hours sql.NullFloat64
	if t.EstimatedHours != nil {
		hours = sql.NullFloat64{Float64: *t.EstimatedHours, Valid: true}
	}
	res, err := q.q.ExecContext(ctx,
		`UPDATE tasks SET list_id = ?, parent_task_id = ?, title = ?, description = ?, assignee_id = ?,
			status = ?, priority = ?, start_date = ?, due_date = ?, completed_at = ?, estimated_hours = ?,
			position = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		nullInt(t.ListID), nullInt(t.ParentTaskID), t.Title, t.Description, nullInt(t.AssigneeID),
		t.Status, t.Priority, nullString(t.StartDate), nullString(t.DueDate), nullTime(t.CompletedAt), hours,
		t.Position, now, t.ID, t.Version,
	)
	if err != nil {
		return mapError(err)
	}
	if err := expectOne(res, "task"); err != nil {
		return err
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

// DeleteTask removes a task and its subtree. Comments and attachments
// on any removed task are purged; the blob digests they referenced are
// returned.
func (q *Queries) DeleteTask(ctx context.Context, id int64) ([]string, error) {
	digests, err := q.purgeTargets(ctx,
		`target_type = 'task' AND target_id IN (
			WITH RECURSIVE subtree(id) AS (
				SELECT ? UNION ALL SELECT t.id FROM tasks t JOIN subtree s ON t.parent_task_id = s.id)
			SELECT id FROM subtree)`,
		id)
	if err != nil {
		return nil, err
	}
	res, err := q.q.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return nil, mapError(err)
	}
	if err := expectRow(res, "task"); err != nil {
		return nil, err
	}
	return digests, nil
}

// TaskFacts loads a task and the relationships userID has with it and
// its project.
func (q *Queries) TaskFacts(ctx context.Context, taskID, userID int64) (*Task, access.TaskFacts, error) {
	t, err := q.GetTask(ctx, taskID)
	if err != nil {
		return nil, access.TaskFacts{}, err
	}
	_, pf, err := q.ProjectFacts(ctx, t.ProjectID, userID)
	if err != nil {
		return nil, access.TaskFacts{}, err
	}
	return t, access.TaskFacts{Project: pf, AssigneeID: t.AssigneeID, CreatorID: t.CreatorID}, nil
}

// ParentMap maps every task of a project to its parent (0 for roots).
func (q *Queries) ParentMap(ctx context.Context, projectID int64) (map[int64]int64, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT id, COALESCE(parent_task_id, 0) FROM tasks WHERE project_id = ?", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	parents := map[int64]int64{}
	for rows.Next() {
		var id, parent int64
		if err := rows.Scan(&id, &parent); err != nil {
			return nil, err
		}
		parents[id] = parent
	}
	return parents, rows.Err()
}

// OverdueTasks lists assigned tasks due before today (YYYY-MM-DD) that
// are still open.
func (q *Queries) OverdueTasks(ctx context.Context, today string) ([]Task, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+taskColumns+` FROM tasks
		 WHERE due_date IS NOT NULL AND due_date < ? AND assignee_id IS NOT NULL
		 AND status NOT IN ('done', 'cancelled') ORDER BY due_date, id`,
		today,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// DueSoonTasks lists assigned open tasks due between from and until
// (YYYY-MM-DD, inclusive).
func (q *Queries) DueSoonTasks(ctx context.Context, from, until string) ([]Task, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+taskColumns+` FROM tasks
		 WHERE due_date IS NOT NULL AND due_date >= ? AND due_date <= ? AND assignee_id IS NOT NULL
		 AND status NOT IN ('done', 'cancelled') ORDER BY due_date, id`,
		from, until,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// Dependencies

func (q *Queries) AddDependency(ctx context.Context, taskID, dependsOnID int64, depType string) (*TaskDependency, error) {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		"INSERT INTO task_dependencies (task_id, depends_on_id, dependency_type, created_at) VALUES (?, ?, ?, ?)",
		taskID, dependsOnID, depType, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert dependency: %w", mapError(err))
	}
	id, _ := res.LastInsertId()
	return &TaskDependency{ID: id, TaskID: taskID, DependsOnID: dependsOnID, Type: depType, CreatedAt: now}, nil
}

func (q *Queries) RemoveDependency(ctx context.Context, taskID, dependsOnID int64) error {
	res, err := q.q.ExecContext(ctx,
		"DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_id = ?", taskID, dependsOnID)
	if err != nil {
		return err
	}
	return expectRow(res, "dependency")
}

// ListDependencies lists the tasks taskID waits for, with their current
// status.
func (q *Queries) ListDependencies(ctx context.Context, taskID int64) ([]TaskDependency, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT d.id, d.task_id, d.depends_on_id, d.dependency_type, t.status, d.created_at
		 FROM task_dependencies d JOIN tasks t ON t.id = d.depends_on_id
		 WHERE d.task_id = ? ORDER BY d.id`,
		taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deps []TaskDependency
	for rows.Next() {
		var d TaskDependency
		if err := rows.Scan(&d.ID, &d.TaskID, &d.DependsOnID, &d.Type, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, rows.Err()
}

// DependencyEdges returns every dependency edge among a project's
// tasks, as task -> tasks it depends on.
func (q *Queries) DependencyEdges(ctx context.Context, projectID int64) (map[int64][]int64, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT d.task_id, d.depends_on_id FROM task_dependencies d
		 JOIN tasks t ON t.id = d.task_id WHERE t.project_id = ?`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	edges := map[int64][]int64{}
	for rows.Next() {
		var from, to int64
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		edges[from] = append(edges[from], to)
	}
	return edges, rows.Err()
}

// Label assignments

func (q *Queries) AttachLabel(ctx context.Context, taskID, labelID int64) error {
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO task_label_assignments (task_id, label_id) VALUES (?, ?)", taskID, labelID)
	if err != nil {
		return fmt.Errorf("attach label: %w", mapError(err))
	}
	return nil
}

func (q *Queries) DetachLabel(ctx context.Context, taskID, labelID int64) error {
	res, err := q.q.ExecContext(ctx,
		"DELETE FROM task_label_assignments WHERE task_id = ? AND label_id = ?", taskID, labelID)
	if err != nil {
		return err
	}
	return expectRow(res, "label assignment")
}

func (q *Queries) TaskLabels(ctx context.Context, taskID int64) ([]Label, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT l.id, l.project_id, l.name, l.color FROM task_labels l
		 JOIN task_label_assignments a ON a.label_id = l.id
		 WHERE a.task_id = ? ORDER BY l.name`,
		taskID,
	)
	if err != nil {
		return nil, err
	}
	return scanLabels(rows)
}
