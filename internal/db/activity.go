package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const activityColumns = "id, event_id, user_id, action, target_type, target_id, project_id, description, changes, created_at"

func scanActivity(row interface{ Scan(...any) error }) (*Activity, error) {
	var a Activity
	var user, project sql.NullInt64
	var changes string
	err := row.Scan(&a.ID, &a.EventID, &user, &a.Action, &a.Target.Type, &a.Target.ID, &project,
		&a.Description, &changes, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.UserID = user.Int64
	a.ProjectID = project.Int64
	a.Changes = json.RawMessage(changes)
	return &a, nil
}

// AppendActivity appends an entry to the activity log. An entry for an
// event already logged is ignored; the log never changes once written.
func (q *Queries) AppendActivity(ctx context.Context, a Activity) (bool, error) {
	changes := string(a.Changes)
	if changes == "" {
		changes = "{}"
	}
	res, err := q.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO activity_log
		 (event_id, user_id, action, target_type, target_id, project_id, description, changes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.EventID, nullInt(a.UserID), a.Action, string(a.Target.Type), a.Target.ID, nullInt(a.ProjectID),
		a.Description, changes, q.now(),
	)
	if err != nil {
		return false, fmt.Errorf("append activity: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListProjectActivity lists a project's activity newest first.
func (q *Queries) ListProjectActivity(ctx context.Context, projectID int64, page Page) ([]Activity, error) {
	return q.listActivity(ctx, "project_id = ?", projectID, page)
}

// ListUserActivity lists what userID did, newest first.
func (q *Queries) ListUserActivity(ctx context.Context, userID int64, page Page) ([]Activity, error) {
	return q.listActivity(ctx, "user_id = ?", userID, page)
}

func (q *Queries) listActivity(ctx context.Context, where string, id int64, page Page) ([]Activity, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+activityColumns+" FROM activity_log WHERE "+where+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		id, page.limit(), page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
