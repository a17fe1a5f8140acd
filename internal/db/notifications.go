package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const notificationColumns = `id, event_id, recipient_id, actor_id, type, title, message, target_type, target_id,
	is_read, created_at, read_at`

func scanNotification(row interface{ Scan(...any) error }) (*Notification, error) {
	var n Notification
	var actor sql.NullInt64
	var readAt sql.NullTime
	err := row.Scan(&n.ID, &n.EventID, &n.RecipientID, &actor, &n.Type, &n.Title, &n.Message,
		&n.Target.Type, &n.Target.ID, &n.Read, &n.CreatedAt, &readAt)
	if err != nil {
		return nil, err
	}
	n.ActorID = actor.Int64
	n.ReadAt = timePtr(readAt)
	return &n, nil
}

// InsertNotification stores n unless a notification for the same event
// and recipient already exists. It reports whether a row was written.
func (q *Queries) InsertNotification(ctx context.Context, n Notification) (bool, error) {
	res, err := q.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO notifications
		 (event_id, recipient_id, actor_id, type, title, message, target_type, target_id, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		n.EventID, n.RecipientID, nullInt(n.ActorID), n.Type, n.Title, n.Message,
		string(n.Target.Type), n.Target.ID, q.now(),
	)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", mapError(err))
	}
	rows, err := res.RowsAffected()
	return rows == 1, err
}

func (q *Queries) GetNotification(ctx context.Context, id int64) (*Notification, error) {
	n, err := scanNotification(q.q.QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "notification")
	}
	return n, nil
}

// ListNotifications lists recipientID's notifications newest first.
func (q *Queries) ListNotifications(ctx context.Context, recipientID int64, unreadOnly bool, page Page) ([]Notification, error) {
	query := "SELECT " + notificationColumns + " FROM notifications WHERE recipient_id = ?"
	if unreadOnly {
		query += " AND is_read = 0"
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"

	rows, err := q.q.QueryContext(ctx, query, recipientID, page.limit(), page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (q *Queries) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND is_read = 0", recipientID).Scan(&n)
	return n, err
}

// MarkRead marks one of recipientID's notifications read. Marking an
// already read notification is a no-op.
func (q *Queries) MarkRead(ctx context.Context, id, recipientID int64) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1, read_at = COALESCE(read_at, ?)
		 WHERE id = ? AND recipient_id = ?`,
		q.now(), id, recipientID)
	if err != nil {
		return err
	}
	return expectRow(res, "notification")
}

// MarkAllRead marks every unread notification of recipientID read and
// returns how many changed.
func (q *Queries) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	res, err := q.q.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1, read_at = ? WHERE recipient_id = ? AND is_read = 0",
		q.now(), recipientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteReadNotifications removes read notifications older than cutoff.
func (q *Queries) DeleteReadNotifications(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx,
		"DELETE FROM notifications WHERE is_read = 1 AND read_at < ?", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
