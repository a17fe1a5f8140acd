package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kidandcat/workboard/internal/ref"
)

const commentColumns = "id, target_type, target_id, parent_id, author_id, body, edited, created_at, updated_at"

func scanComment(row interface{ Scan(...any) error }) (*Comment, error) {
	var c Comment
	var parent, author sql.NullInt64
	err := row.Scan(&c.ID, &c.Target.Type, &c.Target.ID, &parent, &author, &c.Body, &c.Edited, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ParentID = parent.Int64
	c.AuthorID = author.Int64
	return &c, nil
}

func (q *Queries) CreateComment(ctx context.Context, c Comment) (*Comment, error) {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO comments (target_type, target_id, parent_id, author_id, body, edited, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		string(c.Target.Type), c.Target.ID, nullInt(c.ParentID), nullInt(c.AuthorID), c.Body, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert comment: %w", mapError(err))
	}
	c.ID, _ = res.LastInsertId()
	c.CreatedAt, c.UpdatedAt = now, now
	return &c, nil
}

func (q *Queries) GetComment(ctx context.Context, id int64) (*Comment, error) {
	c, err := scanComment(q.q.QueryRowContext(ctx, "SELECT "+commentColumns+" FROM comments WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "comment")
	}
	return c, nil
}

// ListComments lists the comments on target oldest first, with
// reaction counts and mentions.
func (q *Queries) ListComments(ctx context.Context, target ref.Ref, page Page) ([]Comment, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+commentColumns+" FROM comments WHERE target_type = ? AND target_id = ? ORDER BY created_at, id LIMIT ? OFFSET ?",
		string(target.Type), target.ID, page.limit(), page.Offset,
	)
	if err != nil {
		return nil, err
	}
	var comments []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		comments = append(comments, *c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range comments {
		if comments[i].Reactions, err = q.Reactions(ctx, comments[i].ID); err != nil {
			return nil, err
		}
		if comments[i].Mentions, err = q.Mentions(ctx, comments[i].ID); err != nil {
			return nil, err
		}
	}
	return comments, nil
}

// UpdateCommentBody replaces a comment's body and marks it edited.
func (q *Queries) UpdateCommentBody(ctx context.Context, c *Comment, body string) error {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		"UPDATE comments SET body = ?, edited = 1, updated_at = ? WHERE id = ?", body, now, c.ID)
	if err != nil {
		return mapError(err)
	}
	if err := expectRow(res, "comment"); err != nil {
		return err
	}
	c.Body = body
	c.Edited = true
	c.UpdatedAt = now
	return nil
}

// DeleteComment removes a comment, its replies, and attachments on any
// of them. It returns the blob digests those attachments referenced.
func (q *Queries) DeleteComment(ctx context.Context, id int64) ([]string, error) {
	const thread = `WITH RECURSIVE thread(id) AS (
		SELECT ? UNION ALL SELECT c.id FROM comments c JOIN thread th ON c.parent_id = th.id)
		SELECT id FROM thread`
	digests, err := q.collectDigests(ctx,
		"target_type = 'comment' AND target_id IN ("+thread+")", id)
	if err != nil {
		return nil, err
	}
	if _, err := q.q.ExecContext(ctx,
		"DELETE FROM attachments WHERE target_type = 'comment' AND target_id IN ("+thread+")", id); err != nil {
		return nil, fmt.Errorf("delete attachments: %w", err)
	}
	res, err := q.q.ExecContext(ctx, "DELETE FROM comments WHERE id = ?", id)
	if err != nil {
		return nil, mapError(err)
	}
	if err := expectRow(res, "comment"); err != nil {
		return nil, err
	}
	return digests, nil
}

// Mentions

func (q *Queries) AddMentions(ctx context.Context, commentID int64, userIDs []int64) error {
	for _, id := range userIDs {
		if _, err := q.q.ExecContext(ctx,
			"INSERT OR IGNORE INTO comment_mentions (comment_id, user_id) VALUES (?, ?)", commentID, id); err != nil {
			return fmt.Errorf("insert mention: %w", mapError(err))
		}
	}
	return nil
}

// ClearMentions forgets every mention recorded for a comment.
func (q *Queries) ClearMentions(ctx context.Context, commentID int64) error {
	_, err := q.q.ExecContext(ctx, "DELETE FROM comment_mentions WHERE comment_id = ?", commentID)
	return err
}

func (q *Queries) Mentions(ctx context.Context, commentID int64) ([]int64, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT user_id FROM comment_mentions WHERE comment_id = ? ORDER BY user_id", commentID)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

// Reactions

// SetReaction records userID's reaction to a comment, replacing any
// earlier one. It reports whether the reaction is new.
func (q *Queries) SetReaction(ctx context.Context, commentID, userID int64, reaction string) (bool, error) {
	var existing string
	err := q.q.QueryRowContext(ctx,
		"SELECT reaction FROM comment_reactions WHERE comment_id = ? AND user_id = ?", commentID, userID,
	).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	_, err = q.q.ExecContext(ctx,
		`INSERT INTO comment_reactions (comment_id, user_id, reaction, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(comment_id, user_id) DO UPDATE SET reaction = excluded.reaction, created_at = excluded.created_at`,
		commentID, userID, reaction, q.now(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert reaction: %w", mapError(err))
	}
	return existing == "", nil
}

func (q *Queries) RemoveReaction(ctx context.Context, commentID, userID int64) error {
	res, err := q.q.ExecContext(ctx,
		"DELETE FROM comment_reactions WHERE comment_id = ? AND user_id = ?", commentID, userID)
	if err != nil {
		return err
	}
	return expectRow(res, "reaction")
}

func (q *Queries) Reactions(ctx context.Context, commentID int64) ([]Reaction, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT reaction, COUNT(*) FROM comment_reactions WHERE comment_id = ? GROUP BY reaction ORDER BY reaction",
		commentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.Reaction, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
