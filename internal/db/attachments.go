package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kidandcat/workboard/internal/ref"
)

const attachmentColumns = "id, target_type, target_id, uploader_id, filename, content_type, size, digest, download_count, created_at"

func scanAttachment(row interface{ Scan(...any) error }) (*Attachment, error) {
	var a Attachment
	var uploader sql.NullInt64
	err := row.Scan(&a.ID, &a.Target.Type, &a.Target.ID, &uploader, &a.Filename, &a.ContentType,
		&a.Size, &a.Digest, &a.DownloadCount, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.UploaderID = uploader.Int64
	return &a, nil
}

func (q *Queries) CreateAttachment(ctx context.Context, a Attachment) (*Attachment, error) {
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO attachments (target_type, target_id, uploader_id, filename, content_type, size, digest, download_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		string(a.Target.Type), a.Target.ID, nullInt(a.UploaderID), a.Filename, a.ContentType, a.Size, a.Digest, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert attachment: %w", mapError(err))
	}
	a.ID, _ = res.LastInsertId()
	a.CreatedAt = now
	return &a, nil
}

func (q *Queries) GetAttachment(ctx context.Context, id int64) (*Attachment, error) {
	a, err := scanAttachment(q.q.QueryRowContext(ctx, "SELECT "+attachmentColumns+" FROM attachments WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "attachment")
	}
	return a, nil
}

func (q *Queries) ListAttachments(ctx context.Context, target ref.Ref, page Page) ([]Attachment, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+attachmentColumns+" FROM attachments WHERE target_type = ? AND target_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		string(target.Type), target.ID, page.limit(), page.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// IncrementDownloads bumps an attachment's download counter.
func (q *Queries) IncrementDownloads(ctx context.Context, id int64) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE attachments SET download_count = download_count + 1 WHERE id = ?", id)
	if err != nil {
		return mapError(err)
	}
	return expectRow(res, "attachment")
}

// DeleteAttachment removes the row and returns its digest.
func (q *Queries) DeleteAttachment(ctx context.Context, id int64) (string, error) {
	var digest string
	err := q.q.QueryRowContext(ctx, "DELETE FROM attachments WHERE id = ? RETURNING digest", id).Scan(&digest)
	if err != nil {
		return "", notFound(err, "attachment")
	}
	return digest, nil
}

// DigestInUse reports whether any attachment still references digest.
func (q *Queries) DigestInUse(ctx context.Context, digest string) (bool, error) {
	var used bool
	err := q.q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM attachments WHERE digest = ?)", digest).Scan(&used)
	return used, err
}

func (q *Queries) collectDigests(ctx context.Context, where string, args ...any) ([]string, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT DISTINCT digest FROM attachments WHERE "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var digests []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}
