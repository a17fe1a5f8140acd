package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/kidandcat/workboard/internal/apperr"
)

const (
	MagicTokenTTL = 15 * time.Minute
	SessionTTL    = 30 * 24 * time.Hour
)

const userColumns = "id, email, name, role, created_at"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Users

// GetOrCreateUser returns the user with email, creating a member
// account on first sight.
func (q *Queries) GetOrCreateUser(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := q.GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}
	name, _, _ := strings.Cut(email, "@")
	return q.CreateUser(ctx, email, name, "member")
}

func (q *Queries) CreateUser(ctx context.Context, email, name, role string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	now := q.now()
	res, err := q.q.ExecContext(ctx,
		"INSERT INTO users (email, name, role, created_at) VALUES (?, ?, ?, ?)",
		email, name, role, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", mapError(err))
	}
	id, _ := res.LastInsertId()
	return &User{ID: id, Email: email, Name: name, Role: role, CreatedAt: now}, nil
}

func (q *Queries) GetUserByID(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(q.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = ?", email))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

// FindUsersByHandle resolves @mention handles (the local part of an
// e-mail address) to users.
func (q *Queries) FindUsersByHandle(ctx context.Context, handles []string) ([]User, error) {
	if len(handles) == 0 {
		return nil, nil
	}
	args := make([]any, len(handles))
	for i, h := range handles {
		args[i] = strings.ToLower(h)
	}
	return q.listUsers(ctx,
		"SELECT "+userColumns+" FROM users WHERE lower(substr(email, 1, instr(email, '@') - 1)) IN ("+placeholders(len(args))+") ORDER BY id",
		args...)
}

func (q *Queries) ListUsers(ctx context.Context, page Page) ([]User, error) {
	return q.listUsers(ctx, "SELECT "+userColumns+" FROM users ORDER BY email LIMIT ? OFFSET ?", page.limit(), page.Offset)
}

func (q *Queries) listUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetUserRole sets the global role of the user with email, creating the
// account if needed.
func (q *Queries) SetUserRole(ctx context.Context, email, role string) (created bool, err error) {
	email = strings.ToLower(strings.TrimSpace(email))
	res, err := q.q.ExecContext(ctx, "UPDATE users SET role = ? WHERE email = ?", role, email)
	if err != nil {
		return false, mapError(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return false, nil
	}
	name, _, _ := strings.Cut(email, "@")
	if _, err := q.CreateUser(ctx, email, name, role); err != nil {
		return false, err
	}
	return true, nil
}

// Tokens are stored as blake3 hashes so a leaked database does not leak
// live credentials.

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Magic tokens

func (q *Queries) CreateMagicToken(ctx context.Context, email string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	now := q.now()
	_, err = q.q.ExecContext(ctx,
		"INSERT INTO magic_tokens (email, token_hash, status, created_at, expires_at) VALUES (?, ?, 'pending', ?, ?)",
		strings.ToLower(strings.TrimSpace(email)), hashToken(token), now, now.Add(MagicTokenTTL),
	)
	if err != nil {
		return "", fmt.Errorf("insert token: %w", mapError(err))
	}
	return token, nil
}

// MagicTokenStatus reports "pending", "approved", "used", "expired" or
// "invalid" along with the e-mail the token was issued for.
func (q *Queries) MagicTokenStatus(ctx context.Context, token string) (status, email string, err error) {
	var expiresAt time.Time
	err = q.q.QueryRowContext(ctx,
		"SELECT email, status, expires_at FROM magic_tokens WHERE token_hash = ?", hashToken(token),
	).Scan(&email, &status, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "invalid", "", nil
	}
	if err != nil {
		return "", "", err
	}
	if status != "used" && q.now().After(expiresAt) {
		return "expired", email, nil
	}
	return status, email, nil
}

// ApproveMagicToken marks a pending, unexpired token approved and
// returns its e-mail.
func (q *Queries) ApproveMagicToken(ctx context.Context, token string) (string, error) {
	status, email, err := q.MagicTokenStatus(ctx, token)
	if err != nil {
		return "", err
	}
	if status != "pending" {
		return "", apperr.Invalid("token", "token is %s", status)
	}
	_, err = q.q.ExecContext(ctx,
		"UPDATE magic_tokens SET status = 'approved' WHERE token_hash = ? AND status = 'pending'", hashToken(token))
	if err != nil {
		return "", fmt.Errorf("approve token: %w", err)
	}
	return email, nil
}

// ConsumeMagicToken moves an approved token to used. It fails with a
// conflict if the token was consumed concurrently.
func (q *Queries) ConsumeMagicToken(ctx context.Context, token string) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE magic_tokens SET status = 'used' WHERE token_hash = ? AND status = 'approved'", hashToken(token))
	if err != nil {
		return err
	}
	return expectOne(res, "magic token")
}

// Sessions

func (q *Queries) CreateSession(ctx context.Context, userID int64) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	now := q.now()
	_, err = q.q.ExecContext(ctx,
		"INSERT INTO sessions (user_id, token_hash, created_at, expires_at) VALUES (?, ?, ?, ?)",
		userID, hashToken(token), now, now.Add(SessionTTL),
	)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", mapError(err))
	}
	return token, nil
}

func (q *Queries) GetUserBySession(ctx context.Context, token string) (*User, error) {
	var userID int64
	var expiresAt time.Time
	err := q.q.QueryRowContext(ctx,
		"SELECT user_id, expires_at FROM sessions WHERE token_hash = ?", hashToken(token),
	).Scan(&userID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if q.now().After(expiresAt) {
		q.DeleteSession(ctx, token)
		return nil, apperr.ErrUnauthorized
	}
	return q.GetUserByID(ctx, userID)
}

func (q *Queries) DeleteSession(ctx context.Context, token string) error {
	_, err := q.q.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = ?", hashToken(token))
	return err
}

// DeleteExpiredSessions removes sessions and magic tokens past their
// expiry and reports how many rows went.
func (q *Queries) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	now := q.now()
	res, err := q.q.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < ?", now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	res, err = q.q.ExecContext(ctx, "DELETE FROM magic_tokens WHERE expires_at < ?", now)
	if err != nil {
		return n, err
	}
	m, _ := res.RowsAffected()
	return n + m, nil
}
