// Package auth resolves the caller of an HTTP request. Sessions come
// from the magic-link flow and are presented either as a cookie (the
// browser) or as a bearer token (API clients).
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kidandcat/workboard/internal/access"
	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/db"
)

const SessionCookie = "workboard_session"

// Sessions looks up the user behind a session token.
type Sessions interface {
	GetUserBySession(ctx context.Context, token string) (*db.User, error)
}

type contextKey struct{}

// WithUser returns a context carrying u.
func WithUser(ctx context.Context, u *db.User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// CurrentUser returns the authenticated user, or nil for anonymous
// requests.
func CurrentUser(ctx context.Context) *db.User {
	if u, ok := ctx.Value(contextKey{}).(*db.User); ok {
		return u
	}
	return nil
}

// Subject is the authorization subject for u. The superuser flag is
// the global admin role.
func Subject(u *db.User) access.Subject {
	if u == nil {
		return access.Subject{}
	}
	return access.Subject{UserID: u.ID, Superuser: u.Role == access.GlobalAdmin}
}

// Token extracts the session token from the Authorization header or
// the session cookie, in that order.
func Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// Middleware attaches the session's user to the request context. It
// never rejects: handlers decide whether anonymous access is allowed.
// A stale cookie is cleared.
func Middleware(sessions Sessions, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := Token(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			user, err := sessions.GetUserBySession(r.Context(), token)
			switch {
			case err == nil:
				r = r.WithContext(WithUser(r.Context(), user))
			case errors.Is(err, apperr.ErrUnauthorized):
				if _, cerr := r.Cookie(SessionCookie); cerr == nil {
					ClearSessionCookie(w)
				}
			default:
				logger.Error("session lookup failed", "error", err)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func SetSessionCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(db.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   SessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
