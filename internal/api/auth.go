package api

import (
	"html"
	"net/http"
	"strings"

	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/auth"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/mail"
)

const appName = "Workboard"

func (s *Server) RegisterAuthRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/magic-link", s.handleMagicLink)
	mux.HandleFunc("GET /api/auth/check-status", s.handleCheckStatus)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("GET /api/auth/me", s.handleMe)

	// Server-side rendered pages for email verification
	mux.HandleFunc("GET /auth/verify", s.handleVerifyPage)
	mux.HandleFunc("POST /auth/verify", s.handleVerifyApprove)
}

func (s *Server) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		s.fail(w, r, apperr.Invalid("email", "a valid e-mail address is required"))
		return
	}

	token, err := s.store.CreateMagicToken(r.Context(), email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m := mail.MagicLink(email, s.cfg.BaseURL, appName, token, db.MagicTokenTTL)
	if err := s.mailer.Send(r.Context(), m); err != nil {
		s.logger.Error("sending magic link failed", "email", email, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token":  token,
		"status": "pending",
	})
}

func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}

	status, email, err := s.store.MagicTokenStatus(r.Context(), token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if status != "approved" {
		if status == "used" {
			status = "invalid"
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": status})
		return
	}

	// Approved: trade the token for a session exactly once.
	var user *db.User
	var session string
	err = s.store.WithTx(r.Context(), func(q *db.Queries) error {
		if err := q.ConsumeMagicToken(r.Context(), token); err != nil {
			return err
		}
		var err error
		if user, err = q.GetOrCreateUser(r.Context(), email); err != nil {
			return err
		}
		session, err = q.CreateSession(r.Context(), user.ID)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	auth.SetSessionCookie(w, session, strings.HasPrefix(s.cfg.BaseURL, "https://"))
	s.logger.Info("user signed in", "user", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "approved",
		"session_token": session,
		"user":          user,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.Token(r); token != "" {
		if err := s.store.DeleteSession(r.Context(), token); err != nil {
			s.logger.Error("deleting session failed", "error", err)
		}
	}
	auth.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r.Context())
	if user == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          user,
	})
}

const pageStyle = `<style>
*{margin:0;padding:0;box-sizing:border-box}
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Roboto,sans-serif;background:#0f1117;color:#e2e8f0;display:flex;align-items:center;justify-content:center;min-height:100vh}
.card{background:#1a1d27;border:1px solid #2a2d3e;border-radius:16px;padding:40px;max-width:400px;width:90%;text-align:center}
h1{font-size:20px;margin-bottom:8px}
p{color:#94a3b8;font-size:14px}
.email{color:#3b82f6;font-size:14px;margin-bottom:24px}
.btn{display:inline-block;background:#3b82f6;color:#fff;border:none;border-radius:10px;padding:12px 32px;font-size:15px;cursor:pointer}
.btn:hover{background:#2563eb}
</style>`

func writePage(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>` + html.EscapeString(title) + `</title>` + pageStyle + `</head><body>
<div class="card">` + body + `</div></body></html>`))
}

// Server-rendered verification pages (opened from email)
func (s *Server) handleVerifyPage(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writePage(w, http.StatusBadRequest, "Missing token", `<h1>Missing token</h1>`)
		return
	}
	status, email, err := s.store.MagicTokenStatus(r.Context(), token)
	if err != nil || status != "pending" {
		writePage(w, http.StatusBadRequest, "Invalid link", `<h1>Invalid or expired link</h1>`)
		return
	}
	writePage(w, http.StatusOK, "Approve sign-in - "+appName, `
<h1>Approve sign-in</h1>
<p class="email">`+html.EscapeString(email)+`</p>
<form method="POST" action="/auth/verify">
<input type="hidden" name="token" value="`+html.EscapeString(token)+`">
<button type="submit" class="btn">Approve session</button>
</form>`)
}

func (s *Server) handleVerifyApprove(w http.ResponseWriter, r *http.Request) {
	token := r.FormValue("token")
	if token == "" {
		writePage(w, http.StatusBadRequest, "Missing token", `<h1>Missing token</h1>`)
		return
	}
	if _, err := s.store.ApproveMagicToken(r.Context(), token); err != nil {
		writePage(w, http.StatusBadRequest, "Invalid link", `<h1>Invalid or expired link</h1>`)
		return
	}
	writePage(w, http.StatusOK, "Session approved", `
<div style="font-size:48px;margin-bottom:16px">&#10003;</div>
<h1>Session approved</h1>
<p>You can close this tab now.</p>`)
}
