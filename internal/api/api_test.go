package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/blobstore"
	"github.com/kidandcat/workboard/internal/clock"
	"github.com/kidandcat/workboard/internal/config"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/service"
)

type fixture struct {
	store   *db.Store
	handler http.Handler
	clock   *clock.FakeClock
}

func newFixture(t *testing.T, tweak func(*config.Config)) *fixture {
	t.Helper()
	ctx := context.Background()
	clk := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	dir := t.TempDir()
	store, err := db.OpenPath(ctx, filepath.Join(dir, "test.db"), db.Options{Clock: clk})
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	blobs, err := blobstore.New(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	cfg := config.Default()
	cfg.DataDir = dir
	if tweak != nil {
		tweak(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	svc := service.New(service.Options{Store: store, Blobs: blobs, Clock: clk, MaxUploadBytes: cfg.Uploads.MaxBytes})
	srv := New(Options{Service: svc, Store: store, Config: cfg, Clock: clk})
	return &fixture{store: store, handler: srv.Handler(), clock: clk}
}

// login creates a user and returns a bearer token for it.
func (f *fixture) login(t *testing.T, email, role string) string {
	t.Helper()
	ctx := context.Background()
	u, err := f.store.CreateUser(ctx, email, "", role)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	token, err := f.store.CreateSession(ctx, u.ID)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return token
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "192.0.2.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, status, rec.Body.String())
	}
}

func TestPage(t *testing.T) {
	tests := []struct {
		query   string
		want    db.Page
		wantErr bool
	}{
		{"", db.Page{Limit: 20, Offset: 0}, false},
		{"page=3", db.Page{Limit: 20, Offset: 40}, false},
		{"page=2&page_size=50", db.Page{Limit: 50, Offset: 50}, false},
		{"page=0", db.Page{}, true},
		{"page=x", db.Page{}, true},
		{"page_size=101", db.Page{}, true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/?"+tt.query, nil)
		got, err := page(r)
		if (err != nil) != tt.wantErr {
			t.Errorf("page(%q) err = %v, wantErr %v", tt.query, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("page(%q) = %+v, want %+v", tt.query, got, tt.want)
		}
	}
}

func TestFail(t *testing.T) {
	s := New(Options{Config: config.Default()})
	tests := []struct {
		err    error
		status int
		code   string
		extra  string
	}{
		{apperr.Invalid("name", "is required"), 400, "validation_error", "field"},
		{apperr.ErrNotFound, 404, "not_found", ""},
		{&apperr.DependencyError{TaskID: 1, Blocking: []int64{2, 3}}, 409, "dependency_unresolved", "blocking"},
		{fmt.Errorf("wrapped: %w", apperr.ErrConflict), 409, "conflict", ""},
		{errors.New("disk on fire"), 500, "internal_error", ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.fail(rec, httptest.NewRequest("GET", "/", nil), tt.err)
		if rec.Code != tt.status {
			t.Errorf("%v: status = %d, want %d", tt.err, rec.Code, tt.status)
		}
		body := decodeBody[map[string]any](t, rec)
		if body["code"] != tt.code {
			t.Errorf("%v: code = %v, want %s", tt.err, body["code"], tt.code)
		}
		if tt.extra != "" {
			if _, ok := body[tt.extra]; !ok {
				t.Errorf("%v: body %v has no %q", tt.err, body, tt.extra)
			}
		}
		if tt.status == 500 && body["error"] != "internal error" {
			t.Errorf("internal error leaked: %v", body["error"])
		}
	}
}

func TestRetryConflict(t *testing.T) {
	calls := 0
	err := retryConflict(func() error {
		calls++
		if calls == 1 {
			return apperr.ErrConflict
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Errorf("err = %v after %d calls, want nil after 2", err, calls)
	}

	calls = 0
	err = retryConflict(func() error {
		calls++
		return apperr.ErrForbidden
	})
	if !errors.Is(err, apperr.ErrForbidden) || calls != 1 {
		t.Errorf("err = %v after %d calls, want forbidden after 1", err, calls)
	}
}

func TestRequiresSession(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, "GET", "/api/projects", "", nil)
	wantStatus(t, rec, http.StatusUnauthorized)
	if body := decodeBody[map[string]string](t, rec); body["code"] != "unauthorized" {
		t.Errorf("code = %q", body["code"])
	}

	rec = f.do(t, "GET", "/api/projects", "not-a-session", nil)
	wantStatus(t, rec, http.StatusUnauthorized)
}

func TestProjectFlow(t *testing.T) {
	f := newFixture(t, nil)
	owner := f.login(t, "owner@example.com", "member")
	outsider := f.login(t, "outsider@example.com", "member")

	rec := f.do(t, "POST", "/api/projects", owner, map[string]any{"name": "Apollo"})
	wantStatus(t, rec, http.StatusCreated)
	project := decodeBody[db.Project](t, rec)

	rec = f.do(t, "GET", fmt.Sprintf("/api/projects/%d", project.ID), owner, nil)
	wantStatus(t, rec, http.StatusOK)

	rec = f.do(t, "GET", fmt.Sprintf("/api/projects/%d", project.ID), outsider, nil)
	wantStatus(t, rec, http.StatusNotFound)

	rec = f.do(t, "GET", "/api/projects", outsider, nil)
	wantStatus(t, rec, http.StatusOK)
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("outsider project list = %s, want []", got)
	}

	rec = f.do(t, "POST", fmt.Sprintf("/api/projects/%d/tasks", project.ID), owner, map[string]any{"title": "Launch"})
	wantStatus(t, rec, http.StatusCreated)
	task := decodeBody[db.Task](t, rec)

	rec = f.do(t, "POST", fmt.Sprintf("/api/tasks/%d/transition", task.ID), owner, map[string]any{"status": "done"})
	wantStatus(t, rec, http.StatusConflict)
	if body := decodeBody[map[string]any](t, rec); body["code"] != "invalid_transition" {
		t.Errorf("code = %v, want invalid_transition", body["code"])
	}

	rec = f.do(t, "POST", fmt.Sprintf("/api/tasks/%d/transition", task.ID), owner, map[string]any{"status": "in_progress"})
	wantStatus(t, rec, http.StatusOK)

	rec = f.do(t, "PATCH", fmt.Sprintf("/api/projects/%d", project.ID), owner, map[string]any{"name": ""})
	wantStatus(t, rec, http.StatusBadRequest)
	if body := decodeBody[map[string]any](t, rec); body["field"] != "name" {
		t.Errorf("field = %v, want name", body["field"])
	}

	rec = f.do(t, "DELETE", fmt.Sprintf("/api/projects/%d", project.ID), owner, nil)
	wantStatus(t, rec, http.StatusNoContent)
	rec = f.do(t, "GET", fmt.Sprintf("/api/tasks/%d", task.ID), owner, nil)
	wantStatus(t, rec, http.StatusNotFound)
}

func TestCommentsRenderMarkdown(t *testing.T) {
	f := newFixture(t, nil)
	owner := f.login(t, "owner@example.com", "member")
	rec := f.do(t, "POST", "/api/projects", owner, map[string]any{"name": "Apollo"})
	wantStatus(t, rec, http.StatusCreated)
	project := decodeBody[db.Project](t, rec)

	rec = f.do(t, "POST", fmt.Sprintf("/api/projects/%d/comments", project.ID), owner,
		map[string]any{"body": "**ship it** <script>alert(1)</script>"})
	wantStatus(t, rec, http.StatusCreated)
	c := decodeBody[commentView](t, rec)
	if !strings.Contains(c.HTML, "<strong>ship it</strong>") {
		t.Errorf("html = %q, want rendered bold", c.HTML)
	}
	if strings.Contains(c.HTML, "<script>") {
		t.Errorf("html = %q, raw HTML was passed through", c.HTML)
	}

	rec = f.do(t, "POST", fmt.Sprintf("/api/comments/%d/reactions", c.ID), owner, map[string]any{"reaction": "heart"})
	wantStatus(t, rec, http.StatusCreated)
	rec = f.do(t, "POST", fmt.Sprintf("/api/comments/%d/reactions", c.ID), owner, map[string]any{"reaction": "nope"})
	wantStatus(t, rec, http.StatusBadRequest)

	rec = f.do(t, "GET", fmt.Sprintf("/api/projects/%d/comments", project.ID), owner, nil)
	wantStatus(t, rec, http.StatusOK)
	if views := decodeBody[[]commentView](t, rec); len(views) != 1 || views[0].HTML == "" {
		t.Errorf("comments = %+v", views)
	}
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "ignored")
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUploadAndDownload(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Uploads.MaxSize = "1 KiB" })
	owner := f.login(t, "owner@example.com", "member")
	rec := f.do(t, "POST", "/api/projects", owner, map[string]any{"name": "Apollo"})
	wantStatus(t, rec, http.StatusCreated)
	project := decodeBody[db.Project](t, rec)

	upload := func(content []byte) *httptest.ResponseRecorder {
		body, contentType := multipartBody(t, "file", "notes.txt", content)
		req := httptest.NewRequest("POST", fmt.Sprintf("/api/projects/%d/attachments", project.ID), body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+owner)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec
	}

	rec = upload([]byte("hello, attachments"))
	wantStatus(t, rec, http.StatusCreated)
	a := decodeBody[attachmentView](t, rec)
	if a.Filename != "notes.txt" || a.Size != 18 || a.SizeHuman != "18 B" {
		t.Errorf("attachment = %+v", a)
	}

	rec = f.do(t, "GET", fmt.Sprintf("/api/attachments/%d/download", a.ID), owner, nil)
	wantStatus(t, rec, http.StatusOK)
	if got := rec.Body.String(); got != "hello, attachments" {
		t.Errorf("download = %q", got)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename=notes.txt` {
		t.Errorf("Content-Disposition = %q", cd)
	}

	rec = upload(bytes.Repeat([]byte("x"), 2048))
	wantStatus(t, rec, http.StatusBadRequest)
	if body := decodeBody[map[string]any](t, rec); body["field"] != "file" {
		t.Errorf("field = %v, want file", body["field"])
	}
}

func TestAnonymousRateLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.RateLimit.AnonymousPerHour = 2 })
	for i := 0; i < 2; i++ {
		rec := f.do(t, "GET", "/api/auth/me", "", nil)
		wantStatus(t, rec, http.StatusOK)
	}
	rec := f.do(t, "GET", "/api/auth/me", "", nil)
	wantStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Signed-in users draw from their own bucket.
	token := f.login(t, "user@example.com", "member")
	rec = f.do(t, "GET", "/api/auth/me", token, nil)
	wantStatus(t, rec, http.StatusOK)

	f.clock.Advance(time.Hour)
	rec = f.do(t, "GET", "/api/auth/me", "", nil)
	wantStatus(t, rec, http.StatusOK)
}

func TestMagicLinkFlow(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, "POST", "/api/auth/magic-link", "", map[string]string{"email": "New@Example.com"})
	wantStatus(t, rec, http.StatusOK)
	token := decodeBody[map[string]string](t, rec)["token"]
	if token == "" {
		t.Fatal("no token returned")
	}

	check := func() map[string]any {
		rec := f.do(t, "GET", "/api/auth/check-status?token="+url.QueryEscape(token), "", nil)
		wantStatus(t, rec, http.StatusOK)
		return decodeBody[map[string]any](t, rec)
	}
	if got := check()["status"]; got != "pending" {
		t.Fatalf("status = %v, want pending", got)
	}

	rec = f.do(t, "GET", "/auth/verify?token="+url.QueryEscape(token), "", nil)
	wantStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "new@example.com") {
		t.Errorf("verify page does not show the address")
	}

	form := url.Values{"token": {token}}
	req := httptest.NewRequest("POST", "/auth/verify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	wantStatus(t, rec, http.StatusOK)

	approved := check()
	if approved["status"] != "approved" {
		t.Fatalf("status = %v, want approved", approved["status"])
	}
	session, _ := approved["session_token"].(string)
	if session == "" {
		t.Fatal("no session token")
	}
	if got := check()["status"]; got != "invalid" {
		t.Errorf("second exchange status = %v, want invalid", got)
	}

	rec = f.do(t, "GET", "/api/auth/me", session, nil)
	wantStatus(t, rec, http.StatusOK)
	me := decodeBody[struct {
		Authenticated bool    `json:"authenticated"`
		User          db.User `json:"user"`
	}](t, rec)
	if !me.Authenticated || me.User.Email != "new@example.com" {
		t.Errorf("me = %+v", me)
	}

	rec = f.do(t, "POST", "/api/auth/logout", session, nil)
	wantStatus(t, rec, http.StatusOK)
	rec = f.do(t, "GET", "/api/projects", session, nil)
	wantStatus(t, rec, http.StatusUnauthorized)
}
