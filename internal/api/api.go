// Package api is the JSON HTTP surface over internal/service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/yuin/goldmark"

	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/auth"
	"github.com/kidandcat/workboard/internal/clock"
	"github.com/kidandcat/workboard/internal/config"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/mail"
	"github.com/kidandcat/workboard/internal/service"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Options configures New. Service, Store and Config are required.
type Options struct {
	Service *service.Service
	Store   *db.Store
	Mailer  mail.Mailer
	Config  *config.Config
	Clock   clock.Clock
	Logger  *slog.Logger
}

type Server struct {
	svc      *service.Service
	store    *db.Store
	mailer   mail.Mailer
	cfg      *config.Config
	clock    clock.Clock
	logger   *slog.Logger
	markdown goldmark.Markdown
	limits   *limiter
}

func New(opts Options) *Server {
	s := &Server{
		svc:      opts.Service,
		store:    opts.Store,
		mailer:   opts.Mailer,
		cfg:      opts.Config,
		clock:    opts.Clock,
		logger:   opts.Logger,
		markdown: goldmark.New(),
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.mailer == nil {
		s.mailer = &mail.LogMailer{Logger: s.logger}
	}
	s.limits = newLimiter(s.cfg.RateLimit, s.clock)
	return s
}

// Handler returns the complete HTTP handler: routes wrapped in access
// logging, session resolution and rate limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	s.RegisterAuthRoutes(mux)
	var h http.Handler = mux
	h = s.rateLimit(h)
	h = auth.Middleware(s.store, s.logger)(h)
	h = s.accessLog(h)
	return h
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	s.registerProjectRoutes(mux)
	s.registerTaskRoutes(mux)
	s.registerTeamRoutes(mux)
	s.registerInvitationRoutes(mux)
	s.registerCommentRoutes(mux)
	s.registerAttachmentRoutes(mux)
	s.registerNotificationRoutes(mux)
	s.registerUserRoutes(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": apperr.Code(statusError(status))})
}

// statusError is the sentinel for a status written without an error
// value, so the body still carries a code.
func statusError(status int) error {
	switch status {
	case http.StatusBadRequest:
		return apperr.ErrValidation
	case http.StatusUnauthorized:
		return apperr.ErrUnauthorized
	case http.StatusForbidden:
		return apperr.ErrForbidden
	case http.StatusNotFound:
		return apperr.ErrNotFound
	case http.StatusConflict:
		return apperr.ErrConflict
	}
	return errors.New("internal error")
}

// fail writes err with the status and code of its kind. Internal errors
// are logged and hidden.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	body := map[string]any{"code": apperr.Code(err)}
	if !apperr.Public(err) {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body["error"] = "internal error"
		writeJSON(w, status, body)
		return
	}
	body["error"] = err.Error()
	var ve *apperr.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		body["field"] = ve.Field
	}
	var de *apperr.DependencyError
	if errors.As(err, &de) {
		body["blocking"] = de.Blocking
	}
	writeJSON(w, status, body)
}

// userHandler is a handler that requires a signed-in user.
type userHandler func(w http.ResponseWriter, r *http.Request, u *db.User) error

func (s *Server) authed(h userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := auth.CurrentUser(r.Context())
		if u == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if err := h(w, r, u); err != nil {
			s.fail(w, r, err)
		}
	}
}

// retryConflict runs fn and, if it lost an optimistic-concurrency race,
// runs it once more against fresh state.
func retryConflict(fn func() error) error {
	err := fn()
	if errors.Is(err, apperr.ErrConflict) {
		err = fn()
	}
	return err
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Invalid("body", "invalid JSON")
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid(name, "invalid id")
	}
	return id, nil
}

func queryID(r *http.Request, name string) (int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 0 {
		return 0, apperr.Invalid(name, "invalid id")
	}
	return id, nil
}

// page reads ?page= (1-based) and ?page_size=.
func page(r *http.Request) (db.Page, error) {
	q := r.URL.Query()
	n, size := 1, defaultPageSize
	if v := q.Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			return db.Page{}, apperr.Invalid("page", "must be a positive integer")
		}
		n = p
	}
	if v := q.Get("page_size"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > maxPageSize {
			return db.Page{}, apperr.Invalid("page_size", "must be between 1 and %d", maxPageSize)
		}
		size = p
	}
	return db.Page{Limit: size, Offset: (n - 1) * size}, nil
}

// list writes items as a JSON array, never null.
func list[T any](w http.ResponseWriter, items []T) error {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, items)
	return nil
}

func noContent(w http.ResponseWriter) error {
	w.WriteHeader(http.StatusNoContent)
	return nil
}
