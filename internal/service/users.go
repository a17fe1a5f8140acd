package service

import (
	"context"
	"strings"

	"github.com/kidandcat/workboard/internal/access"
	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/db"
)

// SyncAdmins gives every address in emails the global admin role,
// creating accounts that do not exist yet.
func (s *Service) SyncAdmins(ctx context.Context, emails []string) error {
	for _, email := range emails {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		created, err := s.store.SetUserRole(ctx, email, access.GlobalAdmin)
		if err != nil {
			return err
		}
		if created {
			s.logger.Info("admin user created", "email", email)
		} else {
			s.logger.Debug("admin role synced", "email", email)
		}
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context, actor *db.User, page db.Page) ([]db.User, error) {
	if err := s.authorizeWorkspace(actor, access.ActionListUsers); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx, page)
}

// SetUserRole changes a user's global role. Only superusers reach it.
func (s *Service) SetUserRole(ctx context.Context, actor *db.User, userID int64, role string) (*db.User, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if !access.ValidGlobalRole(role) {
		return nil, apperr.Invalid("role", "must be admin, manager, member or client")
	}
	if err := s.authorizeWorkspace(actor, access.ActionManageUsers); err != nil {
		return nil, err
	}
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.SetUserRole(ctx, u.Email, role); err != nil {
		return nil, err
	}
	u.Role = role
	s.logger.Info("user role changed", "user", u.ID, "role", role, "by", actor.ID)
	return u, nil
}
