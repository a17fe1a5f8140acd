package service

import (
	"context"

	"github.com/kidandcat/workboard/internal/access"
	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/db"
)

func (s *Service) ListNotifications(ctx context.Context, actor *db.User, unreadOnly bool, page db.Page) ([]db.Notification, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthorized
	}
	return s.store.ListNotifications(ctx, actor.ID, unreadOnly, page)
}

func (s *Service) UnreadCount(ctx context.Context, actor *db.User) (int, error) {
	if actor == nil {
		return 0, apperr.ErrUnauthorized
	}
	return s.store.UnreadCount(ctx, actor.ID)
}

// MarkRead marks one of actor's notifications read. Somebody else's
// notification is reported as not found.
func (s *Service) MarkRead(ctx context.Context, actor *db.User, id int64) error {
	if actor == nil {
		return apperr.ErrUnauthorized
	}
	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	roles := s.graph.NotificationRoles(actor.ID, n.RecipientID)
	if err := s.authorize(actor, roles, access.ResourceNotification, access.ActionMarkRead); err != nil {
		return err
	}
	return s.store.MarkRead(ctx, id, n.RecipientID)
}

// MarkAllRead marks every unread notification of actor read and
// returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, actor *db.User) (int64, error) {
	if actor == nil {
		return 0, apperr.ErrUnauthorized
	}
	return s.store.MarkAllRead(ctx, actor.ID)
}

// ListMyActivity lists what actor has done, newest first.
func (s *Service) ListMyActivity(ctx context.Context, actor *db.User, page db.Page) ([]db.Activity, error) {
	if actor == nil {
		return nil, apperr.ErrUnauthorized
	}
	return s.store.ListUserActivity(ctx, actor.ID, page)
}
