// Package notify turns domain events into per-user notifications, the
// activity log and e-mail. Its handlers run on the events.Bus and are
// idempotent on the event ID, so a redelivered event changes nothing.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kidandcat/workboard/internal/apperr"
	"github.com/kidandcat/workboard/internal/db"
	"github.com/kidandcat/workboard/internal/events"
	"github.com/kidandcat/workboard/internal/lifecycle"
	"github.com/kidandcat/workboard/internal/mail"
)

// mailed are the event types that also go out by e-mail.
var mailed = map[events.Type]bool{
	events.InvitationSent: true,
	events.TaskAssigned:   true,
	events.TaskOverdue:    true,
	events.TaskDueSoon:    true,
	events.Mentioned:      true,
}

// unlogged are the event types kept out of the activity log.
var unlogged = map[events.Type]bool{
	events.TaskOverdue: true,
	events.TaskDueSoon: true,
	events.Mentioned:   true,
}

// Options configures a Notifier. Store is required.
type Options struct {
	Store  *db.Store
	Mailer mail.Mailer

	// BaseURL prefixes links in e-mails.
	BaseURL string

	// InvitationTTL dates the expiry shown in invitation e-mails.
	InvitationTTL time.Duration

	Logger *slog.Logger
}

type Notifier struct {
	store   *db.Store
	mailer  mail.Mailer
	baseURL string
	ttl     time.Duration
	logger  *slog.Logger
}

func New(opts Options) *Notifier {
	n := &Notifier{
		store:   opts.Store,
		mailer:  opts.Mailer,
		baseURL: opts.BaseURL,
		ttl:     opts.InvitationTTL,
		logger:  opts.Logger,
	}
	if n.logger == nil {
		n.logger = slog.New(slog.DiscardHandler)
	}
	if n.ttl <= 0 {
		n.ttl = lifecycle.DefaultInvitationTTL
	}
	return n
}

// Register subscribes both handlers to bus.
func (n *Notifier) Register(bus *events.Bus) {
	bus.Subscribe("notifications", n.Notify)
	bus.Subscribe("activity", n.Record)
}

// Notify stores one notification per recipient of e. A recipient who
// already has a notification for the event is skipped, and so is their
// e-mail.
func (n *Notifier) Notify(ctx context.Context, e events.Event) error {
	for _, userID := range e.Recipients {
		created, err := n.store.InsertNotification(ctx, db.Notification{
			EventID:     e.ID,
			RecipientID: userID,
			ActorID:     e.ActorID,
			Type:        string(e.Type),
			Title:       e.Title,
			Message:     e.Message,
			Target:      e.Target,
		})
		if errors.Is(err, apperr.ErrValidation) {
			// The recipient was deleted after the event was raised.
			n.logger.Debug("notification recipient gone", "event_id", e.ID, "user", userID)
			continue
		}
		if err != nil {
			return fmt.Errorf("notify user %d: %w", userID, err)
		}
		if created && mailed[e.Type] && n.mailer != nil {
			if err := n.mail(ctx, e, userID); err != nil {
				n.logger.Error("notification e-mail failed", "event_id", e.ID, "user", userID, "error", err)
			}
		}
	}
	return nil
}

func (n *Notifier) mail(ctx context.Context, e events.Event, userID int64) error {
	to, err := n.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if e.Type != events.InvitationSent {
		return n.mailer.Send(ctx, mail.Notice(to.Email, n.baseURL, e.Title, e.Message))
	}

	inv, err := n.store.GetInvitation(ctx, e.Target.ID)
	if err != nil {
		return err
	}
	inviter := "Someone"
	if inv.InviterID != 0 {
		if u, err := n.store.GetUserByID(ctx, inv.InviterID); err == nil {
			inviter = displayName(u)
		}
	}
	m := mail.Invitation(to.Email, n.baseURL, inv.TeamName, inviter, inv.Message, inv.CreatedAt.Add(n.ttl))
	return n.mailer.Send(ctx, m)
}

func displayName(u *db.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Record appends e to the activity log.
func (n *Notifier) Record(ctx context.Context, e events.Event) error {
	if unlogged[e.Type] {
		return nil
	}
	var changes json.RawMessage
	if len(e.Changes) > 0 {
		b, err := json.Marshal(e.Changes)
		if err != nil {
			return fmt.Errorf("encode changes of %s: %w", e.ID, err)
		}
		changes = b
	}
	_, err := n.store.AppendActivity(ctx, db.Activity{
		EventID:     e.ID,
		UserID:      e.ActorID,
		Action:      string(e.Type),
		Target:      e.Target,
		ProjectID:   e.ProjectID,
		Description: e.Title,
		Changes:     changes,
	})
	return err
}
