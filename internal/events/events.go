// Package events carries domain events from the service to the
// collaborators that react to them (notifications, the activity log,
// e-mail). Emitting never blocks and never fails the operation that
// emitted; delivery happens on the Bus workers after the mutating
// transaction has committed.
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kidandcat/workboard/internal/ref"
)

// Type names what happened.
type Type string

const (
	ProjectCreated     Type = "project.created"
	ProjectUpdated     Type = "project.updated"
	ProjectDeleted     Type = "project.deleted"
	MemberAdded        Type = "project.member_added"
	MemberRoleChanged  Type = "project.member_role_changed"
	MemberRemoved      Type = "project.member_removed"
	TeamAssigned       Type = "project.team_assigned"
	TeamUnassigned     Type = "project.team_unassigned"
	TaskCreated        Type = "task.created"
	TaskUpdated        Type = "task.updated"
	TaskStatusChanged  Type = "task.status_changed"
	TaskReopened       Type = "task.reopened"
	TaskAssigned       Type = "task.assigned"
	TaskDeleted        Type = "task.deleted"
	TaskOverdue        Type = "task.overdue"
	TaskDueSoon        Type = "task.due_soon"
	DependencyAdded    Type = "task.dependency_added"
	DependencyRemoved  Type = "task.dependency_removed"
	TeamCreated        Type = "team.created"
	TeamUpdated        Type = "team.updated"
	TeamDeleted        Type = "team.deleted"
	TeamMemberJoined   Type = "team.member_joined"
	TeamMemberLeft     Type = "team.member_left"
	InvitationSent     Type = "invitation.sent"
	InvitationAccepted Type = "invitation.accepted"
	InvitationDeclined Type = "invitation.declined"
	InvitationExpired  Type = "invitation.expired"
	CommentCreated     Type = "comment.created"
	CommentUpdated     Type = "comment.updated"
	CommentDeleted     Type = "comment.deleted"
	Mentioned          Type = "comment.mentioned"
	AttachmentUploaded Type = "attachment.uploaded"
	AttachmentDeleted  Type = "attachment.deleted"
)

// Event is one state change worth telling someone about. ID is the
// idempotency key: every consumer dedupes on it, so redelivering an
// event is harmless.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	ActorID    int64          `json:"actor_id,omitempty"`
	Target     ref.Ref        `json:"target"`
	ProjectID  int64          `json:"project_id,omitempty"`
	Recipients []int64        `json:"recipients,omitempty"`
	Title      string         `json:"title"`
	Message    string         `json:"message,omitempty"`
	Changes    map[string]any `json:"changes,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// New returns an event with a fresh random ID.
func New(t Type, actorID int64, target ref.Ref) Event {
	return Event{ID: uuid.NewString(), Type: t, ActorID: actorID, Target: target}
}

// DeterministicID derives a stable event ID from parts, for events a job
// may raise more than once (a reminder per task per day).
func DeterministicID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "|"))).String()
}

// Sink accepts events. Emit must not block on delivery.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(context.Context, Event) {}

// Recorder is a Sink that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
