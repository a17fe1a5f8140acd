package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/kidandcat/workboard/internal/apperr"
)

// InvitationStatus is the state of a team invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationExpired  InvitationStatus = "expired"
)

// DefaultInvitationTTL is how long a pending invitation stays valid.
const DefaultInvitationTTL = 7 * 24 * time.Hour

// ParseInvitationStatus reads a status name.
func ParseInvitationStatus(s string) (InvitationStatus, error) {
	switch st := InvitationStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case InvitationPending, InvitationAccepted, InvitationDeclined, InvitationExpired:
		return st, nil
	}
	return "", apperr.Invalid("status", "unknown invitation status %q", s)
}

// Terminal reports whether s accepts no further transitions.
func (s InvitationStatus) Terminal() bool { return s != InvitationPending }

// IsInvitationExpired reports whether an invitation created at createdAt
// is past its window at now. The boundary instant itself is still valid.
func IsInvitationExpired(createdAt, now time.Time, ttl time.Duration) bool {
	return now.After(createdAt.Add(ttl))
}

// EffectiveInvitationStatus is the status a reader should see: a stored
// pending invitation past its window reads as expired even before the
// sweep has rewritten it.
func EffectiveInvitationStatus(stored InvitationStatus, createdAt, now time.Time, ttl time.Duration) InvitationStatus {
	if stored == InvitationPending && IsInvitationExpired(createdAt, now, ttl) {
		return InvitationExpired
	}
	return stored
}

// CheckInvitationResponse reports whether an invitation in stored
// status may be answered with to (accepted or declined) at now. An
// invitation somebody already answered is a lost race and reports
// apperr.ErrConflict; an expired one is an invalid transition.
func CheckInvitationResponse(stored InvitationStatus, createdAt time.Time, to InvitationStatus, now time.Time, ttl time.Duration) error {
	if to != InvitationAccepted && to != InvitationDeclined {
		return &apperr.TransitionError{Entity: "invitation", From: string(stored), To: string(to), Reason: "invitees may only accept or decline"}
	}
	if stored == InvitationAccepted || stored == InvitationDeclined {
		return fmt.Errorf("invitation already %s: %w", stored, apperr.ErrConflict)
	}
	current := EffectiveInvitationStatus(stored, createdAt, now, ttl)
	if current != InvitationPending {
		return &apperr.TransitionError{Entity: "invitation", From: string(current), To: string(to), Reason: "invitation is no longer pending"}
	}
	return nil
}
