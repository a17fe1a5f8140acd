// Package ref identifies entities across tables. Comments, attachments,
// notifications and activity entries point at "any" entity through a
// Ref instead of a per-table foreign key.
package ref

import (
	"fmt"
	"strconv"
	"strings"
)

// Type names an entity table.
type Type string

const (
	Project      Type = "project"
	Task         Type = "task"
	Team         Type = "team"
	Invitation   Type = "invitation"
	Comment      Type = "comment"
	Attachment   Type = "attachment"
	Notification Type = "notification"
	User         Type = "user"
)

var known = map[Type]bool{
	Project: true, Task: true, Team: true, Invitation: true,
	Comment: true, Attachment: true, Notification: true, User: true,
}

// Valid reports whether t is a known entity type.
func (t Type) Valid() bool { return known[t] }

// Ref is a tagged reference to one entity.
type Ref struct {
	Type Type  `json:"type"`
	ID   int64 `json:"id"`
}

// New returns a Ref for the given type and id.
func New(t Type, id int64) Ref { return Ref{Type: t, ID: id} }

// IsZero reports whether r is the zero Ref.
func (r Ref) IsZero() bool { return r.Type == "" && r.ID == 0 }

// String renders r as "type:id".
func (r Ref) String() string {
	if r.IsZero() {
		return ""
	}
	return string(r.Type) + ":" + strconv.FormatInt(r.ID, 10)
}

// Parse reads a "type:id" reference.
func Parse(s string) (Ref, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok {
		return Ref{}, fmt.Errorf("ref %q: missing ':'", s)
	}
	return FromParts(typ, id)
}

// FromParts builds a Ref from a type name and a decimal id, as they
// arrive in query strings.
func FromParts(typ, id string) (Ref, error) {
	t := Type(strings.ToLower(strings.TrimSpace(typ)))
	if !t.Valid() {
		return Ref{}, fmt.Errorf("ref: unknown type %q", typ)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return Ref{}, fmt.Errorf("ref: invalid id %q", id)
	}
	return Ref{Type: t, ID: n}, nil
}
