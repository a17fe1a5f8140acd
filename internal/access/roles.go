package access

import (
	"fmt"
	"math/bits"
	"strings"
)

// Role is a permission level a user holds relative to one resource.
//
// Viewer through Owner are totally ordered. The relational roles after
// them (Assignee, Creator, ...) name a specific relationship and do not
// compare with the ordered ones or with each other.
type Role uint8

const (
	RoleNone Role = iota
	RoleViewer
	RoleContributor
	RoleAdmin
	RoleOwner

	RoleAssignee
	RoleCreator
	RoleAuthor
	RoleUploader
	RoleInvitee
	RoleRecipient

	roleCount
)

var roleNames = [roleCount]string{
	RoleNone:        "none",
	RoleViewer:      "viewer",
	RoleContributor: "contributor",
	RoleAdmin:       "admin",
	RoleOwner:       "owner",
	RoleAssignee:    "assignee",
	RoleCreator:     "creator",
	RoleAuthor:      "author",
	RoleUploader:    "uploader",
	RoleInvitee:     "invitee",
	RoleRecipient:   "recipient",
}

func (r Role) String() string {
	if r < roleCount {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Ordered reports whether r takes part in the viewer < contributor <
// admin < owner hierarchy.
func (r Role) Ordered() bool { return r >= RoleViewer && r <= RoleOwner }

// ParseRole reads a role name as stored in membership rows and config.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for r := RoleViewer; r < roleCount; r++ {
		if roleNames[r] == name {
			return r, nil
		}
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

// ParseMemberRole reads a role that may be stored on a ProjectMember
// row. Owner is implied by Project.owner and never stored.
func ParseMemberRole(s string) (Role, error) {
	r, err := ParseRole(s)
	if err != nil {
		return RoleNone, err
	}
	if r != RoleViewer && r != RoleContributor && r != RoleAdmin {
		return RoleNone, fmt.Errorf("role %q cannot be granted through membership", s)
	}
	return r, nil
}

// RoleSet is the set of roles a user holds for one resource.
type RoleSet uint16

// NewRoleSet returns a set holding roles. RoleNone is ignored.
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s = s.Add(r)
	}
	return s
}

// Add returns s with r added.
func (s RoleSet) Add(r Role) RoleSet {
	if r == RoleNone || r >= roleCount {
		return s
	}
	return s | 1<<r
}

// Has reports whether r is in s.
func (s RoleSet) Has(r Role) bool { return r != RoleNone && r < roleCount && s&(1<<r) != 0 }

// Union returns every role in s or o.
func (s RoleSet) Union(o RoleSet) RoleSet { return s | o }

// Intersects reports whether s and o share a role.
func (s RoleSet) Intersects(o RoleSet) bool { return s&o != 0 }

// Empty reports whether s holds no roles.
func (s RoleSet) Empty() bool { return s == 0 }

// Len returns the number of roles in s.
func (s RoleSet) Len() int { return bits.OnesCount16(uint16(s)) }

// Highest returns the highest ordered role in s, or RoleNone.
func (s RoleSet) Highest() Role {
	for r := RoleOwner; r >= RoleViewer; r-- {
		if s.Has(r) {
			return r
		}
	}
	return RoleNone
}

// AtLeast reports whether s holds an ordered role >= min.
func (s RoleSet) AtLeast(min Role) bool {
	if !min.Ordered() {
		return false
	}
	return s.Highest() >= min
}

// Roles lists the members of s in enumeration order.
func (s RoleSet) Roles() []Role {
	var out []Role
	for r := RoleViewer; r < roleCount; r++ {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s RoleSet) String() string {
	return "{" + strings.Join(s.Names(), ",") + "}"
}

// Names lists the role names in s, for API responses.
func (s RoleSet) Names() []string {
	roles := s.Roles()
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.String()
	}
	return names
}
