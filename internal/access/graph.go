package access

import (
	"fmt"
	"strings"
)

// TeamRole is a user's role inside a team.
type TeamRole string

const (
	TeamLead   TeamRole = "lead"
	TeamSenior TeamRole = "senior"
	TeamMember TeamRole = "member"
	TeamJunior TeamRole = "junior"
)

// ParseTeamRole reads a team role name.
func ParseTeamRole(s string) (TeamRole, error) {
	switch r := TeamRole(strings.ToLower(strings.TrimSpace(s))); r {
	case TeamLead, TeamSenior, TeamMember, TeamJunior:
		return r, nil
	}
	return "", fmt.Errorf("unknown team role %q", s)
}

// teamResourceRoles is the role a team membership grants on the team
// itself. Unlike TeamRoleMapping it is not configurable.
var teamResourceRoles = map[TeamRole]Role{
	TeamLead:   RoleAdmin,
	TeamSenior: RoleContributor,
	TeamMember: RoleContributor,
	TeamJunior: RoleViewer,
}

// TeamRoleMapping maps a team role to the project role it grants on
// every project the team is assigned to.
type TeamRoleMapping map[TeamRole]Role

// DefaultTeamRoleMapping is used when configuration does not override
// the mapping.
func DefaultTeamRoleMapping() TeamRoleMapping {
	return TeamRoleMapping{
		TeamLead:   RoleContributor,
		TeamSenior: RoleContributor,
		TeamMember: RoleViewer,
		TeamJunior: RoleViewer,
	}
}

// ParseTeamRoleMapping reads a mapping from configuration, e.g.
// {"lead": "admin", "member": "contributor"}. Team roles absent from
// raw keep their default.
func ParseTeamRoleMapping(raw map[string]string) (TeamRoleMapping, error) {
	m := DefaultTeamRoleMapping()
	for teamName, projectName := range raw {
		teamRole, err := ParseTeamRole(teamName)
		if err != nil {
			return nil, err
		}
		projectRole, err := ParseRole(projectName)
		if err != nil {
			return nil, err
		}
		if projectRole == RoleOwner || !projectRole.Ordered() {
			return nil, fmt.Errorf("team role %q cannot map to project role %q", teamName, projectName)
		}
		m[teamRole] = projectRole
	}
	return m, nil
}

// TeamLink is one team assigned to a project, with the memberships
// relevant to the check.
type TeamLink struct {
	TeamID   int64
	LeaderID int64
	Members  map[int64]TeamRole
}

// ProjectFacts are the loaded relationships of a project. Loaders may
// restrict Members and TeamLinks to the subject; the resolvers give the
// same answer either way.
type ProjectFacts struct {
	OwnerID   int64
	ManagerID int64
	Members   map[int64]Role
	TeamLinks []TeamLink
}

// TaskFacts are the relationships of a task: its project plus the
// users directly attached to it.
type TaskFacts struct {
	Project    ProjectFacts
	AssigneeID int64
	CreatorID  int64
}

// TeamFacts are the relationships of a team.
type TeamFacts struct {
	LeaderID int64
	Open     bool
	Members  map[int64]TeamRole
}

// Graph resolves the roles a user holds on a resource. Every method is
// a pure function of its arguments.
type Graph struct {
	teamToProject TeamRoleMapping
}

// NewGraph returns a Graph using mapping for team-transitive project
// roles. A nil mapping selects DefaultTeamRoleMapping.
func NewGraph(mapping TeamRoleMapping) *Graph {
	m := DefaultTeamRoleMapping()
	for k, v := range mapping {
		m[k] = v
	}
	return &Graph{teamToProject: m}
}

// ProjectRoles unions the roles userID holds on a project through
// ownership, the manager designation, a ProjectMember row, and
// membership in an assigned team. A user with no relation gets the
// empty set.
func (g *Graph) ProjectRoles(userID int64, p ProjectFacts) RoleSet {
	var roles RoleSet
	if userID == 0 {
		return roles
	}
	if p.OwnerID == userID {
		roles = roles.Add(RoleOwner)
	}
	if p.ManagerID == userID {
		roles = roles.Add(RoleAdmin)
	}
	if r, ok := p.Members[userID]; ok {
		roles = roles.Add(r)
	}
	for _, link := range p.TeamLinks {
		teamRole, ok := link.Members[userID]
		if link.LeaderID == userID {
			teamRole, ok = TeamLead, true
		}
		if !ok {
			continue
		}
		roles = roles.Add(g.teamToProject[teamRole])
	}
	return roles
}

// TaskRoles is ProjectRoles for the task's project plus assignee and
// creator.
func (g *Graph) TaskRoles(userID int64, t TaskFacts) RoleSet {
	roles := g.ProjectRoles(userID, t.Project)
	if userID == 0 {
		return roles
	}
	if t.AssigneeID == userID {
		roles = roles.Add(RoleAssignee)
	}
	if t.CreatorID == userID {
		roles = roles.Add(RoleCreator)
	}
	return roles
}

// TeamRoles resolves roles on a team. The leader owns the team; open
// teams are visible to everyone.
func (g *Graph) TeamRoles(userID int64, t TeamFacts) RoleSet {
	var roles RoleSet
	if userID == 0 {
		return roles
	}
	if t.LeaderID == userID {
		roles = roles.Add(RoleOwner)
	}
	if r, ok := t.Members[userID]; ok {
		roles = roles.Add(teamResourceRoles[r])
	}
	if t.Open {
		roles = roles.Add(RoleViewer)
	}
	return roles
}

// InvitationRoles is TeamRoles for the inviting team plus invitee.
func (g *Graph) InvitationRoles(userID int64, team TeamFacts, inviteeID int64) RoleSet {
	roles := g.TeamRoles(userID, team)
	if userID != 0 && inviteeID == userID {
		roles = roles.Add(RoleInvitee)
	}
	return roles
}

// CommentRoles adds author to the roles held on the comment's target.
func (g *Graph) CommentRoles(userID int64, target RoleSet, authorID int64) RoleSet {
	if userID != 0 && authorID == userID {
		target = target.Add(RoleAuthor)
	}
	return target
}

// AttachmentRoles adds uploader to the roles held on the attachment's
// target.
func (g *Graph) AttachmentRoles(userID int64, target RoleSet, uploaderID int64) RoleSet {
	if userID != 0 && uploaderID == userID {
		target = target.Add(RoleUploader)
	}
	return target
}

// NotificationRoles grants recipient to the notification's target user.
func (g *Graph) NotificationRoles(userID, recipientID int64) RoleSet {
	if userID != 0 && recipientID == userID {
		return NewRoleSet(RoleRecipient)
	}
	return 0
}

// Global user roles stored on the user record.
const (
	GlobalAdmin   = "admin"
	GlobalManager = "manager"
	GlobalMember  = "member"
	GlobalClient  = "client"
)

// ValidGlobalRole reports whether s is a stored global role.
func ValidGlobalRole(s string) bool {
	switch s {
	case GlobalAdmin, GlobalManager, GlobalMember, GlobalClient:
		return true
	}
	return false
}

// WorkspaceRoles maps a global role onto the workspace resource that
// guards creation of top-level entities.
func (g *Graph) WorkspaceRoles(globalRole string) RoleSet {
	switch globalRole {
	case GlobalAdmin:
		return NewRoleSet(RoleOwner)
	case GlobalManager:
		return NewRoleSet(RoleAdmin)
	case GlobalMember:
		return NewRoleSet(RoleContributor)
	case GlobalClient:
		return NewRoleSet(RoleViewer)
	}
	return 0
}
