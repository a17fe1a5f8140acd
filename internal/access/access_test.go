package access

import (
	"testing"
)

const (
	alice int64 = 1 // owner
	bob   int64 = 2 // explicit contributor
	carol int64 = 3 // team-linked
	dave  int64 = 4 // no relation
	erin  int64 = 5 // manager
)

func sampleProject() ProjectFacts {
	return ProjectFacts{
		OwnerID:   alice,
		ManagerID: erin,
		Members:   map[int64]Role{bob: RoleContributor},
		TeamLinks: []TeamLink{{
			TeamID:   10,
			LeaderID: 99,
			Members:  map[int64]TeamRole{carol: TeamMember},
		}},
	}
}

func TestRoleSet(t *testing.T) {
	s := NewRoleSet(RoleViewer, RoleAssignee, RoleNone)
	if !s.Has(RoleViewer) || !s.Has(RoleAssignee) || s.Has(RoleNone) {
		t.Fatalf("set = %v", s)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	if s.Highest() != RoleViewer {
		t.Errorf("Highest = %v, want viewer", s.Highest())
	}
	if s.AtLeast(RoleContributor) {
		t.Error("viewer satisfies AtLeast(contributor)")
	}
	if s.AtLeast(RoleAssignee) {
		t.Error("AtLeast accepted a relational role")
	}
	if got := NewRoleSet(RoleOwner, RoleViewer).Highest(); got != RoleOwner {
		t.Errorf("Highest = %v, want owner", got)
	}
	if got := s.String(); got != "{viewer,assignee}" {
		t.Errorf("String = %q", got)
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole(" Contributor "); err != nil || r != RoleContributor {
		t.Errorf("ParseRole = %v, %v", r, err)
	}
	if _, err := ParseRole("none"); err == nil {
		t.Error("ParseRole(none) succeeded")
	}
	if _, err := ParseMemberRole("owner"); err == nil {
		t.Error("owner accepted as a membership role")
	}
	if _, err := ParseMemberRole("assignee"); err == nil {
		t.Error("assignee accepted as a membership role")
	}
}

func TestProjectRoles(t *testing.T) {
	g := NewGraph(nil)
	p := sampleProject()

	tests := []struct {
		name string
		user int64
		want RoleSet
	}{
		{"owner without member row", alice, NewRoleSet(RoleOwner)},
		{"explicit member", bob, NewRoleSet(RoleContributor)},
		{"team transitive", carol, NewRoleSet(RoleViewer)},
		{"manager", erin, NewRoleSet(RoleAdmin)},
		{"team leader maps as lead", 99, NewRoleSet(RoleContributor)},
		{"no relation", dave, 0},
		{"anonymous", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.ProjectRoles(tt.user, p); got != tt.want {
				t.Errorf("ProjectRoles = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProjectRolesHighestWins(t *testing.T) {
	g := NewGraph(TeamRoleMapping{TeamMember: RoleAdmin})
	p := sampleProject()
	p.Members[carol] = RoleViewer

	roles := g.ProjectRoles(carol, p)
	if roles != NewRoleSet(RoleViewer, RoleAdmin) {
		t.Fatalf("roles = %v", roles)
	}
	if roles.Highest() != RoleAdmin {
		t.Errorf("Highest = %v, want admin", roles.Highest())
	}
	if !IsAllowed(roles, ActionAddMember, ResourceProject) {
		t.Error("team-granted admin cannot add members")
	}
}

func TestProjectRolesIdempotent(t *testing.T) {
	g := NewGraph(nil)
	p := sampleProject()
	first := g.ProjectRoles(carol, p)
	second := g.ProjectRoles(carol, p)
	if first != second {
		t.Errorf("repeated resolution differs: %v vs %v", first, second)
	}
	if len(p.Members) != 1 || len(p.TeamLinks[0].Members) != 1 {
		t.Error("resolution mutated its facts")
	}
}

func TestUnrelatedUserDeniedEverything(t *testing.T) {
	g := NewGraph(nil)
	roles := g.ProjectRoles(dave, sampleProject())
	if !roles.Empty() {
		t.Fatalf("roles = %v, want empty", roles)
	}
	for resource, actions := range policy {
		for action := range actions {
			if IsAllowed(roles, action, resource) {
				t.Errorf("empty role set allowed %s/%s", resource, action)
			}
		}
	}
}

func TestTaskRoles(t *testing.T) {
	g := NewGraph(nil)
	facts := TaskFacts{Project: sampleProject(), AssigneeID: dave, CreatorID: bob}

	if got := g.TaskRoles(dave, facts); got != NewRoleSet(RoleAssignee) {
		t.Errorf("assignee roles = %v", got)
	}
	if got := g.TaskRoles(bob, facts); got != NewRoleSet(RoleContributor, RoleCreator) {
		t.Errorf("creator roles = %v", got)
	}
}

func TestTeamAndInvitationRoles(t *testing.T) {
	g := NewGraph(nil)
	team := TeamFacts{LeaderID: alice, Members: map[int64]TeamRole{bob: TeamJunior, carol: TeamLead}}

	if got := g.TeamRoles(alice, team); got != NewRoleSet(RoleOwner) {
		t.Errorf("leader = %v", got)
	}
	if got := g.TeamRoles(bob, team); got != NewRoleSet(RoleViewer) {
		t.Errorf("junior = %v", got)
	}
	if got := g.TeamRoles(carol, team); got != NewRoleSet(RoleAdmin) {
		t.Errorf("lead member = %v", got)
	}
	if got := g.TeamRoles(dave, team); !got.Empty() {
		t.Errorf("outsider = %v", got)
	}
	team.Open = true
	if got := g.TeamRoles(dave, team); got != NewRoleSet(RoleViewer) {
		t.Errorf("outsider on open team = %v", got)
	}
	if got := g.InvitationRoles(dave, TeamFacts{}, dave); got != NewRoleSet(RoleInvitee) {
		t.Errorf("invitee = %v", got)
	}
}

func TestParseTeamRoleMapping(t *testing.T) {
	m, err := ParseTeamRoleMapping(map[string]string{"lead": "admin"})
	if err != nil {
		t.Fatalf("ParseTeamRoleMapping: %v", err)
	}
	if m[TeamLead] != RoleAdmin || m[TeamJunior] != RoleViewer {
		t.Errorf("mapping = %v", m)
	}
	for _, raw := range []map[string]string{
		{"captain": "viewer"},
		{"lead": "emperor"},
		{"lead": "owner"},
		{"lead": "assignee"},
	} {
		if _, err := ParseTeamRoleMapping(raw); err == nil {
			t.Errorf("ParseTeamRoleMapping(%v) succeeded", raw)
		}
	}
}

func TestPolicy(t *testing.T) {
	tests := []struct {
		name     string
		roles    RoleSet
		resource Resource
		action   Action
		want     bool
	}{
		{"owner deletes project", NewRoleSet(RoleOwner), ResourceProject, ActionDelete, true},
		{"admin cannot delete project", NewRoleSet(RoleAdmin), ResourceProject, ActionDelete, false},
		{"contributor cannot delete project", NewRoleSet(RoleContributor), ResourceProject, ActionDelete, false},
		{"admin removes member", NewRoleSet(RoleAdmin), ResourceProject, ActionRemoveMember, true},
		{"owner removes member", NewRoleSet(RoleOwner), ResourceProject, ActionRemoveMember, true},
		{"contributor cannot remove member", NewRoleSet(RoleContributor), ResourceProject, ActionRemoveMember, false},
		{"viewer views", NewRoleSet(RoleViewer), ResourceProject, ActionView, true},
		{"viewer cannot create task", NewRoleSet(RoleViewer), ResourceProject, ActionCreateTask, false},
		{"assignee transitions", NewRoleSet(RoleAssignee), ResourceTask, ActionTransition, true},
		{"contributor cannot transition others", NewRoleSet(RoleContributor), ResourceTask, ActionTransition, false},
		{"creator reopens", NewRoleSet(RoleCreator), ResourceTask, ActionReopen, true},
		{"assignee cannot reopen", NewRoleSet(RoleAssignee), ResourceTask, ActionReopen, false},
		{"invitee accepts", NewRoleSet(RoleInvitee), ResourceInvitation, ActionAccept, true},
		{"team owner cannot accept for invitee", NewRoleSet(RoleOwner), ResourceInvitation, ActionAccept, false},
		{"author edits comment", NewRoleSet(RoleAuthor), ResourceComment, ActionUpdate, true},
		{"admin cannot edit comment", NewRoleSet(RoleAdmin), ResourceComment, ActionUpdate, false},
		{"admin deletes comment", NewRoleSet(RoleAdmin), ResourceComment, ActionDelete, true},
		{"unknown action", NewRoleSet(RoleOwner), ResourceProject, Action("launch"), false},
		{"unknown resource", NewRoleSet(RoleOwner), Resource("rocket"), ActionView, false},
		{"manage users needs bypass", NewRoleSet(RoleOwner), ResourceWorkspace, ActionManageUsers, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAllowed(tt.roles, tt.action, tt.resource); got != tt.want {
				t.Errorf("IsAllowed(%v, %s, %s) = %v, want %v", tt.roles, tt.action, tt.resource, got, tt.want)
			}
		})
	}
}

func TestAuthorizeSuperuserBypass(t *testing.T) {
	superuser := Subject{UserID: 42, Superuser: true}
	d := Authorize(superuser, 0, ResourceTask, ActionDelete)
	if !d.Allowed || !d.Bypass {
		t.Errorf("superuser decision = %+v", d)
	}
	d = Authorize(superuser, 0, Resource("rocket"), Action("launch"))
	if !d.Allowed {
		t.Errorf("superuser denied unknown pair: %+v", d)
	}

	regular := Subject{UserID: 42}
	d = Authorize(regular, NewRoleSet(RoleOwner), Resource("rocket"), Action("launch"))
	if d.Allowed || d.Bypass {
		t.Errorf("unknown pair allowed: %+v", d)
	}
	d = Authorize(regular, NewRoleSet(RoleOwner), ResourceProject, ActionDelete)
	if !d.Allowed || d.Bypass {
		t.Errorf("owner delete = %+v", d)
	}
}
