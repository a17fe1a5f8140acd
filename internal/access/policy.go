package access

// Resource is the kind of entity a policy rule guards.
type Resource string

const (
	ResourceWorkspace    Resource = "workspace"
	ResourceProject      Resource = "project"
	ResourceTask         Resource = "task"
	ResourceTeam         Resource = "team"
	ResourceInvitation   Resource = "invitation"
	ResourceComment      Resource = "comment"
	ResourceAttachment   Resource = "attachment"
	ResourceNotification Resource = "notification"
)

// Action is an operation on a resource.
type Action string

const (
	ActionView          Action = "view"
	ActionCreate        Action = "create"
	ActionUpdate        Action = "update"
	ActionDelete        Action = "delete"
	ActionListMembers   Action = "list_members"
	ActionAddMember     Action = "add_member"
	ActionRemoveMember  Action = "remove_member"
	ActionAssignTeam    Action = "assign_team"
	ActionCreateTask    Action = "create_task"
	ActionManageLists   Action = "manage_lists"
	ActionManageLabels  Action = "manage_labels"
	ActionViewActivity  Action = "view_activity"
	ActionComment       Action = "comment"
	ActionUpload        Action = "upload"
	ActionTransition    Action = "transition"
	ActionReopen        Action = "reopen"
	ActionAssign        Action = "assign"
	ActionManageDeps    Action = "manage_dependencies"
	ActionInvite        Action = "invite"
	ActionJoin          Action = "join"
	ActionLeave         Action = "leave"
	ActionAccept        Action = "accept"
	ActionDecline       Action = "decline"
	ActionReact         Action = "react"
	ActionDownload      Action = "download"
	ActionMarkRead      Action = "mark_read"
	ActionCreateProject Action = "create_project"
	ActionCreateTeam    Action = "create_team"
	ActionListUsers     Action = "list_users"
	ActionManageUsers   Action = "manage_users"
	ActionListAll       Action = "list_all"
)

// Rule is satisfied when the role set holds an ordered role of at
// least Min, or any role in Any. A zero Rule is satisfied by nothing,
// which leaves the action to the superuser bypass.
type Rule struct {
	Min Role
	Any RoleSet
}

// Satisfied reports whether roles meet r.
func (r Rule) Satisfied(roles RoleSet) bool {
	if r.Min != RoleNone && roles.AtLeast(r.Min) {
		return true
	}
	return roles.Intersects(r.Any)
}

func atLeast(r Role) Rule                  { return Rule{Min: r} }
func only(roles ...Role) Rule              { return Rule{Any: NewRoleSet(roles...)} }
func atLeastOr(r Role, roles ...Role) Rule { return Rule{Min: r, Any: NewRoleSet(roles...)} }

// policy is the complete rule table. Pairs missing from it are denied.
var policy = map[Resource]map[Action]Rule{
	ResourceWorkspace: {
		ActionCreateProject: atLeast(RoleContributor),
		ActionCreateTeam:    atLeast(RoleContributor),
		ActionListUsers:     atLeast(RoleViewer),
		ActionManageUsers:   {},
		ActionListAll:       {},
	},
	ResourceProject: {
		ActionView:         atLeast(RoleViewer),
		ActionUpdate:       atLeast(RoleAdmin),
		ActionDelete:       only(RoleOwner),
		ActionListMembers:  atLeast(RoleViewer),
		ActionAddMember:    atLeast(RoleAdmin),
		ActionRemoveMember: atLeast(RoleAdmin),
		ActionAssignTeam:   atLeast(RoleAdmin),
		ActionCreateTask:   atLeast(RoleContributor),
		ActionManageLists:  atLeast(RoleContributor),
		ActionManageLabels: atLeast(RoleContributor),
		ActionViewActivity: atLeast(RoleViewer),
		ActionComment:      atLeast(RoleViewer),
		ActionUpload:       atLeast(RoleContributor),
	},
	ResourceTask: {
		ActionView:         atLeast(RoleViewer),
		ActionUpdate:       atLeastOr(RoleContributor, RoleCreator, RoleAssignee),
		ActionDelete:       atLeastOr(RoleAdmin, RoleCreator),
		ActionTransition:   atLeastOr(RoleAdmin, RoleAssignee),
		ActionReopen:       atLeastOr(RoleAdmin, RoleCreator),
		ActionAssign:       atLeastOr(RoleAdmin, RoleCreator),
		ActionManageDeps:   atLeastOr(RoleContributor, RoleAssignee),
		ActionManageLabels: atLeastOr(RoleContributor, RoleAssignee),
		ActionComment:      atLeast(RoleViewer),
		ActionUpload:       atLeastOr(RoleContributor, RoleAssignee),
	},
	ResourceTeam: {
		ActionView:         atLeast(RoleViewer),
		ActionUpdate:       atLeast(RoleAdmin),
		ActionDelete:       only(RoleOwner),
		ActionListMembers:  atLeast(RoleViewer),
		ActionAddMember:    atLeast(RoleAdmin),
		ActionRemoveMember: atLeast(RoleAdmin),
		ActionInvite:       atLeast(RoleAdmin),
		ActionJoin:         atLeast(RoleViewer),
		ActionLeave:        atLeast(RoleViewer),
	},
	ResourceInvitation: {
		ActionView:    atLeastOr(RoleAdmin, RoleInvitee),
		ActionAccept:  only(RoleInvitee),
		ActionDecline: only(RoleInvitee),
	},
	ResourceComment: {
		ActionView:    atLeast(RoleViewer),
		ActionUpdate:  only(RoleAuthor),
		ActionDelete:  atLeastOr(RoleAdmin, RoleAuthor),
		ActionReact:   atLeast(RoleViewer),
		ActionComment: atLeast(RoleViewer),
		ActionUpload:  only(RoleAuthor),
	},
	ResourceAttachment: {
		ActionView:     atLeastOr(RoleViewer, RoleUploader),
		ActionDownload: atLeastOr(RoleViewer, RoleUploader),
		ActionDelete:   atLeastOr(RoleAdmin, RoleUploader),
	},
	ResourceNotification: {
		ActionView:     only(RoleRecipient),
		ActionMarkRead: only(RoleRecipient),
	},
}

// IsAllowed reports whether roles permit action on resource according
// to the policy table. Unknown resource/action pairs are denied.
func IsAllowed(roles RoleSet, action Action, resource Resource) bool {
	rule, ok := policy[resource][action]
	if !ok {
		return false
	}
	return rule.Satisfied(roles)
}

// RuleFor returns the rule for a resource/action pair and whether one
// exists.
func RuleFor(resource Resource, action Action) (Rule, bool) {
	rule, ok := policy[resource][action]
	return rule, ok
}
