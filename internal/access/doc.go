// Package access decides who may act on which resource.
//
// It has two halves. The membership Graph resolves the set of roles a
// user holds on a resource from loaded relationship facts:
//
//   - direct ownership (project owner, team leader) grants owner,
//   - a project manager designation grants admin,
//   - explicit ProjectMember / TeamMembership rows grant their role,
//   - membership in a team assigned to a project grants the project
//     role configured in TeamRoleMapping,
//   - direct relations to a single entity (assignee, creator, author,
//     uploader, invitee, recipient) grant the matching relational role.
//
// Sources are unioned. Because checks ask "does the set hold a role of
// at least X", the highest role from any source wins.
//
// The policy table maps (Resource, Action) to a Rule. Pairs not in the
// table are denied. Authorize wraps the table with the one superuser
// override.
package access
