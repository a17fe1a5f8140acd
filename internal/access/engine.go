package access

// Subject is the authenticated user an authorization check runs for.
type Subject struct {
	UserID    int64
	Superuser bool
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool

	// Bypass is set when the superuser override allowed the action
	// without consulting the policy table.
	Bypass bool

	// Reason is a short human-readable explanation, for logs.
	Reason string
}

// Authorize decides whether subject may perform action on a resource
// for which it holds roles.
//
// The superuser check below is the only override in the system. Nothing
// else may special-case superusers.
func Authorize(subject Subject, roles RoleSet, resource Resource, action Action) Decision {
	if subject.Superuser {
		return Decision{Allowed: true, Bypass: true, Reason: "superuser"}
	}
	rule, ok := RuleFor(resource, action)
	if !ok {
		return Decision{Reason: "no rule for " + string(resource) + "/" + string(action)}
	}
	if !rule.Satisfied(roles) {
		return Decision{Reason: "roles " + roles.String() + " do not satisfy " + string(resource) + "/" + string(action)}
	}
	return Decision{Allowed: true, Reason: "roles " + roles.String()}
}
