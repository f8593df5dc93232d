package authz

import "strings"

// Role names. The matrix is keyed by these; unknown roles grant nothing.
const (
	RoleOwner     = "owner"
	RoleAdmin     = "admin"
	RoleDeveloper = "developer"
	RoleViewer    = "viewer"
	RoleGuest     = "guest"
)

// Actions. ActionAny is the wildcard grant action.
const (
	ActionAny             = "*"
	ActionSecretsRead     = "secrets.read"
	ActionSecretsWrite    = "secrets.write"
	ActionSecretsDelete   = "secrets.delete"
	ActionSecretValueRead = "secret.value.read"
	ActionSecretsRotate   = "secrets.rotate"
	ActionBranchesManage  = "branches.manage"
	ActionUsersManage     = "users.manage"
)

// Resources.
const (
	ResourceSecret  = "secret"
	ResourceBranch  = "branch"
	ResourceProject = "project"
	ResourceUser    = "user"
)

// EnvironmentAll is the wildcard environment. Matching is exact-or-wildcard,
// never partial.
const EnvironmentAll = "all"

// Constraint is a closed set of per-grant conditions. New kinds must be
// added here and handled in Engine.Authorize; an unrecognized value never
// silently grants.
type Constraint int

const (
	ConstraintNone Constraint = iota
	ConstraintRequireJIT
	ConstraintRequireDualAuth
)

func (c Constraint) String() string {
	switch c {
	case ConstraintNone:
		return "none"
	case ConstraintRequireJIT:
		return "require_jit"
	case ConstraintRequireDualAuth:
		return "require_dual_auth"
	default:
		return "unknown"
	}
}

// ParseConstraint maps a config string to a Constraint.
func ParseConstraint(s string) (Constraint, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ConstraintNone, true
	case "require_jit", "requires_jit", "jit":
		return ConstraintRequireJIT, true
	case "require_dual_auth", "requires_dual_auth", "dual_auth":
		return ConstraintRequireDualAuth, true
	}
	return ConstraintNone, false
}

// RoleGrant binds a role to one (action, resource) pair with an environment
// scope and an optional constraint.
type RoleGrant struct {
	Role         string
	Action       string
	Resource     string
	Environments []string // ["all"] or an explicit set
	Constraint   Constraint
}

// MatchesAction reports whether the grant covers the requested action,
// either exactly or via the wildcard action.
func (g RoleGrant) MatchesAction(action string) bool {
	return g.Action == ActionAny || g.Action == action
}

// MatchesEnvironment reports whether the grant covers the requested
// environment: the grant lists "all", or the environment is an exact member
// of the grant's set. No partial-overlap semantics.
func (g RoleGrant) MatchesEnvironment(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	if env == "" {
		env = EnvironmentAll
	}
	for _, e := range g.Environments {
		if e == EnvironmentAll || strings.EqualFold(e, env) {
			return true
		}
	}
	return false
}

// MatchesResource is an exact match on the resource kind.
func (g RoleGrant) MatchesResource(resource string) bool {
	return strings.EqualFold(g.Resource, resource)
}
