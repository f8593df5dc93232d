package authz

import "strings"

// Matrix is the process-wide role/permission table, loaded once at startup
// and never mutated afterwards.
type Matrix struct {
	grants map[string][]RoleGrant // role -> grants
}

// NewMatrix builds a Matrix from a flat grant list. Role names are
// normalized to lowercase.
func NewMatrix(grants []RoleGrant) *Matrix {
	m := &Matrix{grants: make(map[string][]RoleGrant)}
	for _, g := range grants {
		role := strings.ToLower(strings.TrimSpace(g.Role))
		if role == "" {
			continue
		}
		if len(g.Environments) == 0 {
			g.Environments = []string{EnvironmentAll}
		}
		g.Role = role
		m.grants[role] = append(m.grants[role], g)
	}
	return m
}

// GrantsFor returns the grants configured for a role. Unknown roles return nil.
func (m *Matrix) GrantsFor(role string) []RoleGrant {
	return m.grants[strings.ToLower(strings.TrimSpace(role))]
}

// MaskToken replaces secret values when the value-read decision is not
// ALLOW. Masking shapes the response; it is not a denial and the read is
// still audited.
const MaskToken = "***"

// DefaultMatrix is the compiled-in role/permission table. Deployments can
// replace it wholesale from configuration; per-deployment partial edits are
// deliberately unsupported so the effective policy is always inspectable in
// one place.
func DefaultMatrix() *Matrix {
	return NewMatrix([]RoleGrant{
		// owner: everything, everywhere.
		{Role: RoleOwner, Action: ActionAny, Resource: ResourceSecret},
		{Role: RoleOwner, Action: ActionAny, Resource: ResourceBranch},
		{Role: RoleOwner, Action: ActionAny, Resource: ResourceProject},
		{Role: RoleOwner, Action: ActionAny, Resource: ResourceUser},

		// admin: everything except user management on the workspace.
		{Role: RoleAdmin, Action: ActionAny, Resource: ResourceSecret},
		{Role: RoleAdmin, Action: ActionAny, Resource: ResourceBranch},
		{Role: RoleAdmin, Action: ActionUsersManage, Resource: ResourceUser},

		// developer: full secret access in non-production, JIT-gated
		// writes and value reads in production.
		{Role: RoleDeveloper, Action: ActionSecretsRead, Resource: ResourceSecret},
		{Role: RoleDeveloper, Action: ActionSecretValueRead, Resource: ResourceSecret,
			Environments: []string{"development", "staging"}},
		{Role: RoleDeveloper, Action: ActionSecretsWrite, Resource: ResourceSecret,
			Environments: []string{"development", "staging"}},
		{Role: RoleDeveloper, Action: ActionSecretValueRead, Resource: ResourceSecret,
			Environments: []string{"production"}, Constraint: ConstraintRequireJIT},
		{Role: RoleDeveloper, Action: ActionSecretsWrite, Resource: ResourceSecret,
			Environments: []string{"production"}, Constraint: ConstraintRequireJIT},
		{Role: RoleDeveloper, Action: ActionSecretsRotate, Resource: ResourceSecret,
			Environments: []string{"development", "staging"}},
		{Role: RoleDeveloper, Action: ActionBranchesManage, Resource: ResourceBranch},

		// viewer: metadata only, in every environment.
		{Role: RoleViewer, Action: ActionSecretsRead, Resource: ResourceSecret},

		// guest: metadata in non-production only.
		{Role: RoleGuest, Action: ActionSecretsRead, Resource: ResourceSecret,
			Environments: []string{"development"}},
	})
}

// GrantConfig is the YAML/koanf shape for one grant row when the matrix is
// supplied from configuration.
type GrantConfig struct {
	Role         string   `koanf:"role" json:"role"`
	Action       string   `koanf:"action" json:"action"`
	Resource     string   `koanf:"resource" json:"resource"`
	Environments []string `koanf:"environments" json:"environments"`
	Constraint   string   `koanf:"constraint" json:"constraint"`
}

// MatrixFromConfig converts configured grant rows into a Matrix. Rows with
// an unknown constraint are skipped rather than silently weakened to an
// unconstrained grant.
func MatrixFromConfig(rows []GrantConfig) *Matrix {
	grants := make([]RoleGrant, 0, len(rows))
	for _, r := range rows {
		c, ok := ParseConstraint(r.Constraint)
		if !ok {
			continue
		}
		envs := make([]string, 0, len(r.Environments))
		for _, e := range r.Environments {
			envs = append(envs, strings.ToLower(strings.TrimSpace(e)))
		}
		grants = append(grants, RoleGrant{
			Role:         r.Role,
			Action:       strings.TrimSpace(r.Action),
			Resource:     strings.TrimSpace(r.Resource),
			Environments: envs,
			Constraint:   c,
		})
	}
	return NewMatrix(grants)
}
