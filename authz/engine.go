package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/legit-games/secrets-service/models"
)

// Decision is the tri-state outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	RequiresElevation
	Allow
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "ALLOW"
	case RequiresElevation:
		return "REQUIRES_ELEVATION"
	default:
		return "DENY"
	}
}

// Request names the tuple being decided. ProjectID may be empty for
// workspace-level actions; SecretID is only consulted when a JIT grant is
// scoped to a single secret.
type Request struct {
	UserID      string
	ProjectID   string
	Resource    string
	Action      string
	Environment string
	SecretID    string
}

// AssignmentSource supplies the caller's live role assignments. The store
// implementation must already exclude expired rows, but the engine
// re-checks so a cached or stale source cannot widen access.
type AssignmentSource interface {
	ListAssignments(ctx context.Context, userID, projectID string) ([]models.UserRoleAssignment, error)
}

// GrantSource supplies approved JIT grants. FindActiveGrant returns nil
// (not an error) when no active grant covers the request.
type GrantSource interface {
	FindActiveGrant(ctx context.Context, userID, projectID, secretID string) (*models.AccessRequest, error)
}

// Engine is the single code path that can say ALLOW for a secret
// operation. It is deterministic and side-effect-free: its only I/O is
// read-only queries through its sources.
type Engine struct {
	matrix      *Matrix
	assignments AssignmentSource
	grants      GrantSource
	now         func() time.Time
}

// NewEngine wires the decision engine. grants may be nil for deployments
// without the JIT workflow; JIT-constrained grants then always resolve to
// REQUIRES_ELEVATION.
func NewEngine(matrix *Matrix, assignments AssignmentSource, grants GrantSource) *Engine {
	return &Engine{matrix: matrix, assignments: assignments, grants: grants, now: time.Now}
}

// WithClock overrides the engine's clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Authorize resolves the request to ALLOW, REQUIRES_ELEVATION or DENY.
//
// "No roles found" is a normal DENY, never an error; a non-nil error means
// the decision could not be evaluated (storage failure) and callers must
// not treat it as a denial.
//
// Tie-break: an unconstrained matching grant wins immediately; elevation is
// only offered when some matching grant names the JIT constraint; DENY is
// the result only when no path to ALLOW or elevation exists.
func (e *Engine) Authorize(ctx context.Context, req Request) (Decision, error) {
	assignments, err := e.assignments.ListAssignments(ctx, req.UserID, req.ProjectID)
	if err != nil {
		return Deny, fmt.Errorf("authz: load assignments: %w", err)
	}

	now := e.now()
	elevationPossible := false
	for _, a := range assignments {
		if !a.ActiveAt(now) || !a.ScopeMatches(req.ProjectID) {
			continue
		}
		for _, g := range e.matrix.GrantsFor(a.Role) {
			if !g.MatchesAction(req.Action) || !g.MatchesResource(req.Resource) || !g.MatchesEnvironment(req.Environment) {
				continue
			}
			switch g.Constraint {
			case ConstraintNone:
				// An explicit unconstrained grant always wins; nothing
				// found later can downgrade it.
				return Allow, nil
			case ConstraintRequireJIT:
				elevationPossible = true
			case ConstraintRequireDualAuth:
				// Dual-auth approvals ride the same elevation flow.
				elevationPossible = true
			default:
				// Unknown constraint kinds never grant.
			}
		}
	}

	if req.ProjectID != "" && e.grants != nil {
		grant, err := e.grants.FindActiveGrant(ctx, req.UserID, req.ProjectID, req.SecretID)
		if err != nil {
			return Deny, fmt.Errorf("authz: load jit grants: %w", err)
		}
		if grant != nil && grant.ActiveAt(now) && grant.Covers(req.ProjectID, req.SecretID) {
			return Allow, nil
		}
	}

	if elevationPossible {
		return RequiresElevation, nil
	}
	return Deny, nil
}
