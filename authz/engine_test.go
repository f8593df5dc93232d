package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/legit-games/secrets-service/models"
)

type stubAssignments struct {
	rows []models.UserRoleAssignment
	err  error
}

func (s stubAssignments) ListAssignments(_ context.Context, userID, projectID string) ([]models.UserRoleAssignment, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []models.UserRoleAssignment
	for _, a := range s.rows {
		if a.UserID == userID && a.ScopeMatches(projectID) {
			out = append(out, a)
		}
	}
	return out, nil
}

type stubGrants struct {
	grant *models.AccessRequest
	err   error
}

func (s stubGrants) FindActiveGrant(_ context.Context, userID, projectID, _ string) (*models.AccessRequest, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.grant != nil && s.grant.UserID == userID && s.grant.ProjectID == projectID {
		return s.grant, nil
	}
	return nil, nil
}

func strptr(s string) *string { return &s }

func assignment(userID, role string, projectID *string, expiresAt *time.Time) models.UserRoleAssignment {
	return models.UserRoleAssignment{
		ID:        "a-" + userID + "-" + role,
		UserID:    userID,
		Role:      role,
		ProjectID: projectID,
		ExpiresAt: expiresAt,
	}
}

func TestAuthorize_NoAssignmentsIsDeny(t *testing.T) {
	e := NewEngine(DefaultMatrix(), stubAssignments{}, stubGrants{})
	d, err := e.Authorize(context.Background(), Request{
		UserID: "u1", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretValueRead, Environment: "production",
	})
	if err != nil {
		t.Fatal(err)
	}
	// A user removed from the team gets DENY, not an elevation offer.
	if d != Deny {
		t.Fatalf("got %v, want DENY", d)
	}
}

func TestAuthorize_UnknownActionIsDeny(t *testing.T) {
	src := stubAssignments{rows: []models.UserRoleAssignment{
		assignment("u1", RoleViewer, strptr("p1"), nil),
	}}
	e := NewEngine(DefaultMatrix(), src, stubGrants{})
	d, err := e.Authorize(context.Background(), Request{
		UserID: "u1", ProjectID: "p1", Resource: ResourceSecret, Action: "secrets.transmogrify",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d != Deny {
		t.Fatalf("got %v, want DENY", d)
	}
}

func TestAuthorize_UnconstrainedGrantAllows(t *testing.T) {
	src := stubAssignments{rows: []models.UserRoleAssignment{
		assignment("u1", RoleAdmin, strptr("p1"), nil),
	}}
	e := NewEngine(DefaultMatrix(), src, stubGrants{})
	d, err := e.Authorize(context.Background(), Request{
		UserID: "u1", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretsWrite, Environment: "production",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d != Allow {
		t.Fatalf("got %v, want ALLOW", d)
	}
}

func TestAuthorize_WorkspaceGlobalAssignmentCoversProject(t *testing.T) {
	src := stubAssignments{rows: []models.UserRoleAssignment{
		assignment("u1", RoleOwner, nil, nil),
	}}
	e := NewEngine(DefaultMatrix(), src, stubGrants{})
	d, err := e.Authorize(context.Background(), Request{
		UserID: "u1", ProjectID: "any-project", Resource: ResourceSecret, Action: ActionSecretsDelete, Environment: "production",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d != Allow {
		t.Fatalf("got %v, want ALLOW", d)
	}
}

func TestAuthorize_ExpiredAssignmentIsInert(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	src := stubAssignments{rows: []models.UserRoleAssignment{
		assignment("u1", RoleAdmin, strptr("p1"), &past),
	}}
	e := NewEngine(DefaultMatrix(), src, stubGrants{})
	d, err := e.Authorize(context.Background(), Request{
		UserID: "u1", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretsWrite, Environment: "staging",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d != Deny {
		t.Fatalf("got %v, want DENY", d)
	}
}

func TestAuthorize_JITConstraintYieldsElevation(t *testing.T) {
	src := stubAssignments{rows: []models.UserRoleAssignment{
		assignment("u1", RoleDeveloper, strptr("p1"), nil),
	}}
	e := NewEngine(DefaultMatrix(), src, stubGrants{})
	d, err := e.Authorize(context.Background(), Request{
		UserID: "u1", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretsWrite, Environment: "production",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d != RequiresElevation {
		t.Fatalf("got %v, want REQUIRES_ELEVATION", d)
	}
}

func TestAuthorize_UnconstrainedWinsOverElevation(t *testing.T) {
	// Developer (JIT-gated in production) plus admin on the same project:
	// the unconstrained admin grant must win.
	src := stubAssignments{rows: []models.UserRoleAssignment{
		assignment("u1", RoleDeveloper, strptr("p1"), nil),
		assignment("u1", RoleAdmin, strptr("p1"), nil),
	}}
	e := NewEngine(DefaultMatrix(), src, stubGrants{})
	d, err := e.Authorize(context.Background(), Request{
		UserID: "u1", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretsWrite, Environment: "production",
	})
	if err != nil {
		t.Fatal(err)
	}
	if d != Allow {
		t.Fatalf("got %v, want ALLOW", d)
	}
}

func TestAuthorize_ApprovedGrantFlipsToAllow(t *testing.T) {
	approvedAt := time.Now().Add(-time.Minute)
	expiresAt := approvedAt.Add(60 * time.Minute)
	grant := &models.AccessRequest{
		ID: "ar1", UserID: "u1", ProjectID: "p1",
		Status: models.AccessRequestApproved, ApprovedAt: &approvedAt, ExpiresAt: &expiresAt,
	}
	req := Request{UserID: "u1", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretValueRead, Environment: "production"}

	// Without the grant: no assignments at all, so DENY.
	e := NewEngine(DefaultMatrix(), stubAssignments{}, stubGrants{})
	if d, _ := e.Authorize(context.Background(), req); d != Deny {
		t.Fatalf("before approval: got %v, want DENY", d)
	}

	// With the grant: ALLOW for the grantee only.
	e = NewEngine(DefaultMatrix(), stubAssignments{}, stubGrants{grant: grant})
	if d, _ := e.Authorize(context.Background(), req); d != Allow {
		t.Fatalf("after approval: got %v, want ALLOW", d)
	}
	other := req
	other.UserID = "u2"
	if d, _ := e.Authorize(context.Background(), other); d != Deny {
		t.Fatalf("other user: got %v, want DENY", d)
	}

	// Once the clock passes expiry the grant is inert without any state
	// transition.
	late := e.WithClock(func() time.Time { return expiresAt.Add(time.Second) })
	if d, _ := late.Authorize(context.Background(), req); d != Deny {
		t.Fatalf("after expiry: got %v, want DENY", d)
	}
}

func TestAuthorize_SecretScopedGrant(t *testing.T) {
	approvedAt := time.Now()
	expiresAt := approvedAt.Add(time.Hour)
	grant := &models.AccessRequest{
		ID: "ar1", UserID: "u1", ProjectID: "p1", SecretID: strptr("s1"),
		Status: models.AccessRequestApproved, ApprovedAt: &approvedAt, ExpiresAt: &expiresAt,
	}
	e := NewEngine(DefaultMatrix(), stubAssignments{}, stubGrants{grant: grant})

	d, _ := e.Authorize(context.Background(), Request{
		UserID: "u1", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretValueRead, SecretID: "s1",
	})
	if d != Allow {
		t.Fatalf("named secret: got %v, want ALLOW", d)
	}
	d, _ = e.Authorize(context.Background(), Request{
		UserID: "u1", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretValueRead, SecretID: "s2",
	})
	if d != Deny {
		t.Fatalf("other secret: got %v, want DENY", d)
	}
}

func TestAuthorize_StorageErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	e := NewEngine(DefaultMatrix(), stubAssignments{err: boom}, stubGrants{})
	_, err := e.Authorize(context.Background(), Request{UserID: "u1", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretsRead})
	if !errors.Is(err, boom) {
		t.Fatalf("expected storage error to propagate, got %v", err)
	}

	// Grant-source errors must also be distinguishable from DENY.
	src := stubAssignments{rows: []models.UserRoleAssignment{
		assignment("u1", RoleDeveloper, strptr("p1"), nil),
	}}
	e = NewEngine(DefaultMatrix(), src, stubGrants{err: boom})
	_, err = e.Authorize(context.Background(), Request{
		UserID: "u1", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretsWrite, Environment: "production",
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected grant source error to propagate, got %v", err)
	}
}

func TestAuthorize_EnvironmentExactOrWildcard(t *testing.T) {
	src := stubAssignments{rows: []models.UserRoleAssignment{
		assignment("u1", RoleDeveloper, strptr("p1"), nil),
	}}
	e := NewEngine(DefaultMatrix(), src, stubGrants{})

	// Developer writes are granted for staging exactly.
	d, _ := e.Authorize(context.Background(), Request{
		UserID: "u1", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretsWrite, Environment: "staging",
	})
	if d != Allow {
		t.Fatalf("staging: got %v, want ALLOW", d)
	}

	// A wildcard-environment request matches only grants that themselves
	// list "all"; the developer's write grants are environment-limited, so
	// nothing matches.
	d, _ = e.Authorize(context.Background(), Request{
		UserID: "u1", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretsWrite, Environment: "",
	})
	if d != Deny {
		t.Fatalf("wildcard env: got %v, want DENY", d)
	}
}

func TestAuthorize_ValueReadByRole(t *testing.T) {
	src := stubAssignments{rows: []models.UserRoleAssignment{
		assignment("dev", RoleDeveloper, strptr("p1"), nil),
		assignment("view", RoleViewer, strptr("p1"), nil),
	}}
	e := NewEngine(DefaultMatrix(), src, stubGrants{})

	d, err := e.Authorize(context.Background(), Request{
		UserID: "dev", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretValueRead, Environment: "development",
	})
	if err != nil || d != Allow {
		t.Fatalf("developer value read: got %v %v, want ALLOW", d, err)
	}
	d, err = e.Authorize(context.Background(), Request{
		UserID: "view", ProjectID: "p1", Resource: ResourceSecret, Action: ActionSecretValueRead, Environment: "development",
	})
	if err != nil || d != Deny {
		t.Fatalf("viewer value read: got %v %v, want DENY", d, err)
	}
}
