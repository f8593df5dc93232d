package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/legit-games/secrets-service/models"
)

func setupAccessRequestTest(t *testing.T, policy JITPolicy) (*gorm.DB, *AccessRequestStore, string) {
	t.Helper()
	db, err := getTestGormDB()
	if err != nil {
		t.Skip("No database connection available")
	}
	projectID := uniqueTestID("jitproj")
	t.Cleanup(func() {
		db.Exec(`DELETE FROM access_requests WHERE project_id = ?`, projectID)
	})
	return db, NewAccessRequestStore(db, policy), projectID
}

func TestAccessRequestStore_Lifecycle(t *testing.T) {
	_, requests, projectID := setupAccessRequestTest(t, JITPolicy{MaxDurationMinutes: 480})
	ctx := context.Background()

	req, err := requests.Create(ctx, "alice", projectID, "deploy hotfix", nil, 60)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if req.Status != models.AccessRequestPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}

	approved, err := requests.Approve(ctx, req.ID, "bob")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != models.AccessRequestApproved {
		t.Fatalf("status = %s, want approved", approved.Status)
	}
	if approved.ExpiresAt == nil || approved.ApprovedAt == nil {
		t.Fatal("approval did not stamp timestamps")
	}
	got := approved.ExpiresAt.Sub(*approved.ApprovedAt)
	if got != 60*time.Minute {
		t.Fatalf("expiry window = %v, want 60m", got)
	}
	if approved.ApprovedBy == nil || *approved.ApprovedBy != "bob" {
		t.Fatalf("approved_by = %v", approved.ApprovedBy)
	}

	// Approved is not pending anymore; a second review fails.
	if _, err := requests.Approve(ctx, req.ID, "carol"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double approve: got %v, want ErrInvalidState", err)
	}
	if _, err := requests.Reject(ctx, req.ID, "carol"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("reject after approve: got %v, want ErrInvalidState", err)
	}

	// Revocation ends the grant early.
	revoked, err := requests.Revoke(ctx, req.ID, "bob")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked.Status != models.AccessRequestRevoked {
		t.Fatalf("status = %s, want revoked", revoked.Status)
	}
	// Revoked is terminal.
	if _, err := requests.Revoke(ctx, req.ID, "bob"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double revoke: got %v, want ErrInvalidState", err)
	}
}

func TestAccessRequestStore_SelfApprovalRejected(t *testing.T) {
	_, requests, projectID := setupAccessRequestTest(t, JITPolicy{MaxDurationMinutes: 480})
	ctx := context.Background()

	req, err := requests.Create(ctx, "alice", projectID, "need prod", nil, 30)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := requests.Approve(ctx, req.ID, "alice"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("self approve: got %v, want ErrForbidden", err)
	}
	// The request stays pending and a different reviewer can still act.
	if _, err := requests.Approve(ctx, req.ID, "bob"); err != nil {
		t.Fatalf("approve after failed self-approve: %v", err)
	}
}

func TestAccessRequestStore_SelfApprovalAllowedByPolicy(t *testing.T) {
	_, requests, projectID := setupAccessRequestTest(t, JITPolicy{MaxDurationMinutes: 480, AllowSelfApproval: true})
	ctx := context.Background()

	req, err := requests.Create(ctx, "alice", projectID, "solo workspace", nil, 30)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := requests.Approve(ctx, req.ID, "alice"); err != nil {
		t.Fatalf("self approve with policy: %v", err)
	}
}

func TestAccessRequestStore_DurationBounds(t *testing.T) {
	_, requests, projectID := setupAccessRequestTest(t, JITPolicy{MaxDurationMinutes: 120})
	ctx := context.Background()

	if _, err := requests.Create(ctx, "alice", projectID, "r", nil, 0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("zero duration: got %v", err)
	}
	if _, err := requests.Create(ctx, "alice", projectID, "r", nil, -5); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("negative duration: got %v", err)
	}
	if _, err := requests.Create(ctx, "alice", projectID, "r", nil, 121); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("above cap: got %v", err)
	}
	if _, err := requests.Create(ctx, "alice", projectID, "r", nil, 120); err != nil {
		t.Fatalf("at cap: %v", err)
	}
}

func TestAccessRequestStore_FindActiveGrant(t *testing.T) {
	db, requests, projectID := setupAccessRequestTest(t, JITPolicy{MaxDurationMinutes: 480})
	ctx := context.Background()

	// Pending requests never grant.
	pending, err := requests.Create(ctx, "alice", projectID, "r", nil, 60)
	if err != nil {
		t.Fatal(err)
	}
	grant, err := requests.FindActiveGrant(ctx, "alice", projectID, "")
	if err != nil {
		t.Fatal(err)
	}
	if grant != nil {
		t.Fatalf("pending request granted: %+v", grant)
	}

	if _, err := requests.Approve(ctx, pending.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	grant, err = requests.FindActiveGrant(ctx, "alice", projectID, "")
	if err != nil {
		t.Fatal(err)
	}
	if grant == nil || grant.ID != pending.ID {
		t.Fatalf("approved request not found: %+v", grant)
	}
	// A project-wide grant covers any secret in the project.
	grant, err = requests.FindActiveGrant(ctx, "alice", projectID, "some-secret-id")
	if err != nil {
		t.Fatal(err)
	}
	if grant == nil {
		t.Fatal("project-wide grant should cover a specific secret")
	}

	// A secret-scoped grant covers only its secret.
	secretID := uniqueTestID("sec")
	scoped, err := requests.Create(ctx, "carol", projectID, "r", &secretID, 60)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := requests.Approve(ctx, scoped.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	grant, err = requests.FindActiveGrant(ctx, "carol", projectID, secretID)
	if err != nil {
		t.Fatal(err)
	}
	if grant == nil {
		t.Fatal("secret-scoped grant not found for its own secret")
	}
	grant, err = requests.FindActiveGrant(ctx, "carol", projectID, "other-secret")
	if err != nil {
		t.Fatal(err)
	}
	if grant != nil {
		t.Fatal("secret-scoped grant leaked to another secret")
	}
	grant, err = requests.FindActiveGrant(ctx, "carol", projectID, "")
	if err != nil {
		t.Fatal(err)
	}
	if grant != nil {
		t.Fatal("secret-scoped grant should not cover the whole project")
	}

	// Expiry is enforced in the query itself.
	past := time.Now().UTC().Add(-time.Minute)
	if err := db.Model(&models.AccessRequest{}).Where("id = ?", pending.ID).
		Update("expires_at", past).Error; err != nil {
		t.Fatal(err)
	}
	grant, err = requests.FindActiveGrant(ctx, "alice", projectID, "")
	if err != nil {
		t.Fatal(err)
	}
	if grant != nil {
		t.Fatal("expired grant still active")
	}

	// An expired approval cannot be revoked; it is already inert.
	if _, err := requests.Revoke(ctx, pending.ID, "bob"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("revoke expired: got %v, want ErrInvalidState", err)
	}
}
