package store

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/legit-games/secrets-service/models"
)

type RoleAssignmentStore struct{ DB *gorm.DB }

func NewRoleAssignmentStore(db *gorm.DB) *RoleAssignmentStore {
	return &RoleAssignmentStore{DB: db}
}

// ListAssignments returns the non-expired assignments that scope-match the
// target project: project-scoped rows for projectID plus workspace-global
// rows (project_id IS NULL). Satisfies the decision engine's
// AssignmentSource.
func (s *RoleAssignmentStore) ListAssignments(ctx context.Context, userID, projectID string) ([]models.UserRoleAssignment, error) {
	q := s.DB.WithContext(ctx).Model(&models.UserRoleAssignment{}).
		Where("user_id = ?", userID).
		Where("(expires_at IS NULL OR expires_at > ?)", time.Now().UTC())
	if projectID == "" {
		q = q.Where("project_id IS NULL")
	} else {
		q = q.Where("(project_id IS NULL OR project_id = ?)", projectID)
	}
	var rows []models.UserRoleAssignment
	return rows, q.Order("assigned_at ASC").Find(&rows).Error
}

// Assign creates a role assignment. projectID may be empty for a
// workspace-global assignment; expiresAt may be nil for a standing one.
func (s *RoleAssignmentStore) Assign(ctx context.Context, userID, role, projectID, assignedBy string, expiresAt *time.Time) (*models.UserRoleAssignment, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if strings.TrimSpace(userID) == "" || role == "" {
		return nil, gorm.ErrInvalidData
	}
	a := models.UserRoleAssignment{
		ID:         models.LegitID(),
		UserID:     userID,
		Role:       role,
		AssignedAt: time.Now().UTC(),
		AssignedBy: assignedBy,
		ExpiresAt:  expiresAt,
	}
	if strings.TrimSpace(projectID) != "" {
		pid := strings.TrimSpace(projectID)
		a.ProjectID = &pid
	}
	if err := s.DB.WithContext(ctx).Create(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// Remove deletes an assignment by id.
func (s *RoleAssignmentStore) Remove(ctx context.Context, id string) error {
	res := s.DB.WithContext(ctx).Where("id = ?", id).Delete(&models.UserRoleAssignment{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListForUser returns every assignment for a user, expired ones included,
// for admin listings.
func (s *RoleAssignmentStore) ListForUser(ctx context.Context, userID string) ([]models.UserRoleAssignment, error) {
	var rows []models.UserRoleAssignment
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("assigned_at ASC").Find(&rows).Error
	return rows, err
}

// HasRole reports whether the user holds one of the given roles on the
// project (or workspace-wide), ignoring expired assignments.
func (s *RoleAssignmentStore) HasRole(ctx context.Context, userID, projectID string, roles ...string) (bool, error) {
	rows, err := s.ListAssignments(ctx, userID, projectID)
	if err != nil {
		return false, err
	}
	for _, a := range rows {
		for _, r := range roles {
			if strings.EqualFold(a.Role, r) {
				return true, nil
			}
		}
	}
	return false, nil
}
