package models

import "time"

// UserRoleAssignment binds a user to a role either on a single project or,
// when ProjectID is nil, workspace-wide. An assignment with a past ExpiresAt
// is inert and excluded from every authorization decision.
type UserRoleAssignment struct {
	ID         string     `gorm:"column:id;primaryKey" json:"id"`
	UserID     string     `gorm:"column:user_id;index" json:"user_id"`
	Role       string     `gorm:"column:role;index" json:"role"`
	ProjectID  *string    `gorm:"column:project_id;index" json:"project_id,omitempty"`
	ExpiresAt  *time.Time `gorm:"column:expires_at" json:"expires_at,omitempty"`
	AssignedAt time.Time  `gorm:"column:assigned_at" json:"assigned_at"`
	AssignedBy string     `gorm:"column:assigned_by" json:"assigned_by,omitempty"`
}

func (UserRoleAssignment) TableName() string { return "user_role_assignments" }

// ActiveAt reports whether the assignment participates in decisions at t.
func (a UserRoleAssignment) ActiveAt(t time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(t)
}

// ScopeMatches reports whether the assignment applies to projectID.
// Workspace-global assignments (nil ProjectID) match every project.
func (a UserRoleAssignment) ScopeMatches(projectID string) bool {
	return a.ProjectID == nil || *a.ProjectID == projectID
}
