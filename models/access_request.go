package models

import (
	"strings"
	"time"
)

// AccessRequestStatus is the lifecycle state of a JIT access request.
type AccessRequestStatus string

const (
	AccessRequestPending  AccessRequestStatus = "pending"
	AccessRequestApproved AccessRequestStatus = "approved"
	AccessRequestRejected AccessRequestStatus = "rejected"
	AccessRequestExpired  AccessRequestStatus = "expired"
	AccessRequestRevoked  AccessRequestStatus = "revoked"
)

// IsValid returns true if s is one of the allowed constants.
func (s AccessRequestStatus) IsValid() bool {
	switch AccessRequestStatus(strings.ToLower(string(s))) {
	case AccessRequestPending, AccessRequestApproved, AccessRequestRejected,
		AccessRequestExpired, AccessRequestRevoked:
		return true
	}
	return false
}

// AccessRequest is a time-boxed elevation request. An approved request acts
// as a temporary ALLOW for exactly the (project, secret-or-whole-project)
// pair it names; it never becomes a role change.
type AccessRequest struct {
	ID              string              `gorm:"column:id;primaryKey" json:"id"`
	UserID          string              `gorm:"column:user_id;index" json:"user_id"`
	ProjectID       string              `gorm:"column:project_id;index" json:"project_id"`
	SecretID        *string             `gorm:"column:secret_id" json:"secret_id,omitempty"`
	Reason          string              `gorm:"column:reason" json:"reason"`
	DurationMinutes int                 `gorm:"column:duration_minutes" json:"duration_minutes"`
	Status          AccessRequestStatus `gorm:"column:status;index" json:"status"`
	RequestedAt     time.Time           `gorm:"column:requested_at" json:"requested_at"`
	ApprovedAt      *time.Time          `gorm:"column:approved_at" json:"approved_at,omitempty"`
	ApprovedBy      *string             `gorm:"column:approved_by" json:"approved_by,omitempty"`
	ExpiresAt       *time.Time          `gorm:"column:expires_at" json:"expires_at,omitempty"`
}

func (AccessRequest) TableName() string { return "access_requests" }

// ActiveAt reports whether the request grants access at instant t: approved
// and not yet past its expiry. Natural expiry is passive; no row transition
// is required for an approved grant to go inert.
func (r AccessRequest) ActiveAt(t time.Time) bool {
	return r.Status == AccessRequestApproved && r.ExpiresAt != nil && r.ExpiresAt.After(t)
}

// EffectiveStatus folds passive expiry into the stored status for display.
func (r AccessRequest) EffectiveStatus(now time.Time) AccessRequestStatus {
	if r.Status == AccessRequestApproved && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return AccessRequestExpired
	}
	return r.Status
}

// Covers reports whether the grant authorizes access to the given secret.
// A nil SecretID covers the whole project.
func (r AccessRequest) Covers(projectID, secretID string) bool {
	if r.ProjectID != projectID {
		return false
	}
	return r.SecretID == nil || *r.SecretID == secretID
}
