package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/legit-games/secrets-service/models"
)

// JITPolicy bounds the access-request workflow. Values come from workspace
// settings (see PolicyFromSettings); zero MaxDurationMinutes means no cap.
type JITPolicy struct {
	MaxDurationMinutes int
	AllowSelfApproval  bool
}

type AccessRequestStore struct {
	DB     *gorm.DB
	Policy JITPolicy
	cache  *GrantCache // optional
}

func NewAccessRequestStore(db *gorm.DB, policy JITPolicy) *AccessRequestStore {
	return &AccessRequestStore{DB: db, Policy: policy}
}

// WithGrantCache attaches a valkey-backed cache consulted by
// FindActiveGrant before the database.
func (s *AccessRequestStore) WithGrantCache(cache *GrantCache) *AccessRequestStore {
	s.cache = cache
	return s
}

// Create files a new pending request. Duration must be positive and within
// the policy cap.
func (s *AccessRequestStore) Create(ctx context.Context, userID, projectID, reason string, secretID *string, durationMinutes int) (*models.AccessRequest, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(projectID) == "" {
		return nil, gorm.ErrInvalidData
	}
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidState)
	}
	if s.Policy.MaxDurationMinutes > 0 && durationMinutes > s.Policy.MaxDurationMinutes {
		return nil, fmt.Errorf("%w: duration exceeds the %d minute cap", ErrInvalidState, s.Policy.MaxDurationMinutes)
	}
	req := models.AccessRequest{
		ID:              models.LegitID(),
		UserID:          userID,
		ProjectID:       projectID,
		SecretID:        secretID,
		Reason:          strings.TrimSpace(reason),
		DurationMinutes: durationMinutes,
		Status:          models.AccessRequestPending,
		RequestedAt:     time.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(&req).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// Approve transitions pending -> approved and stamps the expiry as
// approvedAt + duration. Only pending requests can be approved, and the
// requester cannot approve their own request unless policy says otherwise.
func (s *AccessRequestStore) Approve(ctx context.Context, requestID, reviewerID string) (*models.AccessRequest, error) {
	var req models.AccessRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", requestID).First(&req).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if req.Status != models.AccessRequestPending {
			return fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
		}
		if !s.Policy.AllowSelfApproval && req.UserID == reviewerID {
			return fmt.Errorf("%w: requester cannot approve their own request", ErrForbidden)
		}
		now := time.Now().UTC()
		expires := now.Add(time.Duration(req.DurationMinutes) * time.Minute)
		updates := map[string]interface{}{
			"status":      models.AccessRequestApproved,
			"approved_at": now,
			"approved_by": reviewerID,
			"expires_at":  expires,
		}
		if err := tx.Model(&models.AccessRequest{}).Where("id = ? AND status = ?", requestID, models.AccessRequestPending).Updates(updates).Error; err != nil {
			return err
		}
		req.Status = models.AccessRequestApproved
		req.ApprovedAt = &now
		req.ApprovedBy = &reviewerID
		req.ExpiresAt = &expires
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Put(ctx, &req)
	}
	return &req, nil
}

// Reject transitions pending -> rejected. Rejected is terminal.
func (s *AccessRequestStore) Reject(ctx context.Context, requestID, reviewerID string) (*models.AccessRequest, error) {
	var req models.AccessRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", requestID).First(&req).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if req.Status != models.AccessRequestPending {
			return fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
		}
		if !s.Policy.AllowSelfApproval && req.UserID == reviewerID {
			return fmt.Errorf("%w: requester cannot review their own request", ErrForbidden)
		}
		if err := tx.Model(&models.AccessRequest{}).Where("id = ? AND status = ?", requestID, models.AccessRequestPending).
			Updates(map[string]interface{}{"status": models.AccessRequestRejected, "approved_by": reviewerID}).Error; err != nil {
			return err
		}
		req.Status = models.AccessRequestRejected
		req.ApprovedBy = &reviewerID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Revoke transitions approved -> revoked, an explicit admin action distinct
// from natural expiry. Revoked is terminal; naturally-expired approvals
// cannot be revoked (they are already inert).
func (s *AccessRequestStore) Revoke(ctx context.Context, requestID, adminID string) (*models.AccessRequest, error) {
	var req models.AccessRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", requestID).First(&req).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if req.Status != models.AccessRequestApproved {
			return fmt.Errorf("%w: request is %s", ErrInvalidState, req.Status)
		}
		if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now().UTC()) {
			return fmt.Errorf("%w: request already expired", ErrInvalidState)
		}
		if err := tx.Model(&models.AccessRequest{}).Where("id = ? AND status = ?", requestID, models.AccessRequestApproved).
			Update("status", models.AccessRequestRevoked).Error; err != nil {
			return err
		}
		req.Status = models.AccessRequestRevoked
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, req.UserID, req.ProjectID)
	}
	return &req, nil
}

// Get returns a single request by id.
func (s *AccessRequestStore) Get(ctx context.Context, requestID string) (*models.AccessRequest, error) {
	var req models.AccessRequest
	if err := s.DB.WithContext(ctx).Where("id = ?", requestID).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// ListByProject returns requests for a project, newest first.
func (s *AccessRequestStore) ListByProject(ctx context.Context, projectID string) ([]models.AccessRequest, error) {
	var rows []models.AccessRequest
	err := s.DB.WithContext(ctx).Where("project_id = ?", projectID).Order("requested_at DESC").Find(&rows).Error
	return rows, err
}

// FindActiveGrant returns an approved, unexpired grant covering (project,
// secret-or-whole-project) for the user, or nil. Satisfies the decision
// engine's GrantSource. The cache is consulted first; a miss falls through
// to the database.
func (s *AccessRequestStore) FindActiveGrant(ctx context.Context, userID, projectID, secretID string) (*models.AccessRequest, error) {
	if s.cache != nil {
		if req, ok := s.cache.Get(ctx, userID, projectID); ok {
			if req.ActiveAt(time.Now().UTC()) && req.Covers(projectID, secretID) {
				return req, nil
			}
			// Cached grant does not cover this secret; a broader or newer
			// one may still exist in the database.
		}
	}
	q := s.DB.WithContext(ctx).
		Where("user_id = ? AND project_id = ?", userID, projectID).
		Where("status = ?", models.AccessRequestApproved).
		Where("expires_at > ?", time.Now().UTC())
	if secretID == "" {
		q = q.Where("secret_id IS NULL")
	} else {
		q = q.Where("(secret_id IS NULL OR secret_id = ?)", secretID)
	}
	var req models.AccessRequest
	if err := q.Order("expires_at DESC").First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}
