package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/legit-games/secrets-service/models"
)

type RotationScheduleStore struct{ DB *gorm.DB }

func NewRotationScheduleStore(db *gorm.DB) *RotationScheduleStore {
	return &RotationScheduleStore{DB: db}
}

// Create registers a schedule for a secret. One schedule per secret; a
// second registration replaces the first.
func (s *RotationScheduleStore) Create(ctx context.Context, secretID string, frequency models.RotationFrequency, customDays int, method models.RotationMethod, next time.Time) (*models.RotationSchedule, error) {
	now := time.Now().UTC()
	sched := models.RotationSchedule{
		ID:           models.LegitID(),
		SecretID:     secretID,
		Frequency:    frequency,
		CustomDays:   customDays,
		Method:       method,
		NextRotation: next.UTC(),
		Status:       models.RotationScheduleActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("secret_id = ?", secretID).Delete(&models.RotationSchedule{}).Error; err != nil {
			return err
		}
		return tx.Create(&sched).Error
	})
	if err != nil {
		return nil, err
	}
	return &sched, nil
}

// Get returns the schedule for a secret, if any.
func (s *RotationScheduleStore) Get(ctx context.Context, secretID string) (*models.RotationSchedule, error) {
	var sched models.RotationSchedule
	if err := s.DB.WithContext(ctx).Where("secret_id = ?", secretID).First(&sched).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sched, nil
}

// ListDue returns active schedules whose next_rotation has passed.
func (s *RotationScheduleStore) ListDue(ctx context.Context, now time.Time) ([]models.RotationSchedule, error) {
	var rows []models.RotationSchedule
	err := s.DB.WithContext(ctx).
		Where("status = ? AND next_rotation <= ?", models.RotationScheduleActive, now.UTC()).
		Order("next_rotation ASC").Find(&rows).Error
	return rows, err
}

// MarkRotated records a successful run and advances next_rotation.
func (s *RotationScheduleStore) MarkRotated(ctx context.Context, scheduleID string, rotatedAt, next time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.RotationSchedule{}).Where("id = ?", scheduleID).
		Updates(map[string]interface{}{
			"last_rotation": rotatedAt.UTC(),
			"next_rotation": next.UTC(),
			"status":        models.RotationScheduleActive,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed flags a schedule whose run errored. It stays failed until an
// operator resumes it.
func (s *RotationScheduleStore) MarkFailed(ctx context.Context, scheduleID string) error {
	return s.setStatus(ctx, scheduleID, models.RotationScheduleFailed)
}

// Pause stops a schedule from being picked up by the scheduler.
func (s *RotationScheduleStore) Pause(ctx context.Context, scheduleID string) error {
	return s.setStatus(ctx, scheduleID, models.RotationSchedulePaused)
}

// Resume reactivates a paused or failed schedule.
func (s *RotationScheduleStore) Resume(ctx context.Context, scheduleID string) error {
	return s.setStatus(ctx, scheduleID, models.RotationScheduleActive)
}

func (s *RotationScheduleStore) setStatus(ctx context.Context, scheduleID string, status models.RotationScheduleStatus) error {
	res := s.DB.WithContext(ctx).Model(&models.RotationSchedule{}).Where("id = ?", scheduleID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a secret's schedule.
func (s *RotationScheduleStore) Delete(ctx context.Context, secretID string) error {
	res := s.DB.WithContext(ctx).Where("secret_id = ?", secretID).Delete(&models.RotationSchedule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
