package models

import (
	"strings"
	"time"
)

// RotationFrequency controls how often a secret is rotated.
type RotationFrequency string

const (
	RotationDaily     RotationFrequency = "daily"
	RotationWeekly    RotationFrequency = "weekly"
	RotationMonthly   RotationFrequency = "monthly"
	RotationQuarterly RotationFrequency = "quarterly"
	RotationCustom    RotationFrequency = "custom"
)

// RotationMethod selects how the replacement value is produced.
type RotationMethod string

const (
	RotationGenerated RotationMethod = "generated"
	RotationWebhook   RotationMethod = "webhook"
)

// RotationScheduleStatus is the operational state of a schedule.
type RotationScheduleStatus string

const (
	RotationScheduleActive RotationScheduleStatus = "active"
	RotationSchedulePaused RotationScheduleStatus = "paused"
	RotationScheduleFailed RotationScheduleStatus = "failed"
)

// RotationSchedule drives automatic rotation of one secret.
type RotationSchedule struct {
	ID           string                 `gorm:"column:id;primaryKey" json:"id"`
	SecretID     string                 `gorm:"column:secret_id;index" json:"secret_id"`
	Frequency    RotationFrequency      `gorm:"column:frequency" json:"frequency"`
	CustomDays   int                    `gorm:"column:custom_days" json:"custom_days,omitempty"`
	Method       RotationMethod         `gorm:"column:method" json:"method"`
	LastRotation *time.Time             `gorm:"column:last_rotation" json:"last_rotation,omitempty"`
	NextRotation time.Time              `gorm:"column:next_rotation;index" json:"next_rotation"`
	Status       RotationScheduleStatus `gorm:"column:status" json:"status"`
	CreatedAt    time.Time              `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time              `gorm:"column:updated_at" json:"updated_at"`
}

func (RotationSchedule) TableName() string { return "rotation_schedules" }

// ParseRotationFrequency normalizes and validates a frequency string.
func ParseRotationFrequency(s string) (RotationFrequency, bool) {
	f := RotationFrequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case RotationDaily, RotationWeekly, RotationMonthly, RotationQuarterly, RotationCustom:
		return f, true
	}
	return "", false
}
