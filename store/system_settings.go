package store

import (
	"context"
	"strconv"
	"time"

	"gorm.io/gorm"
)

// SystemSetting represents a workspace configuration setting.
type SystemSetting struct {
	Key         string    `gorm:"column:key;primaryKey" json:"key"`
	Value       string    `gorm:"column:value" json:"value"`
	Description string    `gorm:"column:description" json:"description,omitempty"`
	Category    string    `gorm:"column:category" json:"category"`
	IsSecret    bool      `gorm:"column:is_secret" json:"is_secret"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}

// Workspace policy keys.
const (
	SettingJITMaxDurationMinutes = "jit.max_duration_minutes"
	SettingJITAllowSelfApproval  = "jit.allow_self_approval"
	SettingShadowTTLHours        = "rotation.shadow_ttl_hours"
)

// DefaultJITMaxDurationMinutes caps elevation at 8 hours unless the
// workspace overrides it.
const DefaultJITMaxDurationMinutes = 480

// DefaultShadowTTLHours is how long a staged shadow value stays live before
// it is reported as expired-unpromoted.
const DefaultShadowTTLHours = 72

// SystemSettingsStore manages workspace settings in the database.
type SystemSettingsStore struct {
	db *gorm.DB
}

// NewSystemSettingsStore creates a new SystemSettingsStore.
func NewSystemSettingsStore(db *gorm.DB) *SystemSettingsStore {
	return &SystemSettingsStore{db: db}
}

// Get retrieves a single setting by key.
func (s *SystemSettingsStore) Get(ctx context.Context, key string) (*SystemSetting, error) {
	var setting SystemSetting
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		return nil, err
	}
	return &setting, nil
}

// GetValue retrieves just the value of a setting by key.
func (s *SystemSettingsStore) GetValue(ctx context.Context, key string) (string, error) {
	setting, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// GetValueOrDefault retrieves the value or returns a default if not found.
func (s *SystemSettingsStore) GetValueOrDefault(ctx context.Context, key, defaultValue string) string {
	value, err := s.GetValue(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}

// GetBool retrieves a boolean setting.
func (s *SystemSettingsStore) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	value, err := s.GetValue(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value == "true" || value == "1"
}

// GetInt retrieves an integer setting.
func (s *SystemSettingsStore) GetInt(ctx context.Context, key string, defaultValue int) int {
	value, err := s.GetValue(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// Set creates or updates a setting.
func (s *SystemSettingsStore) Set(ctx context.Context, key, value string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO system_settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, value, now).Error
}

// SetWithMeta creates or updates a setting with metadata.
func (s *SystemSettingsStore) SetWithMeta(ctx context.Context, setting *SystemSetting) error {
	setting.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(setting).Error
}

// Delete removes a setting.
func (s *SystemSettingsStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&SystemSetting{}, "key = ?", key).Error
}

// ListByCategory retrieves all settings in a category.
func (s *SystemSettingsStore) ListByCategory(ctx context.Context, category string) ([]SystemSetting, error) {
	var settings []SystemSetting
	if err := s.db.WithContext(ctx).Where("category = ?", category).Order("key").Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

// ListAll retrieves all settings.
func (s *SystemSettingsStore) ListAll(ctx context.Context) ([]SystemSetting, error) {
	var settings []SystemSetting
	if err := s.db.WithContext(ctx).Order("category, key").Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

// GetMultiple retrieves multiple settings by keys.
func (s *SystemSettingsStore) GetMultiple(ctx context.Context, keys []string) (map[string]string, error) {
	var settings []SystemSetting
	if err := s.db.WithContext(ctx).Where("key IN ?", keys).Find(&settings).Error; err != nil {
		return nil, err
	}
	result := make(map[string]string, len(settings))
	for _, setting := range settings {
		result[setting.Key] = setting.Value
	}
	return result, nil
}

// JITPolicyFromSettings assembles the JIT workflow bounds from workspace
// settings, falling back to the compiled defaults. Self-approval stays
// disallowed unless a setting explicitly turns it on.
func (s *SystemSettingsStore) JITPolicyFromSettings(ctx context.Context) JITPolicy {
	return JITPolicy{
		MaxDurationMinutes: s.GetInt(ctx, SettingJITMaxDurationMinutes, DefaultJITMaxDurationMinutes),
		AllowSelfApproval:  s.GetBool(ctx, SettingJITAllowSelfApproval, false),
	}
}

// ShadowTTL returns the workspace's shadow-rotation TTL.
func (s *SystemSettingsStore) ShadowTTL(ctx context.Context) time.Duration {
	hours := s.GetInt(ctx, SettingShadowTTLHours, DefaultShadowTTLHours)
	if hours <= 0 {
		hours = DefaultShadowTTLHours
	}
	return time.Duration(hours) * time.Hour
}
