package models

import (
	"strconv"
	"strings"
	"time"
)

// MainBranchName is the implicit branch for secrets without an explicit
// branch. Exactly one branch per project carries this name and it cannot be
// deleted.
const MainBranchName = "main"

// Branch is an isolated namespace of secret key/value pairs within a project.
type Branch struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	ProjectID string    `gorm:"column:project_id;index" json:"project_id"`
	Name      string    `gorm:"column:name" json:"name"`
	VersionNo int       `gorm:"column:version_no" json:"version_no"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Branch) TableName() string { return "branches" }

// IsMain reports whether this is the project's main branch.
func (b Branch) IsMain() bool { return strings.EqualFold(b.Name, MainBranchName) }

// Secret is one versioned key/value pair scoped by (project, branch,
// environment, key). Value holds a serialized cipher envelope; legacy rows
// may still hold plaintext and are re-encrypted on their next write.
type Secret struct {
	ID              string     `gorm:"column:id;primaryKey" json:"id"`
	ProjectID       string     `gorm:"column:project_id;index" json:"project_id"`
	BranchID        *string    `gorm:"column:branch_id;index" json:"branch_id,omitempty"`
	EnvironmentType string     `gorm:"column:environment_type" json:"environment_type"`
	Key             string     `gorm:"column:key" json:"key"`
	Value           string     `gorm:"column:value" json:"-"`
	Version         string     `gorm:"column:version" json:"version"`
	Description     string     `gorm:"column:description" json:"description,omitempty"`
	IsReference     bool       `gorm:"column:is_reference" json:"is_reference,omitempty"`
	SourceSecretID  *string    `gorm:"column:source_secret_id" json:"source_secret_id,omitempty"`
	ShadowValue     *string    `gorm:"column:shadow_value" json:"-"`
	ShadowExpiresAt *time.Time `gorm:"column:shadow_expires_at" json:"shadow_expires_at,omitempty"`
	CreatedAt       time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at" json:"updated_at"`
	UpdatedBy       string     `gorm:"column:updated_by" json:"updated_by,omitempty"`
}

func (Secret) TableName() string { return "secrets" }

// VersionNumber parses the stored version label. Malformed labels return 0;
// NextVersion handles the fallback.
func (s Secret) VersionNumber() int {
	n, err := strconv.Atoi(strings.TrimSpace(s.Version))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// NextVersion computes the label for the next write. Versions are numeric
// strings; a malformed stored label falls back to "2" so the sequence stays
// monotonic for rows migrated from older deployments.
func (s Secret) NextVersion() string {
	n := s.VersionNumber()
	if n == 0 {
		return "2"
	}
	return strconv.Itoa(n + 1)
}

// SecretHistoryEntry is one immutable, append-only record of a secret's
// value at a specific version. Entries record the value as written at the
// version that wrote it, so replaying history at entry N yields the value
// the secret held after that write.
type SecretHistoryEntry struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	SecretID    string    `gorm:"column:secret_id;index" json:"secret_id"`
	Version     string    `gorm:"column:version" json:"version"`
	Value       string    `gorm:"column:value" json:"-"`
	UpdatedAt   time.Time `gorm:"column:updated_at" json:"updated_at"`
	UpdatedBy   string    `gorm:"column:updated_by" json:"updated_by"`
	Description string    `gorm:"column:description" json:"description,omitempty"`
}

func (SecretHistoryEntry) TableName() string { return "secret_history" }

// NormalizeEnvironment canonicalizes environment names for lookups.
func NormalizeEnvironment(env string) string {
	return strings.ToLower(strings.TrimSpace(env))
}
