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

// SecretWrite is one key in an upsert batch. Value must already be a
// serialized cipher envelope; the store never sees plaintext.
type SecretWrite struct {
	Key             string
	Value           string
	Description     string
	ExpectedVersion *string // nil skips the optimistic-concurrency check for this key
}

// CloneReport counts the outcome of an environment clone. Callers rely on
// these for idempotent re-runs.
type CloneReport struct {
	Copied  int `json:"copied"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

type SecretStore struct{ DB *gorm.DB }

func NewSecretStore(db *gorm.DB) *SecretStore { return &SecretStore{DB: db} }

// branchScope applies branch resolution to a secrets query: an explicit
// branch matches strictly by id, while main also picks up legacy rows with
// no branch id at all.
func branchScope(q *gorm.DB, b *models.Branch) *gorm.DB {
	if b.IsMain() {
		return q.Where("(branch_id = ? OR branch_id IS NULL)", b.ID)
	}
	return q.Where("branch_id = ?", b.ID)
}

func (s *SecretStore) resolveBranch(tx *gorm.DB, projectID, branchName string) (*models.Branch, error) {
	name := strings.TrimSpace(branchName)
	if name == "" {
		name = models.MainBranchName
	}
	var b models.Branch
	if err := tx.Where("project_id = ? AND name = ?", projectID, name).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("branch %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &b, nil
}

// Get returns one secret by (project, environment, branch, key).
func (s *SecretStore) Get(ctx context.Context, projectID, environment, branchName, key string) (*models.Secret, error) {
	db := s.DB.WithContext(ctx)
	b, err := s.resolveBranch(db, projectID, branchName)
	if err != nil {
		return nil, err
	}
	env := models.NormalizeEnvironment(environment)
	var sec models.Secret
	q := branchScope(db.Where("project_id = ? AND environment_type = ? AND key = ?", projectID, env, key), b)
	// Prefer the explicitly-branched row over a legacy fallback row.
	if err := q.Order("branch_id IS NULL ASC").First(&sec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sec, nil
}

// GetByID returns one secret by id.
func (s *SecretStore) GetByID(ctx context.Context, secretID string) (*models.Secret, error) {
	var sec models.Secret
	if err := s.DB.WithContext(ctx).Where("id = ?", secretID).First(&sec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sec, nil
}

// List returns the secrets for (project, environment, branch) ordered by key.
func (s *SecretStore) List(ctx context.Context, projectID, environment, branchName string) ([]models.Secret, error) {
	db := s.DB.WithContext(ctx)
	b, err := s.resolveBranch(db, projectID, branchName)
	if err != nil {
		return nil, err
	}
	env := models.NormalizeEnvironment(environment)
	var rows []models.Secret
	q := branchScope(db.Where("project_id = ? AND environment_type = ?", projectID, env), b)
	return rows, q.Order("key ASC").Find(&rows).Error
}

// BatchUpsert writes a batch of keys with optimistic concurrency. Every
// key's ExpectedVersion is validated against storage before anything is
// applied; one or more mismatches reject the whole batch with a
// *VersionConflictError enumerating all of them. A batch that passes the
// check is then persisted per key with a compare-and-swap on version, so a
// concurrent writer that slips between check and persist still surfaces as
// the same conflict error and rolls the batch back. Concurrent creates of
// the same missing key are serialized by the unique identity index.
func (s *SecretStore) BatchUpsert(ctx context.Context, projectID, environment, branchName, updatedBy string, writes []SecretWrite) ([]models.Secret, error) {
	if len(writes) == 0 {
		return nil, nil
	}
	env := models.NormalizeEnvironment(environment)
	var out []models.Secret

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.resolveBranch(tx, projectID, branchName)
		if err != nil {
			return err
		}

		// Phase 1: read current versions and collect every conflict before
		// touching anything.
		current := make(map[string]*models.Secret, len(writes))
		var conflicts []VersionConflict
		for _, w := range writes {
			var sec models.Secret
			q := branchScope(tx.Where("project_id = ? AND environment_type = ? AND key = ?", projectID, env, w.Key), b)
			err := q.Order("branch_id IS NULL ASC").First(&sec).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				if w.ExpectedVersion != nil && *w.ExpectedVersion != "" && *w.ExpectedVersion != "0" {
					conflicts = append(conflicts, VersionConflict{Key: w.Key, ExpectedVersion: *w.ExpectedVersion, ActualVersion: "0"})
				}
			case err != nil:
				return err
			default:
				cp := sec
				current[w.Key] = &cp
				if w.ExpectedVersion != nil && *w.ExpectedVersion != sec.Version {
					conflicts = append(conflicts, VersionConflict{Key: w.Key, ExpectedVersion: *w.ExpectedVersion, ActualVersion: sec.Version})
				}
			}
		}
		if len(conflicts) > 0 {
			return &VersionConflictError{Conflicts: conflicts}
		}

		// Phase 2: persist. Each update re-validates via the version
		// predicate in the UPDATE itself.
		now := time.Now().UTC()
		for _, w := range writes {
			sec := current[w.Key]
			if sec == nil {
				created := models.Secret{
					ID:              models.LegitID(),
					ProjectID:       projectID,
					BranchID:        &b.ID,
					EnvironmentType: env,
					Key:             w.Key,
					Value:           w.Value,
					Version:         "1",
					Description:     w.Description,
					CreatedAt:       now,
					UpdatedAt:       now,
					UpdatedBy:       updatedBy,
				}
				if err := tx.Create(&created).Error; err != nil {
					if isDuplicateKey(err) {
						// A concurrent creator won between the batch check
						// and this insert; their row starts at version 1.
						expected := "0"
						if w.ExpectedVersion != nil && *w.ExpectedVersion != "" {
							expected = *w.ExpectedVersion
						}
						return &VersionConflictError{Conflicts: []VersionConflict{{
							Key: w.Key, ExpectedVersion: expected, ActualVersion: "1",
						}}}
					}
					return err
				}
				if err := appendHistory(tx, &created, w.Description); err != nil {
					return err
				}
				out = append(out, created)
				continue
			}

			newVersion := sec.NextVersion()
			res := tx.Model(&models.Secret{}).
				Where("id = ? AND version = ?", sec.ID, sec.Version).
				Updates(map[string]interface{}{
					"value":       w.Value,
					"version":     newVersion,
					"description": w.Description,
					"branch_id":   b.ID, // legacy rows are adopted by main on write
					"updated_at":  now,
					"updated_by":  updatedBy,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				// Lost a race after the batch check; report with the
				// now-current version.
				actual := sec.Version
				var latest models.Secret
				if err := tx.Where("id = ?", sec.ID).First(&latest).Error; err == nil {
					actual = latest.Version
				}
				return &VersionConflictError{Conflicts: []VersionConflict{{
					Key: w.Key, ExpectedVersion: sec.Version, ActualVersion: actual,
				}}}
			}
			sec.Value = w.Value
			sec.Version = newVersion
			sec.Description = w.Description
			sec.BranchID = &b.ID
			sec.UpdatedAt = now
			sec.UpdatedBy = updatedBy
			if err := appendHistory(tx, sec, w.Description); err != nil {
				return err
			}
			out = append(out, *sec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// appendHistory records the just-written value at the just-written version;
// exactly one entry per mutation, in the same transaction as the value
// change. Replaying history at entry N therefore yields the value the
// secret held after that write.
func appendHistory(tx *gorm.DB, sec *models.Secret, description string) error {
	entry := models.SecretHistoryEntry{
		ID:          models.LegitID(),
		SecretID:    sec.ID,
		Version:     sec.Version,
		Value:       sec.Value,
		UpdatedAt:   sec.UpdatedAt,
		UpdatedBy:   sec.UpdatedBy,
		Description: description,
	}
	return tx.Create(&entry).Error
}

// History returns a secret's entries oldest first; the last element always
// reflects the current value.
func (s *SecretStore) History(ctx context.Context, secretID string) ([]models.SecretHistoryEntry, error) {
	var rows []models.SecretHistoryEntry
	err := s.DB.WithContext(ctx).Where("secret_id = ?", secretID).
		Order("CAST(version AS INTEGER) ASC, updated_at ASC").Find(&rows).Error
	return rows, err
}

// Rollback restores the value stored at targetVersion by appending a new
// forward-moving version carrying that ciphertext. Nothing is deleted or
// reordered; the rollback itself becomes part of history.
func (s *SecretStore) Rollback(ctx context.Context, secretID, targetVersion, updatedBy string) (*models.Secret, error) {
	var sec models.Secret
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", secretID).First(&sec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if sec.Version == targetVersion {
			return fmt.Errorf("%w: already at version %s", ErrInvalidState, targetVersion)
		}
		var target models.SecretHistoryEntry
		if err := tx.Where("secret_id = ? AND version = ?", secretID, targetVersion).First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("version %s: %w", targetVersion, ErrNotFound)
			}
			return err
		}

		now := time.Now().UTC()
		newVersion := sec.NextVersion()
		description := fmt.Sprintf("Rolled back to version %s", targetVersion)
		res := tx.Model(&models.Secret{}).
			Where("id = ? AND version = ?", sec.ID, sec.Version).
			Updates(map[string]interface{}{
				"value":       target.Value,
				"version":     newVersion,
				"description": description,
				"updated_at":  now,
				"updated_by":  updatedBy,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return &VersionConflictError{Conflicts: []VersionConflict{{
				Key: sec.Key, ExpectedVersion: sec.Version, ActualVersion: "unknown",
			}}}
		}
		sec.Value = target.Value
		sec.Version = newVersion
		sec.Description = description
		sec.UpdatedAt = now
		sec.UpdatedBy = updatedBy
		return appendHistory(tx, &sec, description)
	})
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

// Clone copies every secret in (branch, fromEnv) to (branch, toEnv).
// Missing keys are created at version "1"; existing keys are skipped unless
// overwrite is set, in which case they get a normal versioned update.
// Running twice with overwrite=false is idempotent: the second run reports
// copied=0.
func (s *SecretStore) Clone(ctx context.Context, projectID, branchName, fromEnv, toEnv, updatedBy string, overwrite bool) (CloneReport, error) {
	var report CloneReport
	src := models.NormalizeEnvironment(fromEnv)
	dst := models.NormalizeEnvironment(toEnv)
	if src == dst {
		return report, fmt.Errorf("%w: source and destination environments are the same", ErrInvalidState)
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.resolveBranch(tx, projectID, branchName)
		if err != nil {
			return err
		}
		var sources []models.Secret
		if err := branchScope(tx.Where("project_id = ? AND environment_type = ?", projectID, src), b).
			Order("key ASC").Find(&sources).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, from := range sources {
			var existing models.Secret
			q := branchScope(tx.Where("project_id = ? AND environment_type = ? AND key = ?", projectID, dst, from.Key), b)
			err := q.Order("branch_id IS NULL ASC").First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				created := models.Secret{
					ID:              models.LegitID(),
					ProjectID:       projectID,
					BranchID:        &b.ID,
					EnvironmentType: dst,
					Key:             from.Key,
					Value:           from.Value,
					Version:         "1",
					Description:     fmt.Sprintf("Cloned from %s", src),
					CreatedAt:       now,
					UpdatedAt:       now,
					UpdatedBy:       updatedBy,
				}
				if err := tx.Create(&created).Error; err != nil {
					if isDuplicateKey(err) {
						return &VersionConflictError{Conflicts: []VersionConflict{{
							Key: from.Key, ExpectedVersion: "0", ActualVersion: "1",
						}}}
					}
					return err
				}
				if err := appendHistory(tx, &created, created.Description); err != nil {
					return err
				}
				report.Copied++
			case err != nil:
				return err
			case !overwrite:
				report.Skipped++
			default:
				newVersion := existing.NextVersion()
				desc := fmt.Sprintf("Cloned from %s", src)
				res := tx.Model(&models.Secret{}).
					Where("id = ? AND version = ?", existing.ID, existing.Version).
					Updates(map[string]interface{}{
						"value":       from.Value,
						"version":     newVersion,
						"description": desc,
						"updated_at":  now,
						"updated_by":  updatedBy,
					})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected != 1 {
					return &VersionConflictError{Conflicts: []VersionConflict{{
						Key: existing.Key, ExpectedVersion: existing.Version, ActualVersion: "unknown",
					}}}
				}
				existing.Value = from.Value
				existing.Version = newVersion
				existing.UpdatedAt = now
				existing.UpdatedBy = updatedBy
				if err := appendHistory(tx, &existing, desc); err != nil {
					return err
				}
				report.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return CloneReport{}, err
	}
	return report, nil
}

// UpdateValue performs a single versioned write against a secret by id,
// with the same compare-and-swap and history semantics as BatchUpsert.
// Rotation uses this path so rotated values land in history like any other
// write.
func (s *SecretStore) UpdateValue(ctx context.Context, secretID, value, description, updatedBy string) (*models.Secret, error) {
	var sec models.Secret
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", secretID).First(&sec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		now := time.Now().UTC()
		newVersion := sec.NextVersion()
		res := tx.Model(&models.Secret{}).
			Where("id = ? AND version = ?", sec.ID, sec.Version).
			Updates(map[string]interface{}{
				"value":       value,
				"version":     newVersion,
				"description": description,
				"updated_at":  now,
				"updated_by":  updatedBy,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return &VersionConflictError{Conflicts: []VersionConflict{{
				Key: sec.Key, ExpectedVersion: sec.Version, ActualVersion: "unknown",
			}}}
		}
		sec.Value = value
		sec.Version = newVersion
		sec.Description = description
		sec.UpdatedAt = now
		sec.UpdatedBy = updatedBy
		return appendHistory(tx, &sec, description)
	})
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

// Delete removes a secret row. Its history rows are kept as the audit trail.
func (s *SecretStore) Delete(ctx context.Context, projectID, environment, branchName, key string) error {
	db := s.DB.WithContext(ctx)
	b, err := s.resolveBranch(db, projectID, branchName)
	if err != nil {
		return err
	}
	env := models.NormalizeEnvironment(environment)
	res := branchScope(db.Where("project_id = ? AND environment_type = ? AND key = ?", projectID, env, key), b).
		Delete(&models.Secret{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateShadow stages or clears a shadow value with its TTL. The main value
// and version are untouched; promotion is a separate versioned write.
func (s *SecretStore) UpdateShadow(ctx context.Context, secretID string, value *string, expiresAt *time.Time) error {
	res := s.DB.WithContext(ctx).Model(&models.Secret{}).Where("id = ?", secretID).
		Updates(map[string]interface{}{"shadow_value": value, "shadow_expires_at": expiresAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
