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

type BranchStore struct{ DB *gorm.DB }

func NewBranchStore(db *gorm.DB) *BranchStore { return &BranchStore{DB: db} }

// EnsureMain creates the project's main branch if it does not exist yet and
// returns it. Safe to call on every project bootstrap.
func (s *BranchStore) EnsureMain(ctx context.Context, projectID string) (*models.Branch, error) {
	var b models.Branch
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("project_id = ? AND name = ?", projectID, models.MainBranchName).First(&b).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			b = models.Branch{
				ID:        models.LegitID(),
				ProjectID: projectID,
				Name:      models.MainBranchName,
				VersionNo: 1,
				CreatedAt: time.Now().UTC(),
			}
			return tx.Create(&b).Error
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Create adds a branch. Names are unique within a project; "main" is
// reserved for EnsureMain.
func (s *BranchStore) Create(ctx context.Context, projectID, name string) (*models.Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(projectID) == "" {
		return nil, gorm.ErrInvalidData
	}
	if strings.EqualFold(name, models.MainBranchName) {
		return nil, fmt.Errorf("%w: %q is created implicitly", ErrInvalidState, models.MainBranchName)
	}
	var b models.Branch
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Branch{}).Where("project_id = ? AND name = ?", projectID, name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: branch %q already exists", ErrInvalidState, name)
		}
		b = models.Branch{
			ID:        models.LegitID(),
			ProjectID: projectID,
			Name:      name,
			VersionNo: 1,
			CreatedAt: time.Now().UTC(),
		}
		return tx.Create(&b).Error
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetByName resolves a branch within a project. An empty name resolves to
// main.
func (s *BranchStore) GetByName(ctx context.Context, projectID, name string) (*models.Branch, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = models.MainBranchName
	}
	var b models.Branch
	if err := s.DB.WithContext(ctx).Where("project_id = ? AND name = ?", projectID, name).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// List returns a project's branches, main first, then by name.
func (s *BranchStore) List(ctx context.Context, projectID string) ([]models.Branch, error) {
	var rows []models.Branch
	err := s.DB.WithContext(ctx).Where("project_id = ?", projectID).
		Order("CASE WHEN name = 'main' THEN 0 ELSE 1 END, name ASC").Find(&rows).Error
	return rows, err
}

// Delete removes a branch and its secrets. main cannot be deleted.
func (s *BranchStore) Delete(ctx context.Context, projectID, name string) error {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, models.MainBranchName) {
		return fmt.Errorf("%w: the main branch cannot be deleted", ErrInvalidState)
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b models.Branch
		if err := tx.Where("project_id = ? AND name = ?", projectID, name).First(&b).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		// History rows are kept: they are the durable audit trail even
		// after the secret rows go away.
		if err := tx.Where("branch_id = ?", b.ID).Delete(&models.Secret{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", b.ID).Delete(&models.Branch{}).Error
	})
}
