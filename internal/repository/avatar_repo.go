package repository

import (
	"context"
	"fmt"

	"github.com/surajit20072003/heygemd/internal/models"
	"gorm.io/gorm"
)

// avatarRepo implements AvatarRepository using GORM.
type avatarRepo struct {
	db *gorm.DB
}

// NewAvatarRepository creates a new AvatarRepository.
func NewAvatarRepository(db *gorm.DB) *avatarRepo {
	return &avatarRepo{db: db}
}

// Create creates a new avatar.
func (r *avatarRepo) Create(ctx context.Context, avatar *models.Avatar) error {
	if err := r.db.WithContext(ctx).Create(avatar).Error; err != nil {
		return fmt.Errorf("creating avatar: %w", err)
	}
	return nil
}

// GetByID retrieves an avatar by ID.
func (r *avatarRepo) GetByID(ctx context.Context, id models.ULID) (*models.Avatar, error) {
	var avatar models.Avatar
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&avatar).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting avatar by ID: %w", err)
	}
	return &avatar, nil
}

// GetByName retrieves an avatar by name.
func (r *avatarRepo) GetByName(ctx context.Context, name string) (*models.Avatar, error) {
	var avatar models.Avatar
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&avatar).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting avatar by name: %w", err)
	}
	return &avatar, nil
}

// GetAll retrieves all avatars ordered by name.
func (r *avatarRepo) GetAll(ctx context.Context) ([]*models.Avatar, error) {
	var avatars []*models.Avatar
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&avatars).Error; err != nil {
		return nil, fmt.Errorf("getting all avatars: %w", err)
	}
	return avatars, nil
}

// Delete deletes an avatar by ID.
func (r *avatarRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Avatar{}).Error; err != nil {
		return fmt.Errorf("deleting avatar: %w", err)
	}
	return nil
}

// Ensure avatarRepo implements AvatarRepository at compile time.
var _ AvatarRepository = (*avatarRepo)(nil)
