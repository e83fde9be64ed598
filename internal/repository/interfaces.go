// Package repository defines data access interfaces for persisted entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"

	"github.com/surajit20072003/heygemd/internal/models"
)

// AvatarRepository defines operations for avatar catalog persistence.
type AvatarRepository interface {
	// Create creates a new avatar.
	Create(ctx context.Context, avatar *models.Avatar) error
	// GetByID retrieves an avatar by ID. Returns (nil, nil) when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.Avatar, error)
	// GetByName retrieves an avatar by its unique name. Returns (nil, nil)
	// when absent.
	GetByName(ctx context.Context, name string) (*models.Avatar, error)
	// GetAll retrieves all avatars ordered by name.
	GetAll(ctx context.Context) ([]*models.Avatar, error)
	// Delete deletes an avatar by ID.
	Delete(ctx context.Context, id models.ULID) error
}
