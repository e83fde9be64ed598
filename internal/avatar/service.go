// Package avatar provides the catalog service resolving avatar ids to
// stored reference media.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/surajit20072003/heygemd/internal/models"
	"github.com/surajit20072003/heygemd/internal/repository"
)

// Service-level errors for the avatar catalog.
var (
	// ErrNameTaken is returned when creating an avatar whose name is
	// already in the catalog.
	ErrNameTaken = errors.New("avatar name already in use")

	// ErrMediaMissing is returned when a referenced media file does not
	// exist on disk.
	ErrMediaMissing = errors.New("referenced media file does not exist")

	// ErrInvalidID is returned when an avatar id does not parse as a ULID.
	ErrInvalidID = errors.New("invalid avatar id")
)

// Service provides business logic for the avatar catalog.
type Service struct {
	repo   repository.AvatarRepository
	logger *slog.Logger
}

// NewService creates a new avatar catalog service.
func NewService(repo repository.AvatarRepository) *Service {
	return &Service{
		repo:   repo,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger
	return s
}

// Create validates and stores a new avatar. The referenced video (and
// audio, when given) must already exist on disk; names are unique.
func (s *Service) Create(ctx context.Context, avatar *models.Avatar) error {
	if err := avatar.Validate(); err != nil {
		return err
	}

	existing, err := s.repo.GetByName(ctx, avatar.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %q", ErrNameTaken, avatar.Name)
	}

	if _, err := os.Stat(avatar.VideoPath); err != nil {
		return fmt.Errorf("%w: %s", ErrMediaMissing, avatar.VideoPath)
	}
	if avatar.AudioPath != "" {
		if _, err := os.Stat(avatar.AudioPath); err != nil {
			return fmt.Errorf("%w: %s", ErrMediaMissing, avatar.AudioPath)
		}
	}

	if err := s.repo.Create(ctx, avatar); err != nil {
		return err
	}

	s.logger.Info("avatar created",
		slog.String("avatar_id", avatar.ID.String()),
		slog.String("name", avatar.Name),
	)
	return nil
}

// GetByID retrieves an avatar by ID.
func (s *Service) GetByID(ctx context.Context, id models.ULID) (*models.Avatar, error) {
	avatar, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if avatar == nil {
		return nil, models.ErrAvatarNotFound
	}
	return avatar, nil
}

// Resolve looks up an avatar by its string id. Used at task accept time to
// turn an avatar_id into reference media paths.
func (s *Service) Resolve(ctx context.Context, id string) (*models.Avatar, error) {
	parsed, err := models.ParseULID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return s.GetByID(ctx, parsed)
}

// List retrieves all avatars ordered by name.
func (s *Service) List(ctx context.Context) ([]*models.Avatar, error) {
	return s.repo.GetAll(ctx)
}

// Delete removes an avatar from the catalog. Stored media files are left
// in place; they may be shared with other avatars or running tasks.
func (s *Service) Delete(ctx context.Context, id models.ULID) error {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return models.ErrAvatarNotFound
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("avatar deleted",
		slog.String("avatar_id", id.String()),
		slog.String("name", existing.Name),
	)
	return nil
}
