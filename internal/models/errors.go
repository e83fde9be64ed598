package models

import "errors"

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrTextRequired indicates the narration text is missing.
	ErrTextRequired = errors.New("text is required")

	// ErrVideoPathRequired indicates a required video path field is empty.
	ErrVideoPathRequired = errors.New("video_path is required")

	// ErrAvatarNotFound indicates the referenced avatar does not exist.
	ErrAvatarNotFound = errors.New("avatar not found")

	// ErrInvalidPhaseTransition indicates a backwards or out-of-order phase move.
	ErrInvalidPhaseTransition = errors.New("invalid phase transition")

	// ErrInvalidChunkCount indicates a chunk count below 1.
	ErrInvalidChunkCount = errors.New("chunk count must be at least 1")
)
