package models

import "gorm.io/gorm"

// Avatar is a stored reference video + audio pair that tasks can select by
// id instead of supplying raw paths.
type Avatar struct {
	BaseModel

	// Name is the unique display name.
	Name string `gorm:"not null;size:255;uniqueIndex" json:"name"`

	// VideoPath is the host path of the reference face video.
	VideoPath string `gorm:"not null;size:1024" json:"video_path"`

	// AudioPath is the host path of the voice reference audio. Optional;
	// when empty the audio is extracted from the video at accept time.
	AudioPath string `gorm:"size:1024" json:"audio_path,omitempty"`

	// Notes is free-form operator text.
	Notes string `gorm:"size:4096" json:"notes,omitempty"`
}

// TableName returns the table name for Avatar.
func (Avatar) TableName() string {
	return "avatars"
}

// Validate performs basic validation on the avatar.
func (a *Avatar) Validate() error {
	if a.Name == "" {
		return ErrNameRequired
	}
	if a.VideoPath == "" {
		return ErrVideoPathRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the avatar and generates its ULID.
func (a *Avatar) BeforeCreate(tx *gorm.DB) error {
	if err := a.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return a.Validate()
}

// BeforeUpdate is a GORM hook that validates the avatar before update.
func (a *Avatar) BeforeUpdate(tx *gorm.DB) error {
	return a.Validate()
}
