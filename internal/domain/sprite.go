// internal/domain/sprite.go
package domain

import (
	"context"
	"errors"
	"time"
)

// ErrSpriteNotFound is returned when no catalog entry matches an image path.
var ErrSpriteNotFound = errors.New("sprite not found")

// SpriteMetadata describes a catalogued sprite image. The descriptive fields
// are produced by a vision model and validated before storage.
type SpriteMetadata struct {
	Name              string    `json:"name" validate:"required"`
	Description       string    `json:"description" validate:"required"`
	SuggestedSkinName string    `json:"suggested_skin_name,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	ImagePath         string    `json:"image_path"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

// DisplayName returns the skin name when the model suggested one.
func (s *SpriteMetadata) DisplayName() string {
	if s.SuggestedSkinName != "" {
		return s.SuggestedSkinName
	}
	return s.Name
}

// SpriteCatalog is the metadata store for sprites.
type SpriteCatalog interface {
	// Add stores metadata for the image at imagePath and marks it active.
	Add(ctx context.Context, metadata *SpriteMetadata, imagePath string) error
	// ListActive returns every active sprite.
	ListActive(ctx context.Context) ([]*SpriteMetadata, error)
	// Deactivate hides a sprite. It returns ErrSpriteNotFound for unknown paths.
	Deactivate(ctx context.Context, imagePath string) error
}
