package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ai-orchestrator/internal/domain"
)

// SpriteCatalog keeps sprite metadata in a map keyed by image path.
type SpriteCatalog struct {
	mu      sync.RWMutex
	sprites map[string]domain.SpriteMetadata
}

// NewSpriteCatalog creates an empty catalog.
func NewSpriteCatalog() *SpriteCatalog {
	return &SpriteCatalog{sprites: make(map[string]domain.SpriteMetadata)}
}

func (c *SpriteCatalog) Add(ctx context.Context, metadata *domain.SpriteMetadata, imagePath string) error {
	entry := *metadata
	entry.ImagePath = imagePath
	entry.IsActive = true
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sprites[imagePath] = entry
	return nil
}

func (c *SpriteCatalog) ListActive(ctx context.Context) ([]*domain.SpriteMetadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.SpriteMetadata, 0, len(c.sprites))
	for _, s := range c.sprites {
		if s.IsActive {
			s := s
			out = append(out, &s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ImagePath < out[j].ImagePath
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (c *SpriteCatalog) Deactivate(ctx context.Context, imagePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sprites[imagePath]
	if !ok {
		return domain.ErrSpriteNotFound
	}
	s.IsActive = false
	c.sprites[imagePath] = s
	return nil
}
