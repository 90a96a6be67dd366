// internal/infra/etcd/sprite_catalog.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ai-orchestrator/internal/domain"
)

const spritesDir = "sprites"

type spriteCatalog struct {
	client *clientv3.Client
	prefix string
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewSpriteCatalog creates a sprite catalog stored as JSON documents in etcd,
// one key per image path.
func NewSpriteCatalog(client *clientv3.Client, prefix string, logger *slog.Logger) domain.SpriteCatalog {
	return &spriteCatalog{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "sprite-catalog"),
		tracer: otel.Tracer("ai-orchestrator-etcd-catalog"),
		now:    time.Now,
	}
}

func (c *spriteCatalog) key(imagePath string) string {
	return path.Join(c.prefix, spritesDir, url.PathEscape(imagePath))
}

// Add stores metadata as an active sprite, replacing any earlier entry for
// the same image path.
func (c *spriteCatalog) Add(ctx context.Context, metadata *domain.SpriteMetadata, imagePath string) error {
	ctx, span := c.tracer.Start(ctx, "repo.etcd.AddSprite")
	defer span.End()

	entry := *metadata
	entry.ImagePath = imagePath
	entry.IsActive = true
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now().UTC()
	}

	entryJSON, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to marshal sprite %s to JSON: %w", imagePath, err)
	}

	key := c.key(imagePath)
	span.SetAttributes(attribute.String("sprite.image_path", imagePath), attribute.String("etcd.key", key))

	if _, err := c.client.Put(ctx, key, string(entryJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put sprite to etcd")
		return fmt.Errorf("failed to save sprite %s to etcd: %w", imagePath, err)
	}
	return nil
}

// ListActive returns active sprites, oldest first.
func (c *spriteCatalog) ListActive(ctx context.Context) ([]*domain.SpriteMetadata, error) {
	ctx, span := c.tracer.Start(ctx, "repo.etcd.ListSprites")
	defer span.End()

	resp, err := c.client.Get(ctx, path.Join(c.prefix, spritesDir)+"/", clientv3.WithPrefix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list sprites from etcd")
		return nil, fmt.Errorf("failed to list sprites from etcd: %w", err)
	}
	span.SetAttributes(attribute.Int("etcd.kv_count", len(resp.Kvs)))

	sprites := make([]*domain.SpriteMetadata, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var sprite domain.SpriteMetadata
		if err := json.Unmarshal(kv.Value, &sprite); err != nil {
			c.logger.Warn("failed to unmarshal sprite from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		if sprite.IsActive {
			sprites = append(sprites, &sprite)
		}
	}
	sort.SliceStable(sprites, func(i, j int) bool {
		return sprites[i].CreatedAt.Before(sprites[j].CreatedAt)
	})
	return sprites, nil
}

// Deactivate marks the sprite at imagePath inactive. The update only
// applies if the entry was not modified since it was read.
func (c *spriteCatalog) Deactivate(ctx context.Context, imagePath string) error {
	ctx, span := c.tracer.Start(ctx, "repo.etcd.DeactivateSprite")
	defer span.End()
	span.SetAttributes(attribute.String("sprite.image_path", imagePath))

	key := c.key(imagePath)
	resp, err := c.client.Get(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get sprite from etcd")
		return fmt.Errorf("failed to get sprite %s from etcd: %w", imagePath, err)
	}
	if len(resp.Kvs) == 0 {
		return domain.ErrSpriteNotFound
	}

	kv := resp.Kvs[0]
	var sprite domain.SpriteMetadata
	if err := json.Unmarshal(kv.Value, &sprite); err != nil {
		return fmt.Errorf("failed to unmarshal sprite %s from JSON: %w", imagePath, err)
	}
	sprite.IsActive = false
	spriteJSON, err := json.Marshal(&sprite)
	if err != nil {
		return fmt.Errorf("failed to marshal sprite %s to JSON: %w", imagePath, err)
	}

	txnResp, err := c.client.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", kv.ModRevision)).
		Then(clientv3.OpPut(key, string(spriteJSON))).
		Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deactivate sprite in etcd")
		return fmt.Errorf("failed to deactivate sprite %s: %w", imagePath, err)
	}
	if !txnResp.Succeeded {
		return fmt.Errorf("sprite %s was modified concurrently", imagePath)
	}
	return nil
}
