package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ai-orchestrator/internal/dispatch"
	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/modeljson"
	"ai-orchestrator/internal/prompt"
)

// CatalogService covers product intake and the sprite catalog.
type CatalogService struct {
	tasks   TaskSubmitter
	storage domain.FileStorage
	catalog domain.SpriteCatalog
	vision  domain.Provider
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewCatalogService creates a CatalogService. vision serves inline sprite
// analysis.
func NewCatalogService(tasks TaskSubmitter, storage domain.FileStorage, catalog domain.SpriteCatalog, vision domain.Provider, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		tasks:   tasks,
		storage: storage,
		catalog: catalog,
		vision:  vision,
		logger:  logger.With("component", "catalog-service"),
		tracer:  otel.Tracer("ai-orchestrator-usecase"),
	}
}

// IntakeProductImage stages an uploaded product photo and queues its
// analysis. The worker removes the staged file when done.
func (s *CatalogService) IntakeProductImage(ctx context.Context, content io.Reader, filename, projectID string) (domain.TaskTicket, error) {
	ctx, span := s.tracer.Start(ctx, "service.IntakeProductImage", trace.WithAttributes(attribute.String("project.id", projectID)))
	defer span.End()

	staged, err := s.storage.Save(ctx, content, filename)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to stage upload")
		return domain.TaskTicket{}, err
	}

	var project any
	if projectID != "" {
		project = projectID
	}
	taskID, err := s.tasks.Submit(ctx, domain.TaskProcessProductImage, []any{staged, project}, nil, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit task")
		if rmErr := s.storage.Remove(ctx, staged); rmErr != nil {
			s.logger.Warn("failed to remove staged upload", "path", staged, "error", rmErr)
		}
		return domain.TaskTicket{}, err
	}
	return domain.NewTaskTicket(taskID), nil
}

// GenerateProductDescription queues a product listing generation.
func (s *CatalogService) GenerateProductDescription(ctx context.Context, req domain.ProductDescriptionRequest) (domain.TaskTicket, error) {
	ctx, span := s.tracer.Start(ctx, "service.GenerateProductDescription")
	defer span.End()

	var hint any
	if req.CategoryHint != nil {
		hint = *req.CategoryHint
	}
	taskID, err := s.tasks.Submit(ctx, domain.TaskGenerateProductDescription, []any{req.ProductNameInput, hint}, nil, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit task")
		return domain.TaskTicket{}, err
	}
	return domain.NewTaskTicket(taskID), nil
}

// ProcessAnimationScript queues the conversion of a script into a scene.
func (s *CatalogService) ProcessAnimationScript(ctx context.Context, req domain.AnimationRequest) (domain.TaskTicket, error) {
	ctx, span := s.tracer.Start(ctx, "service.ProcessAnimationScript")
	defer span.End()

	kwargs := map[string]any{"script": req.Script}
	if req.CurrentAnimationState != nil {
		kwargs["current_animation_state"] = req.CurrentAnimationState
	}
	taskID, err := s.tasks.Submit(ctx, domain.TaskProcessAnimationScript, nil, kwargs, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit task")
		return domain.TaskTicket{}, err
	}
	return domain.NewTaskTicket(taskID), nil
}

// AnalyzeSprite analyzes an uploaded sprite inline and records it in the
// catalog under /sprites/{filename}. The upload itself is discarded.
func (s *CatalogService) AnalyzeSprite(ctx context.Context, content io.Reader, filename string) domain.Envelope {
	ctx, span := s.tracer.Start(ctx, "service.AnalyzeSprite", trace.WithAttributes(attribute.String("file.name", filename)))
	defer span.End()

	env := dispatch.Wrap(ctx, func(ctx context.Context) (any, error) {
		name := path.Base("/" + strings.ReplaceAll(filename, "\\", "/"))
		if name == "/" || name == "." {
			return nil, domain.ValidationFailure("service.AnalyzeSprite", "missing file name", filename)
		}

		staged, err := s.storage.Save(ctx, content, name)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := s.storage.Remove(context.WithoutCancel(ctx), staged); err != nil {
				s.logger.Warn("failed to remove staged sprite", "path", staged, "error", err)
			}
		}()

		reply, err := s.vision.Analyze(ctx, staged, prompt.SpriteAnalysis)
		if err != nil {
			return nil, err
		}
		var meta domain.SpriteMetadata
		if err := modeljson.Parse("service.AnalyzeSprite", reply, &meta); err != nil {
			return nil, err
		}

		imagePath := "/sprites/" + name
		meta.CreatedAt = time.Now().UTC()
		if err := s.catalog.Add(ctx, &meta, imagePath); err != nil {
			return nil, fmt.Errorf("failed to add sprite to catalog: %w", err)
		}
		meta.ImagePath = imagePath
		meta.IsActive = true
		return &meta, nil
	})
	if !env.Succeeded() {
		span.SetStatus(codes.Error, env.Error)
		s.logger.Warn("sprite analysis failed", "file", filename, "kind", env.Kind, "error", env.Error)
	}
	return env
}

// ListSprites returns the active catalog entries.
func (s *CatalogService) ListSprites(ctx context.Context) ([]*domain.SpriteMetadata, error) {
	ctx, span := s.tracer.Start(ctx, "service.ListSprites")
	defer span.End()

	sprites, err := s.catalog.ListActive(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list sprites")
		return nil, err
	}
	return sprites, nil
}

// DeleteSprite deactivates the catalog entry of imagePath and moves its
// file to the archive.
func (s *CatalogService) DeleteSprite(ctx context.Context, imagePath string) error {
	ctx, span := s.tracer.Start(ctx, "service.DeleteSprite", trace.WithAttributes(attribute.String("image.path", imagePath)))
	defer span.End()

	if !strings.HasPrefix(imagePath, "/") {
		imagePath = "/" + imagePath
	}
	if err := s.catalog.Deactivate(ctx, imagePath); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deactivate sprite")
		return err
	}
	if err := s.storage.Archive(ctx, imagePath); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to archive sprite")
		return err
	}
	s.logger.Info("sprite deleted", "image_path", imagePath)
	return nil
}
