package usecase

import (
	"context"
	"errors"
	"log/slog"
	"mime"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ai-orchestrator/internal/dispatch"
	"ai-orchestrator/internal/domain"
)

// GeneratedImageResult is the result of a successful image generation.
type GeneratedImageResult struct {
	ImagePath      string `json:"image_path"`
	AnalysisTaskID string `json:"analysis_task_id,omitempty"`
}

// ImageService generates images and queues their catalog analysis.
type ImageService struct {
	generator domain.ImageGenerator
	storage   domain.FileStorage
	tasks     TaskSubmitter
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewImageService creates an ImageService. generator may be nil when no
// image-capable provider is configured.
func NewImageService(generator domain.ImageGenerator, storage domain.FileStorage, tasks TaskSubmitter, logger *slog.Logger) *ImageService {
	return &ImageService{
		generator: generator,
		storage:   storage,
		tasks:     tasks,
		logger:    logger.With("component", "image-service"),
		tracer:    otel.Tracer("ai-orchestrator-usecase"),
	}
}

// GenerateImage renders prompt, stores the image and enqueues its sprite
// analysis. A failed enqueue does not fail the generation.
func (s *ImageService) GenerateImage(ctx context.Context, prompt string, opts domain.ImageOptions) domain.Envelope {
	ctx, span := s.tracer.Start(ctx, "service.GenerateImage", trace.WithAttributes(attribute.String("aspect_ratio", opts.AspectRatio)))
	defer span.End()

	env := dispatch.Wrap(ctx, func(ctx context.Context) (any, error) {
		if s.generator == nil {
			return nil, domain.ProviderFailure("service.GenerateImage", errors.New("no image generation provider configured"))
		}
		img, err := s.generator.GenerateImage(ctx, prompt, opts)
		if err != nil {
			return nil, err
		}
		path, err := s.storage.SaveGenerated(ctx, img.Data, extensionFor(img.MIMEType))
		if err != nil {
			return nil, err
		}

		result := GeneratedImageResult{ImagePath: path}
		taskID, err := s.tasks.Submit(ctx, domain.TaskAnalyzeSprite, []any{path}, nil, "")
		if err != nil {
			span.RecordError(err)
			s.logger.Warn("failed to queue sprite analysis", "image_path", path, "error", err)
		} else {
			result.AnalysisTaskID = taskID
		}
		return result, nil
	})
	if !env.Succeeded() {
		span.SetStatus(codes.Error, env.Error)
		s.logger.Warn("image generation failed", "kind", env.Kind, "error", env.Error)
	}
	return env
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png", "":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		return exts[0]
	}
	return ".png"
}
