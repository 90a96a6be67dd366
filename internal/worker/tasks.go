// internal/worker/tasks.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/modeljson"
	"ai-orchestrator/internal/prompt"
)

const monitorLockName = "monitor_sprites_directory"

// TaskDeps are the collaborators of the built-in task handlers.
type TaskDeps struct {
	// Text serves the text_queue tasks with its default model.
	Text domain.Provider
	// Vision serves the vision_queue tasks.
	Vision  domain.Provider
	Catalog domain.SpriteCatalog
	Storage domain.FileStorage
	Locker  domain.Locker
	Logger  *slog.Logger
}

type tasks struct {
	TaskDeps
	logger *slog.Logger
}

// RegisterTasks binds every built-in task to h.
func RegisterTasks(h *Handlers, deps TaskDeps) {
	t := &tasks{TaskDeps: deps, logger: deps.Logger.With("component", "tasks")}
	h.Register(domain.TaskGenerateProductDescription, t.generateProductDescription)
	h.Register(domain.TaskProcessAnimationScript, t.processAnimationScript)
	h.Register(domain.TaskSimpleTest, t.simpleTest)
	h.Register(domain.TaskProcessProductImage, t.processProductImage)
	h.Register(domain.TaskAnalyzeSprite, t.analyzeSprite)
	h.Register(domain.TaskMonitorSpritesDirectory, t.monitorSpritesDirectory)
}

func (t *tasks) generateProductDescription(ctx context.Context, msg *domain.TaskMessage) (any, error) {
	productName, err := requiredStringArg(msg, 0, "product_name_input")
	if err != nil {
		return nil, err
	}
	categoryHint, err := stringArg(msg, 1, "category_hint")
	if err != nil {
		return nil, err
	}

	reply, err := t.Text.Generate(ctx, "", prompt.ProductDescription(productName, categoryHint))
	if err != nil {
		return nil, err
	}
	var desc domain.ProductDescription
	if err := modeljson.Parse(msg.TaskName, reply, &desc); err != nil {
		return nil, err
	}
	return desc, nil
}

func (t *tasks) processAnimationScript(ctx context.Context, msg *domain.TaskMessage) (any, error) {
	var input any = msg.Kwargs
	if len(msg.Kwargs) == 0 && len(msg.Args) > 0 {
		input = msg.Args[0]
	}
	var req domain.AnimationRequest
	if err := modeljson.Decode(input, &req); err != nil {
		return nil, domain.ValidationFailure(msg.TaskName, "invalid animation request", fmt.Sprint(input))
	}
	if err := modeljson.Validate(&req); err != nil {
		return nil, domain.ValidationFailure(msg.TaskName, "animation request requires a script", "")
	}

	sprites, err := t.Catalog.ListActive(ctx)
	if err != nil {
		// The scene can still be built from the stock skins.
		t.logger.Warn("failed to load sprite catalog for animation context", "error", err)
	}

	reply, err := t.Text.Generate(ctx, "", prompt.AnimationScene(req, sprites))
	if err != nil {
		return nil, err
	}
	var scene domain.AnimationScene
	if err := modeljson.Parse(msg.TaskName, reply, &scene); err != nil {
		return nil, err
	}
	return scene, nil
}

func (t *tasks) simpleTest(ctx context.Context, msg *domain.TaskMessage) (any, error) {
	return t.Text.Generate(ctx, "", prompt.SimpleTest)
}

func (t *tasks) processProductImage(ctx context.Context, msg *domain.TaskMessage) (any, error) {
	imagePath, err := requiredStringArg(msg, 0, "image_path")
	if err != nil {
		return nil, err
	}
	projectID, _ := stringArg(msg, 1, "project_id")
	logger := t.logger.With("task_id", msg.ID, "image_path", imagePath, "project_id", projectID)

	local, err := t.Storage.Resolve(imagePath)
	if err != nil {
		return nil, err
	}

	// The upload is consumed whatever the outcome.
	defer func() {
		if err := t.Storage.Remove(context.WithoutCancel(ctx), local); err != nil {
			logger.Warn("failed to remove processed image", "error", err)
		}
	}()

	analysis, err := t.Vision.Analyze(ctx, local, prompt.ProductImage)
	if err != nil {
		return nil, err
	}
	logger.Info("product image analyzed")
	return analysis, nil
}

func (t *tasks) analyzeSprite(ctx context.Context, msg *domain.TaskMessage) (any, error) {
	imagePath, err := requiredStringArg(msg, 0, "image_path")
	if err != nil {
		return nil, err
	}
	return t.catalogSprite(ctx, msg.TaskName, imagePath)
}

// catalogSprite analyzes the image at the public path imagePath and adds the
// validated metadata to the catalog.
func (t *tasks) catalogSprite(ctx context.Context, op, imagePath string) (*domain.SpriteMetadata, error) {
	local, err := t.Storage.Resolve(imagePath)
	if err != nil {
		return nil, err
	}
	reply, err := t.Vision.Analyze(ctx, local, prompt.SpriteAnalysis)
	if err != nil {
		return nil, err
	}
	var meta domain.SpriteMetadata
	if err := modeljson.Parse(op, reply, &meta); err != nil {
		return nil, err
	}
	meta.CreatedAt = time.Now().UTC()
	if err := t.Catalog.Add(ctx, &meta, imagePath); err != nil {
		return nil, fmt.Errorf("failed to add sprite to catalog: %w", err)
	}
	meta.ImagePath = imagePath
	meta.IsActive = true
	return &meta, nil
}

// MonitorReport summarizes one scan of the sprites directory.
type MonitorReport struct {
	Skipped bool     `json:"skipped,omitempty"`
	Scanned int      `json:"scanned"`
	Added   []string `json:"added"`
	Failed  []string `json:"failed"`
}

func (t *tasks) monitorSpritesDirectory(ctx context.Context, msg *domain.TaskMessage) (any, error) {
	lock, err := t.Locker.Lock(ctx, monitorLockName)
	if errors.Is(err, domain.ErrLockNotAcquired) {
		t.logger.Info("sprites directory scan already running elsewhere, skipping")
		return MonitorReport{Skipped: true, Added: []string{}, Failed: []string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire monitor lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			t.logger.Error("failed to release monitor lock", "error", err)
		}
	}()

	files, err := t.Storage.ListSprites(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sprites directory: %w", err)
	}
	active, err := t.Catalog.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(active))
	for _, s := range active {
		known[s.ImagePath] = true
	}

	report := MonitorReport{Scanned: len(files), Added: []string{}, Failed: []string{}}
	for _, file := range files {
		if known[file] {
			continue
		}
		if _, err := t.catalogSprite(ctx, msg.TaskName, file); err != nil {
			t.logger.Warn("failed to catalog sprite", "path", file, "error", err)
			report.Failed = append(report.Failed, file)
			continue
		}
		report.Added = append(report.Added, file)
	}
	if len(report.Added) > 0 || len(report.Failed) > 0 {
		t.logger.Info("sprites directory scanned", "scanned", report.Scanned, "added", len(report.Added), "failed", len(report.Failed))
	}
	return report, nil
}
