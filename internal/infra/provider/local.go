// internal/infra/provider/local.go
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/metrics"
)

// LocalConfig configures LocalProvider.
type LocalConfig struct {
	BaseURL     string
	TextModel   string
	VisionModel string
	Timeout     time.Duration
	// EnsureModel pulls a model on first use when the server lacks it.
	EnsureModel bool
}

// LocalProvider talks to an Ollama server. Completions go through its
// OpenAI-compatible endpoint; model management uses the native API.
type LocalProvider struct {
	client *openai.Client
	http   *http.Client
	cfg    LocalConfig
	fs     afero.Fs
	logger *slog.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	pulled map[string]bool
}

var _ domain.Provider = (*LocalProvider)(nil)

// NewLocalProvider creates a provider for the Ollama server at cfg.BaseURL.
func NewLocalProvider(cfg LocalConfig, fs afero.Fs, logger *slog.Logger) *LocalProvider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	httpClient := &http.Client{Timeout: cfg.Timeout}

	oc := openai.DefaultConfig("ollama")
	oc.BaseURL = cfg.BaseURL + "/v1"
	oc.HTTPClient = httpClient

	return &LocalProvider{
		client: openai.NewClientWithConfig(oc),
		http:   httpClient,
		cfg:    cfg,
		fs:     fs,
		logger: logger.With("component", "local-provider"),
		tracer: otel.Tracer("ai-orchestrator-provider"),
		pulled: make(map[string]bool),
	}
}

func (p *LocalProvider) Kind() domain.ProviderKind {
	return domain.ProviderKindLocal
}

// Generate sends a text prompt to model, or to the default text model.
func (p *LocalProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = p.cfg.TextModel
	}
	ctx, span := p.tracer.Start(ctx, "provider.local.Generate", trace.WithAttributes(attribute.String("model", model)))
	defer span.End()

	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt}
	text, err := p.complete(ctx, "generate", model, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return "", err
	}
	return text, nil
}

// Analyze sends the image at imagePath inline as a data URI.
func (p *LocalProvider) Analyze(ctx context.Context, imagePath, prompt string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "provider.local.Analyze", trace.WithAttributes(attribute.String("image.path", imagePath)))
	defer span.End()

	data, err := afero.ReadFile(p.fs, imagePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read image")
		return "", domain.ProviderFailure("ollama.Analyze", fmt.Errorf("failed to read image %s: %w", imagePath, err))
	}
	dataURI := "data:" + detectMIMEType(imagePath, data) + ";base64," + base64.StdEncoding.EncodeToString(data)

	msg := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURI}},
		},
	}
	text, err := p.complete(ctx, "analyze", p.cfg.VisionModel, msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analyze failed")
		return "", err
	}
	return text, nil
}

func (p *LocalProvider) complete(ctx context.Context, op, model string, msg openai.ChatCompletionMessage) (string, error) {
	if p.cfg.EnsureModel {
		if err := p.ensureModel(ctx, model); err != nil {
			metrics.ProviderRequestsTotal.WithLabelValues(string(domain.ProviderKindLocal), op, "error").Inc()
			return "", domain.ProviderFailure("ollama."+op, err)
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: []openai.ChatCompletionMessage{msg},
	})
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(string(domain.ProviderKindLocal), op, "error").Inc()
		p.logger.Error("ollama request failed", "operation", op, "model", model, "error", err)
		return "", domain.ProviderFailure("ollama."+op, err)
	}
	if len(resp.Choices) == 0 {
		metrics.ProviderRequestsTotal.WithLabelValues(string(domain.ProviderKindLocal), op, "empty").Inc()
		return "", domain.ProviderFailure("ollama."+op, errors.New("no response from model"))
	}
	metrics.ProviderRequestsTotal.WithLabelValues(string(domain.ProviderKindLocal), op, "ok").Inc()
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ensureModel pulls model unless the server already lists it. Results are
// remembered for the life of the provider.
func (p *LocalProvider) ensureModel(ctx context.Context, model string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pulled[model] {
		return nil
	}

	available, err := p.listModels(ctx)
	if err != nil {
		return err
	}
	for _, name := range available {
		if name == model || name == model+":latest" {
			p.pulled[model] = true
			return nil
		}
	}

	p.logger.Info("model not found locally, pulling", "model", model)
	body, _ := json.Marshal(map[string]any{"name": model, "stream": false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := p.do(req, nil); err != nil {
		return fmt.Errorf("failed to pull model %s: %w", model, err)
	}
	p.logger.Info("model pulled", "model", model)
	p.pulled[model] = true
	return nil
}

func (p *LocalProvider) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tags request: %w", err)
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := p.do(req, &tags); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// do performs req and decodes a JSON body into out when out is not nil.
func (p *LocalProvider) do(req *http.Request, out any) error {
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ollama returned %s: %s", resp.Status, strings.TrimSpace(string(bodyBytes)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return nil
}
