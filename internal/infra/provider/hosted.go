// internal/infra/provider/hosted.go
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"ai-orchestrator/internal/domain"
	"ai-orchestrator/internal/metrics"
)

// HostedConfig configures HostedProvider.
type HostedConfig struct {
	APIKey            string
	TextModel         string
	VisionModel       string
	ImageModel        string
	RequestsPerSecond float64
	Burst             int
}

// contentGenerator is the part of genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// HostedProvider calls the Gemini API. Requests are rate limited to stay
// within the account quota.
type HostedProvider struct {
	models  contentGenerator
	cfg     HostedConfig
	fs      afero.Fs
	limiter *rate.Limiter
	logger  *slog.Logger
	tracer  trace.Tracer
}

var (
	_ domain.Provider       = (*HostedProvider)(nil)
	_ domain.ImageGenerator = (*HostedProvider)(nil)
)

// NewHostedProvider creates a Gemini client. Images to analyze are read from fs.
func NewHostedProvider(ctx context.Context, cfg HostedConfig, fs afero.Fs, logger *slog.Logger) (*HostedProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is not configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newHostedProvider(client.Models, cfg, fs, logger), nil
}

func newHostedProvider(models contentGenerator, cfg HostedConfig, fs afero.Fs, logger *slog.Logger) *HostedProvider {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &HostedProvider{
		models:  models,
		cfg:     cfg,
		fs:      fs,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("component", "hosted-provider"),
		tracer:  otel.Tracer("ai-orchestrator-provider"),
	}
}

func (p *HostedProvider) Kind() domain.ProviderKind {
	return domain.ProviderKindHosted
}

// Generate sends a text prompt.
func (p *HostedProvider) Generate(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = p.cfg.TextModel
	}
	ctx, span := p.tracer.Start(ctx, "provider.hosted.Generate", trace.WithAttributes(attribute.String("model", model)))
	defer span.End()

	resp, err := p.call(ctx, "generate", model, genai.Text(prompt), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Analyze sends the image at imagePath together with prompt.
func (p *HostedProvider) Analyze(ctx context.Context, imagePath, prompt string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "provider.hosted.Analyze", trace.WithAttributes(attribute.String("image.path", imagePath)))
	defer span.End()

	data, err := afero.ReadFile(p.fs, imagePath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read image")
		return "", domain.ProviderFailure("gemini.Analyze", fmt.Errorf("failed to read image %s: %w", imagePath, err))
	}

	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromBytes(data, detectMIMEType(imagePath, data)),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := p.call(ctx, "analyze", p.cfg.VisionModel, contents, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analyze failed")
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

// GenerateImage asks the image model for a picture and returns the first
// inline image of the response.
func (p *HostedProvider) GenerateImage(ctx context.Context, prompt string, opts domain.ImageOptions) (*domain.GeneratedImage, error) {
	ctx, span := p.tracer.Start(ctx, "provider.hosted.GenerateImage")
	defer span.End()

	config := &genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}}
	resp, err := p.call(ctx, "generate_image", p.cfg.ImageModel, genai.Text(imagePrompt(prompt, opts)), config)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "image generation failed")
		return nil, err
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return &domain.GeneratedImage{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, nil
			}
		}
	}
	err = domain.ProviderFailure("gemini.GenerateImage", errors.New("response contained no image"))
	span.RecordError(err)
	span.SetStatus(codes.Error, "no image in response")
	return nil, err
}

func (p *HostedProvider) call(ctx context.Context, op, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(string(domain.ProviderKindHosted), op, "rate_limited").Inc()
		return nil, domain.ProviderFailure("gemini."+op, fmt.Errorf("rate limiter: %w", err))
	}
	resp, err := p.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues(string(domain.ProviderKindHosted), op, "error").Inc()
		p.logger.Error("gemini request failed", "operation", op, "model", model, "error", err)
		return nil, domain.ProviderFailure("gemini."+op, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		metrics.ProviderRequestsTotal.WithLabelValues(string(domain.ProviderKindHosted), op, "empty").Inc()
		return nil, domain.ProviderFailure("gemini."+op, errors.New("empty response"))
	}
	metrics.ProviderRequestsTotal.WithLabelValues(string(domain.ProviderKindHosted), op, "ok").Inc()
	return resp, nil
}

func imagePrompt(prompt string, opts domain.ImageOptions) string {
	var b strings.Builder
	b.WriteString(prompt)
	if opts.AspectRatio != "" {
		fmt.Fprintf(&b, "\nAspect ratio: %s.", opts.AspectRatio)
	}
	switch opts.PersonGeneration {
	case "dont_allow":
		b.WriteString("\nDo not depict people.")
	case "allow_adult":
		b.WriteString("\nOnly depict adults.")
	}
	return b.String()
}
