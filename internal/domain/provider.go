// internal/domain/provider.go
package domain

import "context"

// ProviderKind names one of the closed set of provider variants.
type ProviderKind string

const (
	ProviderKindHosted ProviderKind = "hosted"
	ProviderKindLocal  ProviderKind = "local"
)

// Provider is the capability shared by every text/vision backend.
type Provider interface {
	Kind() ProviderKind
	// Generate returns the completion for prompt. An empty model selects
	// the provider's configured default.
	Generate(ctx context.Context, model, prompt string) (string, error)
	// Analyze describes the image stored at imagePath following prompt.
	Analyze(ctx context.Context, imagePath, prompt string) (string, error)
}

// ImageOptions tunes image generation.
type ImageOptions struct {
	AspectRatio      string
	PersonGeneration string
}

// GeneratedImage is raw image data returned by a provider.
type GeneratedImage struct {
	Data     []byte
	MIMEType string
}

// ImageGenerator produces images from text prompts.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, opts ImageOptions) (*GeneratedImage, error)
}

// ProviderSelector resolves a model name from a request to the provider
// variant serving it and the model that variant must be called with.
type ProviderSelector interface {
	Select(name string) (Provider, string, error)
}
