package http

import (
	"ai-orchestrator/internal/domain"
)

// GenerateTextRequest is the body of POST /api/ai/generate-text.
type GenerateTextRequest struct {
	Prompt    string `json:"prompt" validate:"required"`
	Model     string `json:"model"`
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

// GenerateImageRequest is the body of POST /api/ai/generate-image.
type GenerateImageRequest struct {
	Prompt           string `json:"prompt" validate:"required"`
	AspectRatio      string `json:"aspect_ratio" validate:"omitempty,oneof=1:1 3:4 4:3 9:16 16:9"`
	PersonGeneration string `json:"person_generation" validate:"omitempty,oneof=dont_allow allow_adult allow_all"`
}

// ToOptions converts the request to provider image options.
func (r *GenerateImageRequest) ToOptions() domain.ImageOptions {
	return domain.ImageOptions{AspectRatio: r.AspectRatio, PersonGeneration: r.PersonGeneration}
}

// ProductDescriptionRequest is the body of POST /api/ai/generate-product-description.
type ProductDescriptionRequest struct {
	ProductNameInput string  `json:"product_name_input" validate:"required,max=512"`
	CategoryHint     *string `json:"category_hint" validate:"omitempty,max=128"`
}

func (r *ProductDescriptionRequest) ToDomain() domain.ProductDescriptionRequest {
	return domain.ProductDescriptionRequest{ProductNameInput: r.ProductNameInput, CategoryHint: r.CategoryHint}
}

// AnimationScriptRequest is the body of POST /api/ai/animation-script.
type AnimationScriptRequest struct {
	Script                string         `json:"script" validate:"required"`
	CurrentAnimationState map[string]any `json:"current_animation_state"`
}

func (r *AnimationScriptRequest) ToDomain() domain.AnimationRequest {
	return domain.AnimationRequest{Script: r.Script, CurrentAnimationState: r.CurrentAnimationState}
}

// ErrorResponse is the body of every non-envelope error.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
