// internal/domain/catalog.go
package domain

// ProductDescriptionRequest asks for a generated product listing.
type ProductDescriptionRequest struct {
	ProductNameInput string  `json:"product_name_input" validate:"required"`
	CategoryHint     *string `json:"category_hint"`
}

// ProductDescription is the listing produced by the text worker.
type ProductDescription struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description" validate:"required"`
	Category    string `json:"category" validate:"required"`
}

// AnimationRequest is a free-form scene script to turn into a scene.
type AnimationRequest struct {
	Script                string         `json:"script" validate:"required"`
	CurrentAnimationState map[string]any `json:"current_animation_state,omitempty"`
}

// AnimationScene is the render contract returned for an animation script.
type AnimationScene struct {
	SceneID        string          `json:"scene_id" validate:"required"`
	BackgroundURL  *string         `json:"background_url"`
	Assets         []SceneAsset    `json:"assets" validate:"required,dive"`
	AnimationSteps []AnimationStep `json:"animation_steps" validate:"required,dive"`
}

type SceneAsset struct {
	AssetID  string   `json:"asset_id" validate:"required"`
	Skin     string   `json:"skin" validate:"required"`
	Position Position `json:"position"`
	ZIndex   int      `json:"z_index"`
}

// Position is normalized to 0..1 on both axes.
type Position struct {
	X float64 `json:"x" validate:"gte=0,lte=1"`
	Y float64 `json:"y" validate:"gte=0,lte=1"`
}

type AnimationStep struct {
	TargetID string         `json:"target_id" validate:"required"`
	Action   string         `json:"action" validate:"required,oneof=move play_animation"`
	Duration float64        `json:"duration" validate:"gte=0"`
	Params   map[string]any `json:"params"`
}
