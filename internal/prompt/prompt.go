// Package prompt builds the instructions sent to the models.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"ai-orchestrator/internal/domain"
)

// SimpleTest is the fixed prompt of the worker smoke-test task.
const SimpleTest = "Why is the sky blue?"

// ProductImage asks a vision model to describe a product photo.
const ProductImage = "You are an expert product cataloger. Analyze the following image of a product " +
	"and describe it. Provide a concise, SEO-friendly product name, a standard high-level category, " +
	"a detailed description of at least 50 words, and a list of 3-5 key features."

// SpriteAnalysis asks a vision model for sprite metadata as JSON.
const SpriteAnalysis = `You are cataloguing 2D game sprites. Analyze the image and answer with a single JSON object:
{"name": string, "description": string, "suggested_skin_name": string, "tags": [string]}
Answer with the JSON object only.`

// Stock assets of the animation renderer.
var (
	Skins       = []string{"Archer", "Enchantress", "Knight", "Musketeer", "Swordsman", "Wizard"}
	Animations  = []string{"Attack_1", "Attack_2", "Attack_3", "Dead", "Hurt", "Idle", "Run", "Walk", "Jump"}
	Backgrounds = []struct{ Name, URL string }{
		{"Cartoon Forest", "/sprites/background/Cartoon_Forest_BG_01/layer_01.png"},
		{"City", "/sprites/background/City1/layer_01.png"},
		{"Exterior", "/sprites/background/exterior.png"},
		{"Interior", "/sprites/background/Interior.png"},
	}
)

// ProductDescription asks for a JSON listing with name, description and
// category keys.
func ProductDescription(productName, categoryHint string) string {
	var b strings.Builder
	b.WriteString("You are an AI assistant. Generate a product name, a description and a category from the information below. ")
	b.WriteString(`Your answer MUST be a valid JSON object with the keys "name", "description" and "category".` + "\n\n")
	fmt.Fprintf(&b, "Name/keywords: %s\n", productName)
	if categoryHint != "" {
		fmt.Fprintf(&b, "Category hint: %s\n", categoryHint)
	}
	b.WriteString("\nAnswer ONLY with the JSON object, without any extra text.")
	return b.String()
}

// AnimationScene asks for the scene JSON of req, offering the stock assets
// and the catalogued sprites.
func AnimationScene(req domain.AnimationRequest, sprites []*domain.SpriteMetadata) string {
	var b strings.Builder
	b.WriteString("You are an AI assistant that builds 2D PixiJS scenes from spritesheets.\n")
	b.WriteString("Convert the script below into one JSON object describing the scene, its characters and their animations.\n\n")
	fmt.Fprintf(&b, "Character skins: %s.\n", strings.Join(Skins, ", "))
	fmt.Fprintf(&b, "Animations available for every skin: %s.\n", strings.Join(Animations, ", "))
	b.WriteString("Backgrounds:\n")
	for _, bg := range Backgrounds {
		fmt.Fprintf(&b, "- %s (%s)\n", bg.Name, bg.URL)
	}
	if len(sprites) > 0 {
		b.WriteString("Catalogued sprites:\n")
		for _, s := range sprites {
			fmt.Fprintf(&b, "- Name: %s, Description: %s\n", s.DisplayName(), s.Description)
		}
	}
	b.WriteString(`
To make a character walk emit two steps: {"action": "play_animation", "params": {"animation": "Walk"}} and {"action": "move", "duration": 5, "params": {"x": 0.8}}.
The JSON object must have this shape:
{"scene_id": string, "background_url": string|null,
 "assets": [{"asset_id": string, "skin": string, "position": {"x": number, "y": number}, "z_index": number}],
 "animation_steps": [{"target_id": string, "action": "move"|"play_animation", "duration": number, "params": object}]}
Positions are normalized to 0.0-1.0. Answer with the JSON object only.

`)
	fmt.Fprintf(&b, "Scene script: %q\n", req.Script)
	if req.CurrentAnimationState != nil {
		state, _ := json.Marshal(req.CurrentAnimationState)
		fmt.Fprintf(&b, "Current animation state to refine: %s\n", state)
	}
	return b.String()
}
