// Package music defines the music generation gateway and its Suno and mock implementations.
package music

import (
	"context"
	"errors"
)

// ErrGenerationFailed wraps every failure of a music generation request.
var ErrGenerationFailed = errors.New("music generation failed")

// VariantsPerRequest is the number of alternatives one generation must return.
const VariantsPerRequest = 2

// Params is the generation parameter bundle sent to the backend and stored in personas.
type Params struct {
	Title               string  `json:"title"`
	Style               string  `json:"style"`
	Prompt              string  `json:"prompt"`
	Instrumental        bool    `json:"instrumental"`
	VocalGender         string  `json:"vocal_gender,omitempty"`
	NegativeTags        string  `json:"negative_tags,omitempty"`
	StyleWeight         float64 `json:"style_weight"`
	WeirdnessConstraint float64 `json:"weirdness_constraint"`
	AudioWeight         float64 `json:"audio_weight"`
	Model               string  `json:"model,omitempty"`
	BackendPersonaID    string  `json:"backend_persona_id,omitempty"`
}

// WithDefaults fills zero weights with the backend defaults.
func (p Params) WithDefaults() Params {
	if p.StyleWeight == 0 {
		p.StyleWeight = 0.65
	}
	if p.WeirdnessConstraint == 0 {
		p.WeirdnessConstraint = 0.65
	}
	if p.AudioWeight == 0 {
		p.AudioWeight = 0.65
	}
	return p
}

// Variant is one generated alternative, already downloaded into the artifact store.
type Variant struct {
	ID        string `json:"variant_id"`
	TaskID    string `json:"task_id,omitempty"`
	Locator   string `json:"locator"`
	SourceURL string `json:"source_url,omitempty"`
	Params    Params `json:"params"`
}

// Gateway generates exactly VariantsPerRequest variants or fails with ErrGenerationFailed.
type Gateway interface {
	Generate(ctx context.Context, params Params) ([]Variant, error)
}

// PersonaRegistrar is implemented by backends that can register a voice persona from a variant.
type PersonaRegistrar interface {
	RegisterPersona(ctx context.Context, v Variant, name, description string) (string, error)
}
