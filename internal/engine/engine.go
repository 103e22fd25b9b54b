package engine

import "context"

// Engine abstracts the hosted generation backend (Gemini text, image and
// speech models). Orchestrators use this interface instead of depending on
// a concrete client.
type Engine interface {
	// GenerateJSON sends prompt to the given model and returns the raw JSON
	// text of the response. When schema is non-nil, structured output
	// conforming to it is requested.
	GenerateJSON(ctx context.Context, model, prompt string, schema *Schema) (string, error)

	// GenerateImages renders images for prompt.
	GenerateImages(ctx context.Context, model, prompt string, opts ImageOptions) ([]Image, error)

	// EditImage sends an inline image together with a text instruction and
	// returns every image and text part of the response.
	EditImage(ctx context.Context, model string, input Image, prompt string) (*Multimodal, error)

	// Synthesize returns raw 16-bit PCM speech for text spoken by voice.
	// It returns nil, nil when the response carries no audio part.
	Synthesize(ctx context.Context, model, text, voice string) ([]byte, error)
}

// ModelChecker verifies that a model is reachable with the configured credentials.
type ModelChecker interface {
	CheckModel(ctx context.Context, name string) error
}
