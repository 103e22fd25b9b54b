package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

var (
	ErrMissingAPIKey = errors.New("gemini API key is not configured")
	ErrNoOutput      = errors.New("model returned no output")
)

// GeminiConfig holds the connection parameters for the Gemini API.
type GeminiConfig struct {
	APIKey string
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL    string
	HTTPClient *http.Client
}

// Gemini implements Engine on top of the Google GenAI SDK.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a Gemini engine using the Gemini Developer API backend.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Gemini{client: client}, nil
}

func (g *Gemini) GenerateJSON(ctx context.Context, model, prompt string, schema *Schema) (string, error) {
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}
	if schema != nil {
		cfg.ResponseSchema = schema.genai()
	}
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("generating content: %w", ErrNoOutput)
	}
	return text, nil
}

func (g *Gemini) GenerateImages(ctx context.Context, model, prompt string, opts ImageOptions) ([]Image, error) {
	count := opts.Count
	if count <= 0 {
		count = 1
	}
	resp, err := g.client.Models.GenerateImages(ctx, model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: int32(count),
		AspectRatio:    opts.AspectRatio,
		OutputMIMEType: opts.MIMEType,
	})
	if err != nil {
		return nil, fmt.Errorf("generating images: %w", err)
	}

	images := make([]Image, 0, len(resp.GeneratedImages))
	for _, gi := range resp.GeneratedImages {
		if gi == nil || gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
			continue
		}
		mime := gi.Image.MIMEType
		if mime == "" {
			mime = opts.MIMEType
		}
		images = append(images, Image{Data: gi.Image.ImageBytes, MIMEType: mime})
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("generating images: %w", ErrNoOutput)
	}
	return images, nil
}

func (g *Gemini) EditImage(ctx context.Context, model string, input Image, prompt string) (*Multimodal, error) {
	parts := []*genai.Part{
		genai.NewPartFromBytes(input.Data, input.MIMEType),
		genai.NewPartFromText(prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityImage)},
	})
	if err != nil {
		return nil, fmt.Errorf("editing image: %w", err)
	}

	out := &Multimodal{}
	for _, p := range firstCandidateParts(resp) {
		switch {
		case p.InlineData != nil && len(p.InlineData.Data) > 0:
			out.Images = append(out.Images, Image{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType})
		case p.Text != "" && !p.Thought:
			out.Text = append(out.Text, p.Text)
		}
	}
	return out, nil
}

func (g *Gemini) Synthesize(ctx context.Context, model, text, voice string) ([]byte, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(text), cfg)
	if err != nil {
		return nil, fmt.Errorf("synthesizing speech: %w", err)
	}
	for _, p := range firstCandidateParts(resp) {
		if p.InlineData != nil && len(p.InlineData.Data) > 0 {
			return p.InlineData.Data, nil
		}
	}
	return nil, nil
}

// CheckModel fetches the model's metadata, failing when the model does not
// exist or the credentials are rejected.
func (g *Gemini) CheckModel(ctx context.Context, name string) error {
	if _, err := g.client.Models.Get(ctx, name, nil); err != nil {
		return fmt.Errorf("checking model %s: %w", name, err)
	}
	return nil
}

func firstCandidateParts(resp *genai.GenerateContentResponse) []*genai.Part {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil {
		return nil
	}
	parts := make([]*genai.Part, 0, len(c.Content.Parts))
	for _, p := range c.Content.Parts {
		if p != nil {
			parts = append(parts, p)
		}
	}
	return parts
}

func (s *Schema) genai() *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Items:       s.Items.genai(),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = v.genai()
		}
	}
	return out
}

func genaiType(t string) genai.Type {
	switch t {
	case TypeObject:
		return genai.TypeObject
	case TypeArray:
		return genai.TypeArray
	case TypeInteger:
		return genai.TypeInteger
	case TypeBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}
