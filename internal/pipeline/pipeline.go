package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/kidsworld/internal/audio"
	"github.com/kalambet/kidsworld/internal/composer"
	"github.com/kalambet/kidsworld/internal/engine"
	"github.com/kalambet/kidsworld/internal/retry"
)

var (
	// ErrMalformedResponse means the model answered but the structured output
	// could not be used. It is not retried.
	ErrMalformedResponse = errors.New("malformed model response")
	// ErrNoImage means a multimodal response carried no image part.
	ErrNoImage = errors.New("model returned no image")
	// ErrInvalidInput rejects a request before any model call is made.
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultLanguage is used when a request names no language.
const DefaultLanguage = "English"

const (
	imageMIMEType = "image/jpeg"
	aspectSquare  = "1:1"
	aspectWide    = "4:3"
)

// Config selects the models used by each orchestration step.
type Config struct {
	TextModel   string
	ImageModel  string
	EditModel   string
	SpeechModel string
	Voice       string

	// Retry is applied to every individual engine call.
	Retry retry.Policy

	// MaxMaterialChars bounds the worksheet text added to study prompts.
	MaxMaterialChars int
}

// Orchestrator composes prompts and drives the engine for every
// generation feature.
type Orchestrator struct {
	engine   engine.Engine
	composer *composer.Composer
	cfg      Config
}

// New creates an Orchestrator over eng.
func New(eng engine.Engine, cfg Config) *Orchestrator {
	return &Orchestrator{
		engine:   eng,
		composer: composer.New(cfg.MaxMaterialChars),
		cfg:      cfg,
	}
}

func (o *Orchestrator) generateJSON(ctx context.Context, prompt string, schema *engine.Schema) (string, error) {
	return retry.Run(ctx, o.cfg.Retry, func(ctx context.Context) (string, error) {
		return o.engine.GenerateJSON(ctx, o.cfg.TextModel, prompt, schema)
	})
}

// generateImage renders a single JPEG image.
func (o *Orchestrator) generateImage(ctx context.Context, prompt, aspect string) (engine.Image, error) {
	imgs, err := retry.Run(ctx, o.cfg.Retry, func(ctx context.Context) ([]engine.Image, error) {
		return o.engine.GenerateImages(ctx, o.cfg.ImageModel, prompt, engine.ImageOptions{
			Count:       1,
			AspectRatio: aspect,
			MIMEType:    imageMIMEType,
		})
	})
	if err != nil {
		return engine.Image{}, err
	}
	if len(imgs) == 0 || imgs[0].IsZero() {
		return engine.Image{}, ErrNoImage
	}
	return imgs[0], nil
}

func (o *Orchestrator) editImage(ctx context.Context, input engine.Image, prompt string) (*engine.Multimodal, error) {
	return retry.Run(ctx, o.cfg.Retry, func(ctx context.Context) (*engine.Multimodal, error) {
		return o.engine.EditImage(ctx, o.cfg.EditModel, input, prompt)
	})
}

// synthesize speaks text and decodes the PCM result. A response without an
// audio part yields a nil buffer.
func (o *Orchestrator) synthesize(ctx context.Context, text string) (*audio.Buffer, error) {
	pcm, err := retry.Run(ctx, o.cfg.Retry, func(ctx context.Context) ([]byte, error) {
		return o.engine.Synthesize(ctx, o.cfg.SpeechModel, text, o.cfg.Voice)
	})
	if err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		slog.Debug("speech response carried no audio", "chars", len(text))
		return nil, nil
	}
	buf, err := audio.DecodeSpeech(pcm)
	if err != nil {
		return nil, fmt.Errorf("decoding speech: %w", err)
	}
	return buf, nil
}

func language(lang string) string {
	if strings.TrimSpace(lang) == "" {
		return DefaultLanguage
	}
	return lang
}
