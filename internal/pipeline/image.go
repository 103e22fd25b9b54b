package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/kidsworld/internal/engine"
)

const (
	MinMnemonicWords = 3
	MaxMnemonicWords = 10
)

// AdventureRequest restyles a photo of the child into a themed scene.
type AdventureRequest struct {
	Photo    engine.Image `json:"-"`
	Theme    string       `json:"theme"`
	Language string       `json:"language,omitempty"`
}

// MnemonicRequest asks for one picture that ties a word list together.
type MnemonicRequest struct {
	Words    []string `json:"words"`
	Language string   `json:"language,omitempty"`
}

// Adventure makes a single multimodal call and returns its first image part.
// A response without an image is ErrNoImage.
func (o *Orchestrator) Adventure(ctx context.Context, req AdventureRequest) (engine.Image, error) {
	if req.Photo.IsZero() {
		return engine.Image{}, fmt.Errorf("%w: photo is required", ErrInvalidInput)
	}
	theme := strings.TrimSpace(req.Theme)
	if theme == "" {
		return engine.Image{}, fmt.Errorf("%w: theme is required", ErrInvalidInput)
	}
	photo := req.Photo
	if photo.MIMEType == "" {
		photo.MIMEType = imageMIMEType
	}

	prompt := o.composer.Adventure(theme, language(req.Language))
	out, err := o.editImage(ctx, photo, prompt)
	if err != nil {
		return engine.Image{}, fmt.Errorf("generating adventure image: %w", err)
	}
	img, ok := out.FirstImage()
	if !ok {
		return engine.Image{}, ErrNoImage
	}
	return img, nil
}

// Mnemonic draws one image connecting 3 to 10 words.
func (o *Orchestrator) Mnemonic(ctx context.Context, req MnemonicRequest) (engine.Image, error) {
	words, err := ValidateWords(req.Words)
	if err != nil {
		return engine.Image{}, err
	}
	img, err := o.generateImage(ctx, o.composer.Mnemonic(words, language(req.Language)), aspectSquare)
	if err != nil {
		return engine.Image{}, fmt.Errorf("generating mnemonic image: %w", err)
	}
	return img, nil
}

// ValidateWords trims the word list and checks its size. Blank words are
// rejected rather than dropped.
func ValidateWords(words []string) ([]string, error) {
	out := make([]string, 0, len(words))
	for i, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			return nil, fmt.Errorf("%w: word %d is blank", ErrInvalidInput, i+1)
		}
		out = append(out, w)
	}
	if len(out) < MinMnemonicWords || len(out) > MaxMnemonicWords {
		return nil, fmt.Errorf("%w: need %d to %d words, got %d", ErrInvalidInput, MinMnemonicWords, MaxMnemonicWords, len(out))
	}
	return out, nil
}
