package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/kidsworld/internal/audio"
	"github.com/kalambet/kidsworld/internal/composer"
	"github.com/kalambet/kidsworld/internal/engine"
)

// MaxStoryParts caps the number of paragraphs kept from the story outline.
const MaxStoryParts = 5

// Stage is a story progress marker.
type Stage string

const (
	StageGeneratingStory  Stage = "generating_story"
	StageGeneratingImages Stage = "generating_images"
	StageGeneratingAudio  Stage = "generating_audio"
)

// StoryRequest asks for an illustrated, narrated story.
type StoryRequest struct {
	Interests []string `json:"interests"`
	Language  string   `json:"language,omitempty"`
	// Learner is an optional profile summary added to the prompt.
	Learner string `json:"learner,omitempty"`
}

// StoryPart is one paragraph with its illustration and narration. Audio is
// nil when the speech response carried no audio.
type StoryPart struct {
	Text  string
	Image engine.Image
	Audio *audio.Buffer
}

// Story is an ordered list of at most MaxStoryParts parts.
type Story struct {
	Parts []StoryPart
}

var storySchema = &engine.Schema{
	Type: engine.TypeObject,
	Properties: map[string]*engine.Schema{
		"storyParts": {
			Type: engine.TypeArray,
			Items: &engine.Schema{
				Type: engine.TypeObject,
				Properties: map[string]*engine.Schema{
					"paragraph":   {Type: engine.TypeString, Description: "A paragraph of the story."},
					"imagePrompt": {Type: engine.TypeString, Description: composer.StoryImagePromptHint()},
				},
				Required: []string{"paragraph", "imagePrompt"},
			},
		},
	},
	Required: []string{"storyParts"},
}

type outlinePart struct {
	Paragraph   string `json:"paragraph"`
	ImagePrompt string `json:"imagePrompt"`
}

// parseStory decodes the story outline and keeps the first MaxStoryParts parts.
func parseStory(raw string) ([]outlinePart, error) {
	var out struct {
		StoryParts []outlinePart `json:"storyParts"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	parts := out.StoryParts
	if len(parts) > MaxStoryParts {
		parts = parts[:MaxStoryParts]
	}
	for i, p := range parts {
		if strings.TrimSpace(p.Paragraph) == "" || strings.TrimSpace(p.ImagePrompt) == "" {
			return nil, fmt.Errorf("%w: story part %d is incomplete", ErrMalformedResponse, i)
		}
	}
	return parts, nil
}

// Story writes a short story about the given interests, then illustrates
// and narrates every paragraph concurrently. Parts keep the outline order
// regardless of completion order. Any failed call fails the whole story.
//
// progress, if non-nil, is called from the calling goroutine only.
func (o *Orchestrator) Story(ctx context.Context, req StoryRequest, progress func(Stage)) (*Story, error) {
	interests := nonBlank(req.Interests)
	if len(interests) == 0 {
		return nil, fmt.Errorf("%w: at least one interest is required", ErrInvalidInput)
	}
	report := func(s Stage) {
		if progress != nil {
			progress(s)
		}
	}

	report(StageGeneratingStory)
	raw, err := o.generateJSON(ctx, o.composer.Story(interests, language(req.Language), req.Learner), storySchema)
	if err != nil {
		return nil, fmt.Errorf("generating story text: %w", err)
	}
	outline, err := parseStory(raw)
	if err != nil {
		return nil, err
	}

	parts := make([]StoryPart, len(outline))
	for i, p := range outline {
		parts[i].Text = p.Paragraph
	}
	if len(outline) == 0 {
		return &Story{Parts: parts}, nil
	}

	g, gctx := errgroup.WithContext(ctx)

	// Images and narration run together; generating_audio marks the point
	// where every picture is in and only narration may still be pending.
	var (
		images       sync.WaitGroup
		imagesFailed atomic.Bool
	)
	report(StageGeneratingImages)
	for i, p := range outline {
		images.Add(1)
		g.Go(func() error {
			defer images.Done()
			img, err := o.generateImage(gctx, p.ImagePrompt, aspectSquare)
			if err != nil {
				imagesFailed.Store(true)
				return fmt.Errorf("illustrating part %d: %w", i, err)
			}
			parts[i].Image = img
			return nil
		})
	}

	for i, p := range outline {
		g.Go(func() error {
			buf, err := o.synthesize(gctx, p.Paragraph)
			if err != nil {
				return fmt.Errorf("narrating part %d: %w", i, err)
			}
			parts[i].Audio = buf
			return nil
		})
	}

	images.Wait()
	if !imagesFailed.Load() && gctx.Err() == nil {
		report(StageGeneratingAudio)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("story generated", "parts", len(parts))
	return &Story{Parts: parts}, nil
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
