package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/kidsworld/internal/engine"
	"github.com/kalambet/kidsworld/internal/render"
)

// HealthRequest is a question for the health adviser.
type HealthRequest struct {
	Question string `json:"question"`
	Language string `json:"language,omitempty"`
	Learner  string `json:"learner,omitempty"`
}

// StudyRequest is a question for the study buddy. Material is optional
// worksheet text extracted from an attached document.
type StudyRequest struct {
	Question string `json:"question"`
	Subject  string `json:"subject,omitempty"`
	Language string `json:"language,omitempty"`
	Material string `json:"material,omitempty"`
	Learner  string `json:"learner,omitempty"`
}

// Answer is an explanatory text answer with an illustrating image.
type Answer struct {
	Answer     string `json:"answer"`
	ImageURL   string `json:"imageUrl"`
	AnswerHTML string `json:"answerHtml"`
}

func adviceSchema(answerDesc, imageDesc string) *engine.Schema {
	return &engine.Schema{
		Type: engine.TypeObject,
		Properties: map[string]*engine.Schema{
			"answer":      {Type: engine.TypeString, Description: answerDesc},
			"imagePrompt": {Type: engine.TypeString, Description: imageDesc},
		},
		Required: []string{"answer", "imagePrompt"},
	}
}

var (
	healthSchema = adviceSchema(
		"The well-organized text answer to the user's health question.",
		"The prompt for the image generator, specifically requesting a 3D render style.",
	)
	studySchema = adviceSchema("", "")
)

type advice struct {
	Answer      string `json:"answer"`
	ImagePrompt string `json:"imagePrompt"`
}

// parseAdvice decodes the structured answer. Invalid JSON or a blank
// required field is ErrMalformedResponse.
func parseAdvice(raw string) (advice, error) {
	var a advice
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return advice{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(a.Answer) == "" {
		return advice{}, fmt.Errorf("%w: missing answer", ErrMalformedResponse)
	}
	if strings.TrimSpace(a.ImagePrompt) == "" {
		return advice{}, fmt.Errorf("%w: missing imagePrompt", ErrMalformedResponse)
	}
	return a, nil
}

// AskHealth answers a nutrition, health, sports or disease question with a
// 3D-render style illustration.
func (o *Orchestrator) AskHealth(ctx context.Context, req HealthRequest) (*Answer, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidInput)
	}
	prompt := o.composer.Health(req.Question, language(req.Language), req.Learner)
	return o.answer(ctx, prompt, healthSchema)
}

// AskStudy answers a student's question. The illustration style depends on
// the subject.
func (o *Orchestrator) AskStudy(ctx context.Context, req StudyRequest) (*Answer, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidInput)
	}
	prompt := o.composer.Study(req.Question, req.Subject, language(req.Language), req.Material, req.Learner)
	return o.answer(ctx, prompt, studySchema)
}

// answer runs the structured call then the image call. Either failing fails
// the whole operation.
func (o *Orchestrator) answer(ctx context.Context, prompt string, schema *engine.Schema) (*Answer, error) {
	raw, err := o.generateJSON(ctx, prompt, schema)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	a, err := parseAdvice(raw)
	if err != nil {
		return nil, err
	}

	img, err := o.generateImage(ctx, a.ImagePrompt, aspectWide)
	if err != nil {
		return nil, fmt.Errorf("generating answer image: %w", err)
	}

	return &Answer{
		Answer:     a.Answer,
		ImageURL:   img.DataURL(),
		AnswerHTML: render.Markdown(a.Answer),
	}, nil
}
