package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kalambet/kidsworld/internal/engine"
	"github.com/kalambet/kidsworld/internal/retry"
)

func TestMain(m *testing.M) {
	// opencensus, pulled in by genai, starts its view worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// --- mock engine ---

type mockEngine struct {
	mu sync.Mutex

	jsonFn       func(ctx context.Context, model, prompt string, schema *engine.Schema) (string, error)
	imagesFn     func(ctx context.Context, model, prompt string, opts engine.ImageOptions) ([]engine.Image, error)
	editFn       func(ctx context.Context, model string, input engine.Image, prompt string) (*engine.Multimodal, error)
	synthesizeFn func(ctx context.Context, model, text, voice string) ([]byte, error)

	prompts      []string
	imageOpts    []engine.ImageOptions
	imageCalls   int
	speechCalls  int
	speechVoices []string
}

func (m *mockEngine) GenerateJSON(ctx context.Context, model, prompt string, schema *engine.Schema) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.jsonFn != nil {
		return m.jsonFn(ctx, model, prompt, schema)
	}
	return "{}", nil
}

func (m *mockEngine) GenerateImages(ctx context.Context, model, prompt string, opts engine.ImageOptions) ([]engine.Image, error) {
	m.mu.Lock()
	m.imageCalls++
	m.imageOpts = append(m.imageOpts, opts)
	m.mu.Unlock()
	if m.imagesFn != nil {
		return m.imagesFn(ctx, model, prompt, opts)
	}
	return []engine.Image{{Data: []byte(prompt), MIMEType: opts.MIMEType}}, nil
}

func (m *mockEngine) EditImage(ctx context.Context, model string, input engine.Image, prompt string) (*engine.Multimodal, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.editFn != nil {
		return m.editFn(ctx, model, input, prompt)
	}
	return &engine.Multimodal{}, nil
}

func (m *mockEngine) Synthesize(ctx context.Context, model, text, voice string) ([]byte, error) {
	m.mu.Lock()
	m.speechCalls++
	m.speechVoices = append(m.speechVoices, voice)
	m.mu.Unlock()
	if m.synthesizeFn != nil {
		return m.synthesizeFn(ctx, model, text, voice)
	}
	return []byte{0, 0, 0, 0}, nil
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestOrchestrator(eng engine.Engine) *Orchestrator {
	return New(eng, Config{
		TextModel:   "text-model",
		ImageModel:  "image-model",
		EditModel:   "edit-model",
		SpeechModel: "speech-model",
		Voice:       "Kore",
		Retry:       retry.NewPolicy(3, time.Second, retry.WithSleep(noSleep)),
	})
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusIdle, StatusGenerating, true},
		{StatusIdle, StatusDone, false},
		{StatusIdle, StatusError, false},
		{StatusGenerating, StatusDone, true},
		{StatusGenerating, StatusError, true},
		{StatusGenerating, StatusIdle, false},
		{StatusGenerating, StatusGenerating, false},
		{StatusDone, StatusGenerating, true},
		{StatusDone, StatusError, false},
		{StatusDone, StatusIdle, false},
		{StatusError, StatusGenerating, true},
		{StatusError, StatusDone, false},
		{Status("cancelled"), StatusGenerating, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusSources(t *testing.T) {
	got := StatusGenerating.Sources()
	want := []Status{StatusIdle, StatusDone, StatusError}
	if len(got) != len(want) {
		t.Fatalf("Sources() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sources()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if !StatusDone.Terminal() || StatusGenerating.Terminal() {
		t.Error("Terminal() misreports done/generating")
	}
	if Status("bogus").Valid() {
		t.Error("unknown status reported valid")
	}
}
