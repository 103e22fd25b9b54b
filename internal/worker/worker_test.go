package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kalambet/kidsworld/internal/audio"
	"github.com/kalambet/kidsworld/internal/engine"
	"github.com/kalambet/kidsworld/internal/pipeline"
	"github.com/kalambet/kidsworld/internal/profile"
	"github.com/kalambet/kidsworld/internal/storage"
	"github.com/kalambet/kidsworld/internal/vocab"
)

func TestMain(m *testing.M) {
	// opencensus, pulled in by genai, starts its view worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type mockOrchestrator struct {
	storyFn     func(ctx context.Context, req pipeline.StoryRequest, progress func(pipeline.Stage)) (*pipeline.Story, error)
	healthFn    func(ctx context.Context, req pipeline.HealthRequest) (*pipeline.Answer, error)
	studyFn     func(ctx context.Context, req pipeline.StudyRequest) (*pipeline.Answer, error)
	adventureFn func(ctx context.Context, req pipeline.AdventureRequest) (engine.Image, error)
	mnemonicFn  func(ctx context.Context, req pipeline.MnemonicRequest) (engine.Image, error)
}

func (m *mockOrchestrator) Story(ctx context.Context, req pipeline.StoryRequest, progress func(pipeline.Stage)) (*pipeline.Story, error) {
	return m.storyFn(ctx, req, progress)
}

func (m *mockOrchestrator) AskHealth(ctx context.Context, req pipeline.HealthRequest) (*pipeline.Answer, error) {
	return m.healthFn(ctx, req)
}

func (m *mockOrchestrator) AskStudy(ctx context.Context, req pipeline.StudyRequest) (*pipeline.Answer, error) {
	return m.studyFn(ctx, req)
}

func (m *mockOrchestrator) Adventure(ctx context.Context, req pipeline.AdventureRequest) (engine.Image, error) {
	return m.adventureFn(ctx, req)
}

func (m *mockOrchestrator) Mnemonic(ctx context.Context, req pipeline.MnemonicRequest) (engine.Image, error) {
	return m.mnemonicFn(ctx, req)
}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestWorker(store *storage.Store, orch Orchestrator) *Worker {
	return NewWorker(store, orch, profile.NewManager(store), vocab.New(store, vocab.WithLogger(quietLogger)),
		Options{PollInterval: 5 * time.Millisecond, Logger: quietLogger})
}

func submit(t *testing.T, store *storage.Store, id, kind string, req any) {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	g := storage.Generation{ID: id, Kind: kind, Status: string(pipeline.StatusGenerating), RequestJSON: string(b)}
	require.NoError(t, store.SubmitGeneration(g, NewJob(id)))
}

var jpeg = engine.Image{Data: []byte{0xff, 0xd8, 0xff}, MIMEType: "image/jpeg"}

func TestNewJob(t *testing.T) {
	job := NewJob("gen-1")
	if job.Type != JobType {
		t.Errorf("Type = %q, want %q", job.Type, JobType)
	}
	if job.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", job.MaxAttempts)
	}
	if job.PayloadJSON != `{"generation_id":"gen-1"}` {
		t.Errorf("PayloadJSON = %s", job.PayloadJSON)
	}
	if NewJob("gen-1").ID == job.ID {
		t.Error("job ids should be unique")
	}
}

func TestWorker_StoryRecordsStagesAndResult(t *testing.T) {
	store := openTestStore(t)
	submit(t, store, "s1", storage.KindStory, pipeline.StoryRequest{Interests: []string{"dinosaurs"}, Language: "German"})

	var seenStages []string
	orch := &mockOrchestrator{
		storyFn: func(_ context.Context, req pipeline.StoryRequest, progress func(pipeline.Stage)) (*pipeline.Story, error) {
			require.Equal(t, "German", req.Language)
			for _, st := range []pipeline.Stage{pipeline.StageGeneratingStory, pipeline.StageGeneratingImages} {
				progress(st)
				g, err := store.GetGeneration("s1")
				require.NoError(t, err)
				seenStages = append(seenStages, g.Stage)
			}
			buf, err := audio.DecodeSpeech([]byte{0x00, 0x40, 0x00, 0xc0})
			require.NoError(t, err)
			return &pipeline.Story{Parts: []pipeline.StoryPart{
				{Text: "Once upon a time", Image: jpeg, Audio: buf},
				{Text: "The end", Image: jpeg},
			}}, nil
		},
	}

	didWork, err := newTestWorker(store, orch).RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, didWork)
	require.Equal(t, []string{"generating_story", "generating_images"}, seenStages)

	g, err := store.GetGeneration("s1")
	require.NoError(t, err)
	require.Equal(t, "done", g.Status)
	require.Empty(t, g.Stage)

	var res StoryResult
	require.NoError(t, json.Unmarshal([]byte(g.ResultJSON), &res))
	require.Len(t, res.Parts, 2)
	require.Equal(t, "Once upon a time", res.Parts[0].Text)
	require.Equal(t, jpeg.DataURL(), res.Parts[0].Image)
	require.Equal(t, audio.SpeechSampleRate, res.Parts[0].SampleRate)

	decoded, err := audio.DecodeBase64(res.Parts[0].Audio, res.Parts[0].SampleRate, res.Parts[0].Channels)
	require.NoError(t, err)
	require.Equal(t, 2, decoded.Frames())
	require.Empty(t, res.Parts[1].Audio, "missing narration stays empty")

	next, err := store.ClaimNextJob([]string{JobType})
	require.NoError(t, err)
	require.Nil(t, next, "job should be completed")
}

func TestWorker_FailureRecordsError(t *testing.T) {
	store := openTestStore(t)
	submit(t, store, "h1", storage.KindHealth, pipeline.HealthRequest{Question: "why do we sneeze?"})

	orch := &mockOrchestrator{
		healthFn: func(context.Context, pipeline.HealthRequest) (*pipeline.Answer, error) {
			return nil, pipeline.ErrMalformedResponse
		},
	}

	didWork, err := newTestWorker(store, orch).RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, didWork)

	g, err := store.GetGeneration("h1")
	require.NoError(t, err)
	require.Equal(t, "error", g.Status)
	require.Equal(t, pipeline.ErrMalformedResponse.Error(), g.Error)
	require.Empty(t, g.ResultJSON)
}

func TestWorker_ProfileFillsDefaults(t *testing.T) {
	store := openTestStore(t)
	mgr := profile.NewManager(store)
	require.NoError(t, mgr.Update(profile.Profile{Name: "Mia", Age: 7, Language: "French", Interests: []string{"space"}}))

	submit(t, store, "s2", storage.KindStory, pipeline.StoryRequest{})
	submit(t, store, "st1", storage.KindStudy, pipeline.StudyRequest{Question: "what is 2+2?", Language: "Italian"})

	var storyReq pipeline.StoryRequest
	var studyReq pipeline.StudyRequest
	orch := &mockOrchestrator{
		storyFn: func(_ context.Context, req pipeline.StoryRequest, _ func(pipeline.Stage)) (*pipeline.Story, error) {
			storyReq = req
			return &pipeline.Story{}, nil
		},
		studyFn: func(_ context.Context, req pipeline.StudyRequest) (*pipeline.Answer, error) {
			studyReq = req
			return &pipeline.Answer{Answer: "4"}, nil
		},
	}
	w := newTestWorker(store, orch)
	for i := 0; i < 2; i++ {
		_, err := w.RunOnce(context.Background())
		require.NoError(t, err)
	}

	require.Equal(t, []string{"space"}, storyReq.Interests)
	require.Equal(t, "French", storyReq.Language)
	require.Contains(t, storyReq.Learner, "Mia")
	require.Equal(t, "Italian", studyReq.Language, "explicit language wins")
	require.Contains(t, studyReq.Learner, "age 7")

	g, err := store.GetGeneration("st1")
	require.NoError(t, err)
	var ans pipeline.Answer
	require.NoError(t, json.Unmarshal([]byte(g.ResultJSON), &ans))
	require.Equal(t, "4", ans.Answer)
}

func TestWorker_MnemonicSavedToVocab(t *testing.T) {
	store := openTestStore(t)
	submit(t, store, "m1", storage.KindMnemonic, pipeline.MnemonicRequest{Words: []string{" apple ", "moon", "shoe"}})

	orch := &mockOrchestrator{
		mnemonicFn: func(context.Context, pipeline.MnemonicRequest) (engine.Image, error) { return jpeg, nil },
	}
	_, err := newTestWorker(store, orch).RunOnce(context.Background())
	require.NoError(t, err)

	items := vocab.New(store).List()
	require.Len(t, items, 1)
	require.Equal(t, []string{"apple", "moon", "shoe"}, items[0].Words)
	require.Equal(t, jpeg.DataURL(), items[0].Image)

	g, err := store.GetGeneration("m1")
	require.NoError(t, err)
	var res MnemonicResult
	require.NoError(t, json.Unmarshal([]byte(g.ResultJSON), &res))
	require.Equal(t, items[0].ID, res.VocabID)
}

func TestWorker_MnemonicFailureSavesNothing(t *testing.T) {
	store := openTestStore(t)
	submit(t, store, "m2", storage.KindMnemonic, pipeline.MnemonicRequest{Words: []string{"a", "b", "c"}})

	orch := &mockOrchestrator{
		mnemonicFn: func(context.Context, pipeline.MnemonicRequest) (engine.Image, error) {
			return engine.Image{}, errors.New("boom")
		},
	}
	_, err := newTestWorker(store, orch).RunOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, vocab.New(store).List())
}

func TestWorker_Adventure(t *testing.T) {
	store := openTestStore(t)
	submit(t, store, "a1", storage.KindAdventure, AdventureInput{Photo: jpeg.DataURL(), Theme: "pirates"})
	submit(t, store, "a2", storage.KindAdventure, AdventureInput{Photo: "not a data url", Theme: "pirates"})

	var calls atomic.Int32
	orch := &mockOrchestrator{
		adventureFn: func(_ context.Context, req pipeline.AdventureRequest) (engine.Image, error) {
			calls.Add(1)
			require.Equal(t, jpeg.Data, req.Photo.Data)
			require.Equal(t, "pirates", req.Theme)
			return engine.Image{Data: []byte("png"), MIMEType: "image/png"}, nil
		},
	}
	w := newTestWorker(store, orch)
	for i := 0; i < 2; i++ {
		_, err := w.RunOnce(context.Background())
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, calls.Load())

	g, err := store.GetGeneration("a1")
	require.NoError(t, err)
	require.Equal(t, "done", g.Status)
	require.JSONEq(t, `{"image":"data:image/png;base64,cG5n"}`, g.ResultJSON)

	g, err = store.GetGeneration("a2")
	require.NoError(t, err)
	require.Equal(t, "error", g.Status)
	require.Contains(t, g.Error, "invalid input")
}

func TestWorker_SkipsFinishedGeneration(t *testing.T) {
	store := openTestStore(t)
	submit(t, store, "h2", storage.KindHealth, pipeline.HealthRequest{Question: "q"})
	require.NoError(t, store.TransitionGeneration("h2", []string{"generating"}, storage.GenerationUpdate{Status: "done", ResultJSON: "{}"}))

	orch := &mockOrchestrator{
		healthFn: func(context.Context, pipeline.HealthRequest) (*pipeline.Answer, error) {
			t.Fatal("finished generation must not run again")
			return nil, nil
		},
	}
	didWork, err := newTestWorker(store, orch).RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, didWork)
}

func TestWorker_MissingGenerationFailsJob(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.EnqueueJob(NewJob("ghost")))

	didWork, err := newTestWorker(store, &mockOrchestrator{}).RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, didWork)

	next, err := store.ClaimNextJob([]string{JobType})
	require.NoError(t, err)
	require.Nil(t, next, "single-attempt job should be marked failed")
}

// flakyStore fails the first TransitionGeneration call.
type flakyStore struct {
	*storage.Store
	failed atomic.Bool
}

func (f *flakyStore) TransitionGeneration(id string, from []string, u storage.GenerationUpdate) error {
	if f.failed.CompareAndSwap(false, true) {
		return errors.New("disk I/O error")
	}
	return f.Store.TransitionGeneration(id, from, u)
}

func TestWorker_UnrecordedOutcomeEndsInError(t *testing.T) {
	store := openTestStore(t)
	submit(t, store, "h4", storage.KindHealth, pipeline.HealthRequest{Question: "q"})

	orch := &mockOrchestrator{
		healthFn: func(context.Context, pipeline.HealthRequest) (*pipeline.Answer, error) {
			return &pipeline.Answer{Answer: "a"}, nil
		},
	}
	w := NewWorker(&flakyStore{Store: store}, orch, nil, nil, Options{Logger: quietLogger})
	didWork, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, didWork)

	g, err := store.GetGeneration("h4")
	require.NoError(t, err)
	require.Equal(t, "error", g.Status)
	require.Contains(t, g.Error, "disk I/O error")

	next, err := store.ClaimNextJob([]string{JobType})
	require.NoError(t, err)
	require.Nil(t, next)

	from := []string{}
	for _, st := range pipeline.StatusGenerating.Sources() {
		from = append(from, string(st))
	}
	require.NoError(t, store.RetriggerGeneration("h4", from, NewJob("h4")), "failed generation can be retried")
}

func TestWorker_UnreadableGenerationEndsInError(t *testing.T) {
	store := openTestStore(t)
	submit(t, store, "h5", storage.KindHealth, pipeline.HealthRequest{Question: "q"})

	w := NewWorker(&unreadableStore{Store: store}, &mockOrchestrator{}, nil, nil, Options{Logger: quietLogger})
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	g, err := store.GetGeneration("h5")
	require.NoError(t, err)
	require.Equal(t, "error", g.Status)
	require.Contains(t, g.Error, "database is locked")
}

// unreadableStore fails every GetGeneration call.
type unreadableStore struct {
	*storage.Store
}

func (unreadableStore) GetGeneration(string) (storage.Generation, error) {
	return storage.Generation{}, errors.New("database is locked")
}

func TestWorker_NoJob(t *testing.T) {
	store := openTestStore(t)
	didWork, err := newTestWorker(store, &mockOrchestrator{}).RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, didWork)
}

// TestWorker_ShutdownLeavesJobForRequeue cancels the context while a
// generation is in flight and checks the next Run picks it up again.
func TestWorker_ShutdownLeavesJobForRequeue(t *testing.T) {
	store := openTestStore(t)
	submit(t, store, "h3", storage.KindHealth, pipeline.HealthRequest{Question: "q"})

	started := make(chan struct{})
	blocking := &mockOrchestrator{
		healthFn: func(ctx context.Context, _ pipeline.HealthRequest) (*pipeline.Answer, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		newTestWorker(store, blocking).Run(ctx)
	}()
	<-started
	cancel()
	<-done

	g, err := store.GetGeneration("h3")
	require.NoError(t, err)
	require.Equal(t, "generating", g.Status, "interrupted generation is not marked as failed")

	answered := make(chan struct{})
	var once sync.Once
	ok := &mockOrchestrator{
		healthFn: func(context.Context, pipeline.HealthRequest) (*pipeline.Answer, error) {
			once.Do(func() { close(answered) })
			return &pipeline.Answer{Answer: "a"}, nil
		},
	}
	ctx2, cancel2 := context.WithCancel(context.Background())
	done2 := make(chan struct{})
	go func() {
		defer close(done2)
		newTestWorker(store, ok).Run(ctx2)
	}()

	select {
	case <-answered:
	case <-time.After(5 * time.Second):
		t.Fatal("requeued job was not processed")
	}
	require.Eventually(t, func() bool {
		g, err := store.GetGeneration("h3")
		return err == nil && g.Status == "done"
	}, 5*time.Second, 10*time.Millisecond)
	cancel2()
	<-done2
}

func TestWorker_RunProcessesConcurrently(t *testing.T) {
	store := openTestStore(t)
	const n = 6
	for i := 0; i < n; i++ {
		submit(t, store, string(rune('a'+i)), storage.KindHealth, pipeline.HealthRequest{Question: "q"})
	}

	var running, peak atomic.Int32
	orch := &mockOrchestrator{
		healthFn: func(context.Context, pipeline.HealthRequest) (*pipeline.Answer, error) {
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return &pipeline.Answer{Answer: "ok"}, nil
		},
	}

	w := NewWorker(store, orch, nil, nil, Options{Concurrency: 3, PollInterval: 5 * time.Millisecond, Logger: quietLogger})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		list, err := store.ListGenerations(n)
		if err != nil {
			return false
		}
		for _, g := range list {
			if g.Status != "done" {
				return false
			}
		}
		return len(list) == n
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	require.LessOrEqual(t, peak.Load(), int32(3))
	require.GreaterOrEqual(t, peak.Load(), int32(2))
}
