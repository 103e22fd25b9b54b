package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/kidsworld/internal/engine"
	"github.com/kalambet/kidsworld/internal/pipeline"
	"github.com/kalambet/kidsworld/internal/profile"
	"github.com/kalambet/kidsworld/internal/storage"
	"github.com/kalambet/kidsworld/internal/vocab"
)

// Store abstracts the job queue and generation records.
type Store interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	RequeueRunningJobs() (int, error)
	GetGeneration(id string) (storage.Generation, error)
	SetGenerationStage(id, stage string) error
	TransitionGeneration(id string, from []string, u storage.GenerationUpdate) error
}

// Orchestrator runs the generation features.
type Orchestrator interface {
	Story(ctx context.Context, req pipeline.StoryRequest, progress func(pipeline.Stage)) (*pipeline.Story, error)
	AskHealth(ctx context.Context, req pipeline.HealthRequest) (*pipeline.Answer, error)
	AskStudy(ctx context.Context, req pipeline.StudyRequest) (*pipeline.Answer, error)
	Adventure(ctx context.Context, req pipeline.AdventureRequest) (engine.Image, error)
	Mnemonic(ctx context.Context, req pipeline.MnemonicRequest) (engine.Image, error)
}

// ProfileSource supplies the learner profile used for request defaults.
type ProfileSource interface {
	GetProfile() (profile.Profile, error)
}

// VocabSaver stores finished mnemonics.
type VocabSaver interface {
	Add(words []string, image string) vocab.Item
}

// Options tunes a Worker.
type Options struct {
	// Concurrency is the number of generations run at once. Defaults to 2.
	Concurrency int
	// PollInterval is the idle wait between queue polls. Defaults to 500ms.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Worker processes generation jobs from the SQLite job queue and records
// each generation's outcome.
type Worker struct {
	store       Store
	orch        Orchestrator
	profiles    ProfileSource
	vocab       VocabSaver
	concurrency int
	poll        time.Duration
	logger      *slog.Logger
}

// NewWorker creates a Worker with the given dependencies. profiles and
// saver may be nil.
func NewWorker(store Store, orch Orchestrator, profiles ProfileSource, saver VocabSaver, opts Options) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Worker{
		store:       store,
		orch:        orch,
		profiles:    profiles,
		vocab:       saver,
		concurrency: opts.Concurrency,
		poll:        opts.PollInterval,
		logger:      opts.Logger,
	}
}

// Run requeues jobs interrupted by a previous shutdown, then polls for jobs
// with Concurrency loops until ctx is cancelled. ctx must be the process
// lifetime context: cancelling it abandons in-flight generations, which are
// picked up again on the next start.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.store.RequeueRunningJobs(); err != nil {
		w.logger.Error("failed to requeue interrupted jobs", "error", err)
	} else if n > 0 {
		w.logger.Info("requeued interrupted jobs", "count", n)
	}

	var g errgroup.Group
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	g.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single generation job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	err = w.processJob(ctx, job)
	if ctx.Err() != nil {
		// Shutting down: leave the job running so the next start requeues it.
		w.logger.Info("generation interrupted by shutdown", "job_id", job.ID)
		return true, nil
	}
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		w.markGenerationFailed(job, err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

var fromGenerating = []string{string(pipeline.StatusGenerating)}

// markGenerationFailed moves the job's generation from generating to error.
// Jobs run once, so nothing else would finish it.
func (w *Worker) markGenerationFailed(job *storage.Job, cause error) {
	var payload jobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil || payload.GenerationID == "" {
		return
	}
	err := w.store.TransitionGeneration(payload.GenerationID, fromGenerating, storage.GenerationUpdate{
		Status: string(pipeline.StatusError),
		Error:  cause.Error(),
	})
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidTransition):
	default:
		w.logger.Error("failed to record generation failure", "generation_id", payload.GenerationID, "error", err)
	}
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload jobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	g, err := w.store.GetGeneration(payload.GenerationID)
	if err != nil {
		return fmt.Errorf("loading generation %s: %w", payload.GenerationID, err)
	}
	if pipeline.Status(g.Status) != pipeline.StatusGenerating {
		w.logger.Debug("skipping stale job", "job_id", job.ID, "generation_id", g.ID, "status", g.Status)
		return nil
	}

	logger := w.logger.With("generation_id", g.ID, "kind", g.Kind)
	logger.Info("generation started")
	start := time.Now()

	result, genErr := w.generate(ctx, g)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	update := storage.GenerationUpdate{Status: string(pipeline.StatusDone)}
	if genErr != nil {
		update = storage.GenerationUpdate{Status: string(pipeline.StatusError), Error: genErr.Error()}
		logger.Warn("generation failed", "error", genErr, "elapsed", time.Since(start))
	} else {
		b, err := json.Marshal(result)
		if err != nil {
			update = storage.GenerationUpdate{Status: string(pipeline.StatusError), Error: fmt.Sprintf("encoding result: %v", err)}
		} else {
			update.ResultJSON = string(b)
			logger.Info("generation done", "elapsed", time.Since(start))
		}
	}

	if err := w.store.TransitionGeneration(g.ID, fromGenerating, update); err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			logger.Warn("generation changed while running, dropping result", "error", err)
			return nil
		}
		return fmt.Errorf("recording generation %s: %w", g.ID, err)
	}
	return nil
}

func (w *Worker) generate(ctx context.Context, g storage.Generation) (any, error) {
	p := w.learnerProfile()
	learner := profile.Summarize(p)

	switch g.Kind {
	case storage.KindStory:
		var req pipeline.StoryRequest
		if err := decodeRequest(g, &req); err != nil {
			return nil, err
		}
		if len(req.Interests) == 0 {
			req.Interests = p.Interests
		}
		req.Language = orDefault(req.Language, p.Language)
		req.Learner = learner

		story, err := w.orch.Story(ctx, req, func(stage pipeline.Stage) {
			if err := w.store.SetGenerationStage(g.ID, string(stage)); err != nil {
				w.logger.Warn("failed to record stage", "generation_id", g.ID, "stage", stage, "error", err)
			}
		})
		if err != nil {
			return nil, err
		}
		return NewStoryResult(story), nil

	case storage.KindHealth:
		var req pipeline.HealthRequest
		if err := decodeRequest(g, &req); err != nil {
			return nil, err
		}
		req.Language = orDefault(req.Language, p.Language)
		req.Learner = learner
		return w.orch.AskHealth(ctx, req)

	case storage.KindStudy:
		var req pipeline.StudyRequest
		if err := decodeRequest(g, &req); err != nil {
			return nil, err
		}
		req.Language = orDefault(req.Language, p.Language)
		req.Learner = learner
		return w.orch.AskStudy(ctx, req)

	case storage.KindAdventure:
		var in AdventureInput
		if err := decodeRequest(g, &in); err != nil {
			return nil, err
		}
		photo, err := engine.ParseDataURL(in.Photo)
		if err != nil {
			return nil, fmt.Errorf("%w: photo: %v", pipeline.ErrInvalidInput, err)
		}
		img, err := w.orch.Adventure(ctx, pipeline.AdventureRequest{
			Photo:    photo,
			Theme:    in.Theme,
			Language: orDefault(in.Language, p.Language),
		})
		if err != nil {
			return nil, err
		}
		return ImageResult{Image: img.DataURL()}, nil

	case storage.KindMnemonic:
		var req pipeline.MnemonicRequest
		if err := decodeRequest(g, &req); err != nil {
			return nil, err
		}
		req.Language = orDefault(req.Language, p.Language)
		img, err := w.orch.Mnemonic(ctx, req)
		if err != nil {
			return nil, err
		}
		words, _ := pipeline.ValidateWords(req.Words)
		res := MnemonicResult{Words: words, Image: img.DataURL()}
		if w.vocab != nil {
			res.VocabID = w.vocab.Add(words, res.Image).ID
		}
		return res, nil
	}
	return nil, fmt.Errorf("unknown generation kind %q", g.Kind)
}

// learnerProfile returns the current profile, or a zero profile when none
// is available.
func (w *Worker) learnerProfile() profile.Profile {
	if w.profiles == nil {
		return profile.Profile{}
	}
	p, err := w.profiles.GetProfile()
	if err != nil {
		w.logger.Warn("failed to load learner profile", "error", err)
		return profile.Profile{}
	}
	return p
}

func decodeRequest(g storage.Generation, v any) error {
	if err := json.Unmarshal([]byte(g.RequestJSON), v); err != nil {
		return fmt.Errorf("%w: decoding %s request: %v", pipeline.ErrInvalidInput, g.Kind, err)
	}
	return nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
