package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/kidsworld/internal/audio"
	"github.com/kalambet/kidsworld/internal/pipeline"
	"github.com/kalambet/kidsworld/internal/storage"
	"github.com/kalambet/kidsworld/internal/worker"
)

// GenerationView is the API form of a generation record. Result is the
// kind-specific result document and is only set on the single-item endpoint.
type GenerationView struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Stage     string          `json:"stage,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func newGenerationView(g storage.Generation, withResult bool) GenerationView {
	v := GenerationView{
		ID:        g.ID,
		Kind:      g.Kind,
		Status:    g.Status,
		Stage:     g.Stage,
		Error:     g.Error,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
	if withResult && g.ResultJSON != "" {
		v.Result = json.RawMessage(g.ResultJSON)
	}
	return v
}

func handleListGenerations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		gens, err := deps.Store.ListGenerations(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list generations: %v", err)
			return
		}

		views := make([]GenerationView, 0, len(gens))
		for _, g := range gens {
			views = append(views, newGenerationView(g, false))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetGeneration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, ok := loadGeneration(deps, w, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, newGenerationView(g, true))
	}
}

// handleRetryGeneration re-runs a finished generation with its original
// request. A generation still running is a conflict.
func handleRetryGeneration(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.RetriggerGeneration(id, statusStrings(pipeline.StatusGenerating.Sources()), worker.NewJob(id))
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "generation not found")
			return
		case errors.Is(err, storage.ErrInvalidTransition):
			httpError(w, http.StatusConflict, "conflict_error", "generation is still running")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to retry generation: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, SubmitResponse{ID: id, Status: string(pipeline.StatusGenerating)})
	}
}

// handlePartAudio serves the narration of story part n (zero-based) as a
// 16-bit PCM WAV file.
func handlePartAudio(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, ok := loadGeneration(deps, w, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		if g.Kind != storage.KindStory || pipeline.Status(g.Status) != pipeline.StatusDone {
			httpError(w, http.StatusNotFound, "not_found", "no finished story with that id")
			return
		}

		var story worker.StoryResult
		if err := json.Unmarshal([]byte(g.ResultJSON), &story); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to decode story: %v", err)
			return
		}
		n, err := strconv.Atoi(chi.URLParam(r, "n"))
		if err != nil || n < 0 || n >= len(story.Parts) {
			httpError(w, http.StatusNotFound, "not_found", "story part not found")
			return
		}
		part := story.Parts[n]
		if part.Audio == "" {
			httpError(w, http.StatusNotFound, "not_found", "story part has no audio")
			return
		}

		buf, err := audio.DecodeBase64(part.Audio, part.SampleRate, part.Channels)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to decode audio: %v", err)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		if err := buf.WriteWAV(w); err != nil {
			deps.logger().Warn("failed to write wav", "generation_id", g.ID, "error", err)
		}
	}
}

func loadGeneration(deps AppDeps, w http.ResponseWriter, id string) (storage.Generation, bool) {
	g, err := deps.Store.GetGeneration(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "generation not found")
		return g, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get generation: %v", err)
		return g, false
	}
	return g, true
}

func statusStrings(in []pipeline.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
