package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/kidsworld/internal/profile"
	"github.com/kalambet/kidsworld/internal/storage"
	"github.com/kalambet/kidsworld/internal/vocab"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadSize      = 10 << 20 // 10MB, photos and worksheets
)

// AppDeps holds what the HTTP handlers need.
type AppDeps struct {
	Store   *storage.Store
	Profile *profile.Manager
	Vocab   *vocab.Store
	Token   string
	Logger  *slog.Logger
}

func (d AppDeps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// NewAppHandler returns the HTTP API. Everything except /health requires
// the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/stories", handleCreateStory(deps))
		r.Post("/health", handleCreateHealth(deps))
		r.Post("/study", handleCreateStudy(deps))
		r.Post("/adventures", handleCreateAdventure(deps))
		r.Post("/mnemonics", handleCreateMnemonic(deps))

		r.Get("/generations", handleListGenerations(deps))
		r.Get("/generations/{id}", handleGetGeneration(deps))
		r.Post("/generations/{id}/retry", handleRetryGeneration(deps))
		r.Get("/generations/{id}/parts/{n}/audio.wav", handlePartAudio(deps))

		r.Get("/vocab", handleListVocab(deps))
		r.Post("/vocab", handleAddVocab(deps))
		r.Delete("/vocab/{id}", handleDeleteVocab(deps))

		r.Get("/profile", handleGetProfile(deps))
		r.Patch("/profile", handlePatchProfile(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
