package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/kidsworld/internal/engine"
	"github.com/kalambet/kidsworld/internal/pipeline"
	"github.com/kalambet/kidsworld/internal/profile"
)

// VocabBody saves a word list with its picture.
type VocabBody struct {
	Words []string `json:"words"`
	Image string   `json:"image"`
}

func handleListVocab(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Vocab.List())
	}
}

func handleAddVocab(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body VocabBody
		if !decodeBody(w, r, maxUploadSize, &body) {
			return
		}
		words, err := pipeline.ValidateWords(body.Words)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if _, err := engine.ParseDataURL(body.Image); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "image: %v", err)
			return
		}
		item := deps.Vocab.Add(words, body.Image)
		if item.ID == "" {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save vocabulary item")
			return
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

// handleDeleteVocab always succeeds: removing an unknown id is a no-op.
func handleDeleteVocab(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Vocab.Remove(chi.URLParam(r, "id"))
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profile.GetProfile()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePatchProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fields map[string]any
		if !decodeBody(w, r, maxRequestBodySize, &fields) {
			return
		}

		for key := range fields {
			if !profile.ValidKey(key) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown profile field %q", key)
				return
			}
		}
		for key, value := range fields {
			if err := deps.Profile.SetField(key, value); err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, profile.ErrUnknownKey) {
					status = http.StatusBadRequest
				}
				httpError(w, status, "api_error", "failed to set field %q: %v", key, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}
