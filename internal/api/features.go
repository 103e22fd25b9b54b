package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/kidsworld/internal/document"
	"github.com/kalambet/kidsworld/internal/engine"
	"github.com/kalambet/kidsworld/internal/pipeline"
	"github.com/kalambet/kidsworld/internal/storage"
	"github.com/kalambet/kidsworld/internal/worker"
)

// SubmitResponse is returned by every generation endpoint.
type SubmitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// StudyBody is the study endpoint body. Worksheet is an optional base64 PDF.
type StudyBody struct {
	Question  string `json:"question"`
	Subject   string `json:"subject,omitempty"`
	Language  string `json:"language,omitempty"`
	Worksheet string `json:"worksheet,omitempty"`
}

func handleCreateStory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pipeline.StoryRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		req.Learner = ""

		if !hasText(req.Interests) {
			req.Interests = nil
			p, err := deps.Profile.GetProfile()
			if err != nil || !hasText(p.Interests) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "interests are required")
				return
			}
		}
		submitGeneration(deps, w, storage.KindStory, req)
	}
}

func handleCreateHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pipeline.HealthRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		req.Learner = ""

		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		submitGeneration(deps, w, storage.KindHealth, req)
	}
}

func handleCreateStudy(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body StudyBody
		if !decodeBody(w, r, maxUploadSize, &body) {
			return
		}
		if strings.TrimSpace(body.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		req := pipeline.StudyRequest{
			Question: body.Question,
			Subject:  body.Subject,
			Language: body.Language,
		}
		if body.Worksheet != "" {
			data, err := base64.StdEncoding.DecodeString(body.Worksheet)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 worksheet")
				return
			}
			text, err := document.ExtractPDFText(data)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading worksheet: %v", err)
				return
			}
			req.Material = text
		}
		submitGeneration(deps, w, storage.KindStudy, req)
	}
}

// handleCreateAdventure accepts either a multipart form (photo file, theme,
// language) or a JSON body with the photo as a data URL.
func handleCreateAdventure(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		var in worker.AdventureInput
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "multipart/form-data" {
			photo, err := readPhotoUpload(r)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			in = worker.AdventureInput{
				Photo:    photo.DataURL(),
				Theme:    r.FormValue("theme"),
				Language: r.FormValue("language"),
			}
		} else {
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
			if _, err := engine.ParseDataURL(in.Photo); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "photo: %v", err)
				return
			}
		}

		if strings.TrimSpace(in.Theme) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "theme is required")
			return
		}
		submitGeneration(deps, w, storage.KindAdventure, in)
	}
}

func readPhotoUpload(r *http.Request) (engine.Image, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return engine.Image{}, errors.New("invalid multipart form")
	}
	f, hdr, err := r.FormFile("photo")
	if err != nil {
		return engine.Image{}, errors.New("photo is required")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return engine.Image{}, errors.New("reading photo")
	}
	if len(data) == 0 {
		return engine.Image{}, errors.New("photo is empty")
	}

	mimeType := hdr.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return engine.Image{}, errors.New("photo must be an image")
	}
	return engine.Image{Data: data, MIMEType: mimeType}, nil
}

func handleCreateMnemonic(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pipeline.MnemonicRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		words, err := pipeline.ValidateWords(req.Words)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		req.Words = words
		submitGeneration(deps, w, storage.KindMnemonic, req)
	}
}

func submitGeneration(deps AppDeps, w http.ResponseWriter, kind string, req any) {
	b, err := json.Marshal(req)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to encode request: %v", err)
		return
	}

	id := uuid.New().String()
	g := storage.Generation{
		ID:          id,
		Kind:        kind,
		Status:      string(pipeline.StatusGenerating),
		RequestJSON: string(b),
	}
	if err := deps.Store.SubmitGeneration(g, worker.NewJob(id)); err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to queue generation: %v", err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{ID: id, Status: g.Status})
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func hasText(words []string) bool {
	for _, w := range words {
		if strings.TrimSpace(w) != "" {
			return true
		}
	}
	return false
}
