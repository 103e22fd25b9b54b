package worker

import (
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/kalambet/kidsworld/internal/pipeline"
	"github.com/kalambet/kidsworld/internal/storage"
)

// JobType is the queue type of generation jobs.
const JobType = "generation"

type jobPayload struct {
	GenerationID string `json:"generation_id"`
}

// NewJob builds the queue entry that runs generation id. Transient model
// failures are retried inside the orchestrators, so a job runs once.
func NewJob(generationID string) storage.Job {
	payload, _ := json.Marshal(jobPayload{GenerationID: generationID})
	return storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(payload),
		MaxAttempts: 1,
	}
}

// AdventureInput is the stored form of an adventure request. The photo is
// kept as a data URL.
type AdventureInput struct {
	Photo    string `json:"photo"`
	Theme    string `json:"theme"`
	Language string `json:"language,omitempty"`
}

// StoryResult is the stored form of a finished story.
type StoryResult struct {
	Parts []StoryPartResult `json:"parts"`
}

// StoryPartResult holds one paragraph. Audio is base64 16-bit LE PCM and is
// empty when the narration had no audio.
type StoryPartResult struct {
	Text       string `json:"text"`
	Image      string `json:"image"`
	Audio      string `json:"audio,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// ImageResult is the stored form of an adventure picture.
type ImageResult struct {
	Image string `json:"image"`
}

// MnemonicResult is the stored form of a mnemonic picture and the
// vocabulary entry it was saved as.
type MnemonicResult struct {
	Words   []string `json:"words"`
	Image   string   `json:"image"`
	VocabID string   `json:"vocabId,omitempty"`
}

// NewStoryResult converts a story into its stored form.
func NewStoryResult(s *pipeline.Story) StoryResult {
	out := StoryResult{Parts: make([]StoryPartResult, 0, len(s.Parts))}
	for _, p := range s.Parts {
		r := StoryPartResult{Text: p.Text, Image: p.Image.DataURL()}
		if p.Audio != nil && p.Audio.Frames() > 0 {
			r.Audio = base64.StdEncoding.EncodeToString(p.Audio.PCM16())
			r.SampleRate = p.Audio.SampleRate
			r.Channels = p.Audio.Channels
		}
		out.Parts = append(out.Parts, r)
	}
	return out
}
