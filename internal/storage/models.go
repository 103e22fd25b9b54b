package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a generation is not in a status
	// that may move to the requested one.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Generation kinds.
const (
	KindStory     = "story"
	KindHealth    = "health"
	KindStudy     = "study"
	KindAdventure = "adventure"
	KindMnemonic  = "mnemonic"
)

// Generation is the persisted record of one generation request.
type Generation struct {
	ID          string
	Kind        string
	Status      string
	Stage       string
	RequestJSON string
	ResultJSON  string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GenerationUpdate is applied together with a status transition.
type GenerationUpdate struct {
	Status     string
	Stage      string
	ResultJSON string
	Error      string
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
