package vocab

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kalambet/kidsworld/internal/storage"
)

const (
	// Key is the key-value entry holding the saved list.
	Key = "kids_world_vocab"
	// MaxItems caps the list; adding beyond it evicts the oldest item.
	MaxItems = 20
)

// KV is the key-value backend the list is persisted in. A missing key is
// reported as storage.ErrNotFound.
type KV interface {
	GetValue(key string) (string, error)
	SetValue(key, value string) error
}

// Item is a saved word list with its mnemonic picture.
type Item struct {
	ID        string   `json:"id"`
	Words     []string `json:"words"`
	Image     string   `json:"image"`
	Timestamp int64    `json:"timestamp"`
}

// Store keeps the most-recent-first vocabulary list. Persistence failures
// are logged and swallowed: reads degrade to an empty list, writes are lost.
type Store struct {
	mu      sync.Mutex
	kv      KV
	now     func() time.Time
	entropy io.Reader
	logger  *slog.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over kv.
func New(kv KV, opts ...Option) *Store {
	s := &Store{
		kv:      kv,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// List returns the saved items, most recent first.
func (s *Store) List() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Add saves a new item at the front of the list, evicting the oldest items
// beyond MaxItems, and returns it. If no id can be generated nothing is
// saved and the zero Item is returned.
func (s *Store) Add(words []string, image string) Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id, err := s.newID(now)
	if err != nil {
		s.logger.Error("failed to generate vocabulary id", "error", err)
		return Item{}
	}
	item := Item{
		ID:        id,
		Words:     append([]string(nil), words...),
		Image:     image,
		Timestamp: now.UnixMilli(),
	}

	items := append([]Item{item}, s.load()...)
	if len(items) > MaxItems {
		items = items[:MaxItems]
	}
	s.save(items)
	return item
}

// newID returns a time-ordered id for now. The monotonic source fails when it
// runs out of ids within one millisecond; fresh randomness is used then.
func (s *Store) newID(now time.Time) (string, error) {
	ms := ulid.Timestamp(now)
	id, err := ulid.New(ms, s.entropy)
	if err != nil {
		s.logger.Warn("monotonic vocabulary id failed, using fresh entropy", "error", err)
		if id, err = ulid.New(ms, rand.Reader); err != nil {
			return "", err
		}
	}
	return id.String(), nil
}

// Remove deletes the item with id. Unknown ids are a no-op.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.load()
	kept := items[:0]
	for _, it := range items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	s.save(kept)
}

func (s *Store) load() []Item {
	raw, err := s.kv.GetValue(Key)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && raw == "") {
		return []Item{}
	}
	if err != nil {
		s.logger.Error("failed to read saved vocabulary", "error", err)
		return []Item{}
	}

	var items []Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.logger.Warn("saved vocabulary is corrupt, starting empty", "error", err)
		return []Item{}
	}
	if items == nil {
		items = []Item{}
	}
	return items
}

func (s *Store) save(items []Item) {
	b, err := json.Marshal(items)
	if err != nil {
		s.logger.Error("failed to encode vocabulary", "error", err)
		return
	}
	if err := s.kv.SetValue(Key, string(b)); err != nil {
		s.logger.Error("failed to save vocabulary", "error", err)
	}
}
