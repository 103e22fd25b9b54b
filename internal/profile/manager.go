package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ErrUnknownKey is returned by SetField for keys outside the profile.
var ErrUnknownKey = errors.New("unknown profile key")

// ValidKey reports whether key names a profile field.
func ValidKey(key string) bool {
	switch key {
	case KeyName, KeyAge, KeyLanguage, KeyInterests:
		return true
	}
	return false
}

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	SetProfileKey(key, value string) error
	GetAllProfileKeys() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached, structured access to the learner profile stored in SQLite.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *Profile
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return &Manager{
		store: store,
		clock: realClock{},
		ttl:   60 * time.Second,
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
	}
}

// GetProfile reads all profile keys from storage (or cache) and assembles
// a Profile. Returns a zero-value Profile on empty store.
func (m *Manager) GetProfile() (Profile, error) {
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		p := copyProfile(m.cached)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		return copyProfile(m.cached), nil
	}

	keys, err := m.store.GetAllProfileKeys()
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile keys: %w", err)
	}

	p := buildProfile(keys)
	m.cached = &p
	m.cachedAt = m.clock.Now()
	return copyProfile(&p), nil
}

// SetField persists a profile key and invalidates the cache. Non-string
// values are stored as JSON.
func (m *Manager) SetField(key string, value any) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w %q", ErrUnknownKey, key)
	}

	var str string
	switch v := value.(type) {
	case string:
		str = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling value for key %q: %w", key, err)
		}
		str = string(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetProfileKey(key, str); err != nil {
		return fmt.Errorf("setting profile key %q: %w", key, err)
	}

	m.cached = nil
	return nil
}

// Update writes every non-empty field of p.
func (m *Manager) Update(p Profile) error {
	if p.Name != "" {
		if err := m.SetField(KeyName, p.Name); err != nil {
			return err
		}
	}
	if p.Age != 0 {
		if err := m.SetField(KeyAge, p.Age); err != nil {
			return err
		}
	}
	if p.Language != "" {
		if err := m.SetField(KeyLanguage, p.Language); err != nil {
			return err
		}
	}
	if p.Interests != nil {
		if err := m.SetField(KeyInterests, p.Interests); err != nil {
			return err
		}
	}
	return nil
}

// GetSummary returns a compact description of the learner for prompt
// injection. It is empty when no profile is configured.
func (m *Manager) GetSummary() (string, error) {
	p, err := m.GetProfile()
	if err != nil {
		return "", fmt.Errorf("getting profile for summary: %w", err)
	}
	return Summarize(p), nil
}

// maxSummaryChars keeps the learner block short relative to the task prompt.
const maxSummaryChars = 500

// Summarize renders p as a few short sentences.
func Summarize(p Profile) string {
	var parts []string
	switch {
	case p.Name != "" && p.Age > 0:
		parts = append(parts, fmt.Sprintf("The learner is %s, age %d.", p.Name, p.Age))
	case p.Name != "":
		parts = append(parts, fmt.Sprintf("The learner is %s.", p.Name))
	case p.Age > 0:
		parts = append(parts, fmt.Sprintf("The learner is %d years old.", p.Age))
	}
	if p.Language != "" {
		parts = append(parts, fmt.Sprintf("Preferred language: %s.", p.Language))
	}
	if len(p.Interests) > 0 {
		parts = append(parts, fmt.Sprintf("Likes: %s.", strings.Join(p.Interests, ", ")))
	}

	summary := strings.Join(parts, " ")
	if len(summary) > maxSummaryChars {
		// Ensure we don't split a multi-byte UTF-8 character.
		end := maxSummaryChars
		for end > 0 && !utf8.RuneStart(summary[end]) {
			end--
		}
		if idx := strings.LastIndex(summary[:end], " "); idx > 0 {
			summary = summary[:idx]
		} else {
			summary = summary[:end]
		}
	}
	return summary
}

func copyProfile(p *Profile) Profile {
	if p == nil {
		return Profile{}
	}
	cp := *p
	if p.Interests != nil {
		cp.Interests = make([]string, len(p.Interests))
		copy(cp.Interests, p.Interests)
	}
	return cp
}

// buildProfile assembles a Profile from flat key-value pairs.
func buildProfile(keys map[string]string) Profile {
	var p Profile
	p.Name = keys[KeyName]
	p.Language = keys[KeyLanguage]
	if v, ok := keys[KeyAge]; ok {
		age, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			slog.Warn("malformed profile key, skipping", "key", KeyAge, "error", err)
		} else {
			p.Age = age
		}
	}
	unmarshalProfileKey(keys, KeyInterests, &p.Interests)
	return p
}

// unmarshalProfileKey unmarshals a JSON value from keys into target, logging
// a warning if the value is present but malformed.
func unmarshalProfileKey(keys map[string]string, key string, target any) {
	v, ok := keys[key]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(v), target); err != nil {
		slog.Warn("malformed profile key, skipping", "key", key, "error", err)
	}
}
