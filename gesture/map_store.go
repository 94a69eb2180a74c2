package gesture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// UnknownPhrase is returned for labels that have no mapping.
const UnknownPhrase = "Unknown gesture"

// DefaultMap seeds a fresh gesture map file.
func DefaultMap() map[string]string {
	return map[string]string{
		"fist":      "Hello, how are you?",
		"open_hand": "Thank you very much",
		"peace":     "I need help please",
	}
}

// MapStore keeps the label to phrase table in memory and mirrors it to a
// pretty-printed JSON file.
type MapStore struct {
	path   string
	logger *zap.Logger

	mu          sync.RWMutex
	phrases     map[string]string
	lastWritten []byte
}

// NewMapStore returns an empty store backed by path. Call Load before use.
func NewMapStore(path string, logger *zap.Logger) *MapStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MapStore{
		path:    path,
		logger:  logger,
		phrases: make(map[string]string),
	}
}

func (s *MapStore) Path() string {
	return s.path
}

// Load reads the map file. A missing file is populated with DefaultMap and
// written back.
func (s *MapStore) Load() error {
	payload, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.phrases = DefaultMap()
		s.mu.Unlock()
		s.logger.Info("gesture map not found, seeding defaults", zap.String("path", s.path))
		return s.Save()
	}
	if err != nil {
		return fmt.Errorf("read gesture map: %w", err)
	}

	phrases, err := decodeMap(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.phrases = phrases
	s.lastWritten = payload
	s.mu.Unlock()
	s.logger.Info("gesture map loaded", zap.String("path", s.path), zap.Int("gestures", len(phrases)))
	return nil
}

// Save overwrites the file with the current mapping.
func (s *MapStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *MapStore) saveLocked() error {
	payload, err := json.MarshalIndent(s.phrases, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(s.path, payload, 0o644); err != nil {
		return fmt.Errorf("write gesture map: %w", err)
	}
	s.lastWritten = payload
	return nil
}

// Get looks up the phrase for a normalised label.
func (s *MapStore) Get(label string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	phrase, ok := s.phrases[NormalizeLabel(label)]
	return phrase, ok
}

// Phrase returns the phrase for label or UnknownPhrase.
func (s *MapStore) Phrase(label string) string {
	if phrase, ok := s.Get(label); ok {
		return phrase
	}
	return UnknownPhrase
}

// Merge applies a partial mapping on top of the current one and persists the
// result. Applying the same partial mapping twice is a no-op the second time.
func (s *MapStore) Merge(partial map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := make(map[string]string, len(s.phrases))
	for label, phrase := range s.phrases {
		previous[label] = phrase
	}
	for label, phrase := range partial {
		s.phrases[NormalizeLabel(label)] = phrase
	}
	if err := s.saveLocked(); err != nil {
		s.phrases = previous
		return err
	}
	return nil
}

// All returns a copy of the mapping.
func (s *MapStore) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.phrases))
	for label, phrase := range s.phrases {
		out[label] = phrase
	}
	return out
}

// reload re-reads the file after an external edit. It reports whether the
// in-memory mapping changed.
func (s *MapStore) reload() (bool, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bytes.Equal(payload, s.lastWritten) {
		return false, nil
	}
	phrases, err := decodeMap(payload)
	if err != nil {
		return false, err
	}
	s.phrases = phrases
	s.lastWritten = payload
	return true, nil
}

func decodeMap(payload []byte) (map[string]string, error) {
	var raw map[string]string
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decode gesture map: %w", err)
	}
	phrases := make(map[string]string, len(raw))
	for label, phrase := range raw {
		phrases[NormalizeLabel(label)] = phrase
	}
	return phrases, nil
}
