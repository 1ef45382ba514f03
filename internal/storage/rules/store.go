// Package rules persists the recurring-purchase rule collection. The store is
// a flat durable collection keyed by an application-defined namespace; every
// write replaces the whole collection.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/stackerapp/stacker/internal/domain"
)

// Store is the durable collection of rules. Save must be atomic: either the
// whole collection is persisted or the previous state is kept.
type Store interface {
	Load() ([]domain.Rule, error)
	Save(rules []domain.Rule) error
}

// FileStore keeps the collection as a single JSON document under a namespace,
// written atomically via a temp file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a file store rooted at dir for the given namespace.
func NewFileStore(dir, namespace string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create rules store dir")
	}

	name := sanitizeNamespace(namespace)
	if name == "" {
		name = "rules"
	}

	return &FileStore{path: filepath.Join(dir, fmt.Sprintf("%s.json", name))}, nil
}

// Load reads the rule collection from disk. A missing or empty file is an
// empty collection, not an error.
func (s *FileStore) Load() ([]domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read rules")
	}

	if len(payload) == 0 {
		return nil, nil
	}

	var rules []domain.Rule
	if err := json.Unmarshal(payload, &rules); err != nil {
		return nil, errors.Wrap(err, "decode rules")
	}

	return rules, nil
}

// Save writes the full collection atomically.
func (s *FileStore) Save(rules []domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rules == nil {
		rules = []domain.Rule{}
	}

	payload, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode rules")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write rules temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist rules")
	}

	return nil
}

// MemoryStore holds the collection in memory. Used as the injected test
// double and by simulation mode where nothing should touch disk.
type MemoryStore struct {
	mu    sync.Mutex
	rules []domain.Rule
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() ([]domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

func (s *MemoryStore) Save(rules []domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = make([]domain.Rule, len(rules))
	copy(s.rules, rules)
	return nil
}

func sanitizeNamespace(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder
	prevUnderscore := false
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
