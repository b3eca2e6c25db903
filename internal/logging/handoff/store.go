// Package handoff holds values that outlive the bootstrap phase. A single Store
// is created in main and passed to whatever needs to publish or read from it.
package handoff

import (
	"sort"
	"sync"

	"github.com/Chichichkin/bootlog/internal/logging"
)

// BootstrapEventsKey is where a capturing sink publishes its drained events.
const BootstrapEventsKey = "bootlog.bootstrap.events"

type Store struct {
	mu    sync.RWMutex
	props map[string]any
}

func NewStore() *Store {
	return &Store{props: make(map[string]any)}
}

// PutProperty sets key to value, replacing any previous value.
func (s *Store) PutProperty(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[key] = value
}

// Property returns the value stored under key.
func (s *Store) Property(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.props[key]
	return v, ok
}

func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.props))
	for k := range s.props {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// BootstrapEvents returns the events published under BootstrapEventsKey.
func BootstrapEvents(s *Store) ([]logging.LogEvent, bool) {
	v, ok := s.Property(BootstrapEventsKey)
	if !ok {
		return nil, false
	}
	events, ok := v.([]logging.LogEvent)
	return events, ok
}
