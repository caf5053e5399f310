// Package memory implements an in-memory checkpoint store. State is lost
// on restart. Useful for testing and development.
package memory

import (
	"sync"
	"time"

	"github.com/meshcloud/tap-prometheus/pkg/checkpoint"
)

// Store implements checkpoint.Store in memory.
type Store struct {
	mu         sync.Mutex
	boundaries map[string]time.Time
}

// New creates an in-memory checkpoint store.
func New() *Store {
	return &Store{boundaries: make(map[string]time.Time)}
}

func (s *Store) Load(stream string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.boundaries[stream]
	return t, ok, nil
}

func (s *Store) Advance(stream string, boundary time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.boundaries[stream]; ok && boundary.Before(stored) {
		return &checkpoint.RegressionError{Stream: stream, Stored: stored, Asked: boundary}
	}

	s.boundaries[stream] = boundary
	return nil
}

func (s *Store) Close() error {
	return nil
}
