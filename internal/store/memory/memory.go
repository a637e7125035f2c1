// Package memory implements store.Store in process memory. It is the default
// backing when no database is configured, and holds nothing across restarts.
package memory

import (
	"context"
	"sync"

	"github.com/alfredjeanlab/miyah/internal/model"
	"github.com/alfredjeanlab/miyah/internal/store"
)

// Store keeps reports newest first.
type Store struct {
	mu      sync.RWMutex
	reports []model.Report
	index   map[string]int // id -> position counted from the oldest report
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{index: make(map[string]int)}
}

func (s *Store) CreateReport(_ context.Context, r *model.Report) (*model.Report, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos, ok := s.index[r.ID]; ok {
		existing := s.reports[len(s.reports)-1-pos]
		return &existing, false, nil
	}
	s.index[r.ID] = len(s.reports)
	s.reports = append([]model.Report{*r}, s.reports...)
	stored := *r
	return &stored, true, nil
}

func (s *Store) GetReport(_ context.Context, id string) (*model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	r := s.reports[len(s.reports)-1-pos]
	return &r, nil
}

func (s *Store) ListReports(_ context.Context) ([]model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Report, len(s.reports))
	copy(out, s.reports)
	return out, nil
}

func (s *Store) DeleteReport(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[id]; !ok {
		return store.ErrNotFound
	}
	kept := s.reports[:0]
	for _, r := range s.reports {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	s.reports = kept
	s.reindex()
	return nil
}

func (s *Store) CountReports(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports), nil
}

// RunInTransaction runs fn against the store itself. Operations inside fn
// are individually atomic; there is no rollback.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *Store) Close() error { return nil }

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.reports))
	n := len(s.reports)
	for i, r := range s.reports {
		s.index[r.ID] = n - 1 - i
	}
}
