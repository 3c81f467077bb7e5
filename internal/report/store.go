package report

import (
	"sync"
)

// Store indexes persisted report handles by job and item. Handles live
// until the owning job is released.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]map[string]Handle
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]map[string]Handle)}
}

func (s *Store) Put(jobID string, h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.jobs[jobID]
	if !ok {
		items = make(map[string]Handle)
		s.jobs[jobID] = items
	}
	items[h.ItemID] = h
}

func (s *Store) Get(jobID, itemID string) (Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.jobs[jobID][itemID]
	return h, ok
}

// Items returns the handles recorded for a job, keyed by item.
func (s *Store) Items(jobID string) map[string]Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make(map[string]Handle, len(s.jobs[jobID]))
	for id, h := range s.jobs[jobID] {
		items[id] = h
	}
	return items
}

// Release drops all handles for a job.
func (s *Store) Release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}
