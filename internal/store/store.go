// Package store persists analysis jobs. The in-memory implementation
// backs single-node deployments and tests; the Postgres implementation
// survives restarts.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"repo-sentinel/internal/model"
)

// ErrNotFound is returned for lookups of unknown job IDs.
var ErrNotFound = errors.New("job not found")

// Store is the persistence surface the pipeline writes through.
type Store interface {
	// Save upserts the job record.
	Save(ctx context.Context, job *model.Job) error
	// Load returns the stored job, ErrNotFound if absent.
	Load(ctx context.Context, id string) (*model.Job, error)
	// ListRecent returns up to limit job summaries, newest first.
	ListRecent(ctx context.Context, limit int) ([]model.JobSummary, error)
	// Close releases underlying resources.
	Close()
}

// MemoryStore keeps jobs in a map. Values are deep-copied on both
// paths so callers can never alias stored state.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*model.Job
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*model.Job)}
}

func (s *MemoryStore) Save(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]model.JobSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]model.JobSummary, 0, len(s.jobs))
	for _, job := range s.jobs {
		summaries = append(summaries, job.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

func (s *MemoryStore) Close() {}
