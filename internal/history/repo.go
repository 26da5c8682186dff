// Package history persists sync run summaries so that past runs stay
// inspectable after a restart. Persistence is optional: without a configured
// database the service uses the in-memory store.
package history

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/biobanking/blaze-sync/internal/sync"
)

// Run is one persisted sync run.
type Run struct {
	ID        uuid.UUID    `json:"id"`
	Kind      string       `json:"kind"`
	StartedAt time.Time    `json:"started_at"`
	Duration  float64      `json:"duration_seconds"`
	Summary   sync.Summary `json:"summary"`
}

// Run kinds.
const (
	KindFull       = "full"
	KindConditions = "conditions"
)

// Store records finished runs and lists recent ones, newest first.
type Store interface {
	Record(ctx context.Context, run Run) error
	Recent(ctx context.Context, limit int) ([]Run, error)
}

// MemStore keeps the most recent runs in memory. Safe for concurrent use.
type MemStore struct {
	mu   stdsync.Mutex
	runs []Run
	max  int
}

// NewMemStore creates an in-memory store retaining up to max runs.
func NewMemStore(max int) *MemStore {
	return &MemStore{max: max}
}

func (s *MemStore) Record(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append([]Run{run}, s.runs...)
	if len(s.runs) > s.max {
		s.runs = s.runs[:s.max]
	}
	return nil
}

func (s *MemStore) Recent(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.runs) {
		limit = len(s.runs)
	}
	out := make([]Run, limit)
	copy(out, s.runs[:limit])
	return out, nil
}
