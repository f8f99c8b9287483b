package repository

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/harbinger-io/harbinger/internal/domain/model"
)

// defaultShardCount spreads write contention across worker goroutines.
const defaultShardCount = 16

// MemStore implements Store with sharded in-memory maps. It is the
// default backing for single-node deployments and tests.
type MemStore struct {
	shards []*memShard
	now    func() time.Time
}

type memShard struct {
	mu      sync.RWMutex
	results map[string]model.RiskScoreResult
}

// MemOption applies a configuration option to the MemStore.
type MemOption func(*MemStore)

// WithShardCount sets the number of shards.
func WithShardCount(n int) MemOption {
	return func(s *MemStore) {
		if n > 0 {
			s.shards = make([]*memShard, n)
		}
	}
}

// WithClock overrides the expiry clock, used by tests.
func WithClock(now func() time.Time) MemOption {
	return func(s *MemStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemStore creates an in-memory store.
func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{
		shards: make([]*memShard, defaultShardCount),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.shards {
		s.shards[i] = &memShard{results: make(map[string]model.RiskScoreResult)}
	}
	return s
}

func (s *MemStore) shard(vin string) *memShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(vin))
	return s.shards[int(h.Sum32())%len(s.shards)]
}

// Put stores a result under its VIN.
func (s *MemStore) Put(ctx context.Context, r model.RiskScoreResult) error {
	sh := s.shard(r.VIN)
	sh.mu.Lock()
	sh.results[r.VIN] = r
	sh.mu.Unlock()
	return nil
}

// Get returns the current result for a VIN.
func (s *MemStore) Get(ctx context.Context, vin string) (model.RiskScoreResult, error) {
	sh := s.shard(vin)
	sh.mu.RLock()
	r, ok := sh.results[vin]
	sh.mu.RUnlock()
	if !ok {
		return model.RiskScoreResult{}, ErrNotFound
	}
	if !r.ExpiresAt.IsZero() && s.now().After(r.ExpiresAt) {
		return model.RiskScoreResult{}, ErrExpired
	}
	return r, nil
}

// Summaries returns per-VIN summaries across all shards.
func (s *MemStore) Summaries(ctx context.Context) (map[string]Summary, error) {
	out := make(map[string]Summary)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for vin, r := range sh.results {
			out[vin] = Summary{Posterior: r.Posterior, CohortID: r.CohortID}
		}
		sh.mu.RUnlock()
	}
	return out, nil
}

// Count returns the number of stored results.
func (s *MemStore) Count(ctx context.Context) (int, error) {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.results)
		sh.mu.RUnlock()
	}
	return n, nil
}
