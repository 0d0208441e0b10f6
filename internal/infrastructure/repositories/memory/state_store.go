package memory

import (
	"context"
	"sync"

	"statwindow/internal/core/domain"
	"statwindow/internal/core/ports"
)

// MemoryStateStore keeps the latest report per stream key in process memory.
type MemoryStateStore struct {
	reports map[domain.StreamKey]domain.ClassifiedReport
	mu      sync.RWMutex
}

func NewMemoryStateStore() ports.StreamStateStore {
	return &MemoryStateStore{
		reports: make(map[domain.StreamKey]domain.ClassifiedReport),
	}
}

func (s *MemoryStateStore) Get(ctx context.Context, key domain.StreamKey) (domain.ClassifiedReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[key]
	return report, ok, nil
}

func (s *MemoryStateStore) Put(ctx context.Context, key domain.StreamKey, report domain.ClassifiedReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports[key] = report
	return nil
}

func (s *MemoryStateStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = make(map[domain.StreamKey]domain.ClassifiedReport)
	return nil
}

func (s *MemoryStateStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports), nil
}

// NewMemoryStateStores returns one fresh store per partition.
func NewMemoryStateStores() map[domain.Partition]ports.StreamStateStore {
	stores := make(map[domain.Partition]ports.StreamStateStore)
	for _, p := range domain.Partitions() {
		stores[p] = NewMemoryStateStore()
	}
	return stores
}
