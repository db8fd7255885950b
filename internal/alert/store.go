package alert

import (
	"context"
	"sort"
	"sync"
)

// Filter narrows an active-alert listing. Zero values match everything.
type Filter struct {
	Severity Severity
	Type     Type
	Limit    int
}

// Stats summarizes the alert population. BySeverity and ByType count open
// alerts only; Total includes closed ones still retained.
type Stats struct {
	Active     int              `json:"active"`
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByType     map[Type]int     `json:"by_type"`
}

// Store persists alerts. Get must find closed alerts too; ListActive
// returns only open ones.
type Store interface {
	Create(ctx context.Context, a *Alert) error
	Get(ctx context.Context, id string) (*Alert, error)
	Update(ctx context.Context, a *Alert) error
	ListActive(ctx context.Context, f Filter) ([]*Alert, error)
	Stats(ctx context.Context) (*Stats, error)
}

const (
	// memoryHistoryCap bounds how many alerts the in-memory store retains.
	memoryHistoryCap = 1000

	// defaultListLimit caps a listing when the filter doesn't say.
	defaultListLimit = 100
)

// MemoryStore keeps alerts in memory for demos and tests. Open alerts live
// in an index by ID; every alert also lands in a bounded history so recently
// closed ones stay fetchable.
type MemoryStore struct {
	mu      sync.RWMutex
	open    map[string]*Alert
	history []*Alert
	cap     int
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		open: make(map[string]*Alert),
		cap:  memoryHistoryCap,
	}
}

func (s *MemoryStore) Create(_ context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := a.clone()
	s.open[cp.ID] = cp
	s.history = append(s.history, cp)
	if len(s.history) > s.cap {
		s.history = s.history[len(s.history)-s.cap:]
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.open[id]; ok {
		return a.clone(), nil
	}
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].ID == id {
			return s.history[i].clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Update(_ context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.open[a.ID]
	if !ok {
		for i := len(s.history) - 1; i >= 0; i-- {
			if s.history[i].ID == a.ID {
				cur = s.history[i]
				break
			}
		}
	}
	if cur == nil {
		return ErrNotFound
	}

	// History holds the same pointer, so this updates both views.
	*cur = *a.clone()
	if cur.Open() {
		s.open[cur.ID] = cur
	} else {
		delete(s.open, cur.ID)
	}
	return nil
}

func (s *MemoryStore) ListActive(_ context.Context, f Filter) ([]*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var result []*Alert
	for _, a := range s.open {
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		result = append(result, a.clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		Total:      len(s.history),
		BySeverity: make(map[Severity]int),
		ByType:     make(map[Type]int),
	}
	for _, a := range s.open {
		stats.Active++
		stats.BySeverity[a.Severity]++
		stats.ByType[a.Type]++
	}
	return stats, nil
}

// Len reports how many alerts the store retains (for testing).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}
