package memory

import (
	"context"
	"sort"
	"sync"

	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/storage"
)

type equityKey struct {
	strategyID string
	date       string // YYYY-MM-DD
}

// EquityStore is an in-memory implementation of storage.EquityStore.
type EquityStore struct {
	mu   sync.RWMutex
	data map[equityKey]*domain.EquityPoint
}

// NewEquityStore creates a new in-memory equity store.
func NewEquityStore() *EquityStore {
	return &EquityStore{
		data: make(map[equityKey]*domain.EquityPoint),
	}
}

func pointKey(p *domain.EquityPoint) equityKey {
	return equityKey{
		strategyID: p.StrategyID,
		date:       p.Date.UTC().Format("2006-01-02"),
	}
}

// InsertBulk adds multiple points. Fails entire batch on duplicate (strategy_id, date).
func (s *EquityStore) InsertBulk(_ context.Context, points []*domain.EquityPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[equityKey]struct{}, len(points))

	// First pass: check for duplicates (existing + intra-batch)
	for _, p := range points {
		if p == nil || p.StrategyID == "" || p.Date.IsZero() {
			return storage.ErrInvalidInput
		}

		key := pointKey(p)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, p := range points {
		copy := *p
		s.data[pointKey(p)] = &copy
	}

	return nil
}

// GetCurve retrieves all points for a strategy, ordered by date ASC.
func (s *EquityStore) GetCurve(_ context.Context, strategyID string) ([]*domain.EquityPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EquityPoint
	for _, p := range s.data {
		if p.StrategyID == strategyID {
			copy := *p
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Date.Before(result[j].Date)
	})

	return result, nil
}

var _ storage.EquityStore = (*EquityStore)(nil)
