package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/storage"
)

type candleKey struct {
	instrument string
	date       string // YYYY-MM-DD
}

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[candleKey]*domain.Candle
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[candleKey]*domain.Candle),
	}
}

// InsertBulk adds multiple candles. Fails entire batch on duplicate (instrument, date).
func (s *CandleStore) InsertBulk(_ context.Context, instrument string, candles []*domain.Candle) error {
	if instrument == "" {
		return storage.ErrInvalidInput
	}
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[candleKey]struct{}, len(candles))

	// First pass: check for duplicates (existing + intra-batch)
	for _, c := range candles {
		if c == nil || c.Date.IsZero() {
			return storage.ErrInvalidInput
		}

		key := candleKey{instrument: instrument, date: c.Date.UTC().Format("2006-01-02")}
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, c := range candles {
		copy := *c
		s.data[candleKey{instrument: instrument, date: c.Date.UTC().Format("2006-01-02")}] = &copy
	}

	return nil
}

// GetByInstrument retrieves all candles for an instrument, ordered by date ASC.
func (s *CandleStore) GetByInstrument(_ context.Context, instrument string) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for key, c := range s.data {
		if key.instrument == instrument {
			copy := *c
			result = append(result, &copy)
		}
	}

	sortCandles(result)
	return result, nil
}

// GetByDateRange retrieves candles for an instrument within [start, end] (inclusive).
func (s *CandleStore) GetByDateRange(_ context.Context, instrument string, start, end time.Time) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for key, c := range s.data {
		if key.instrument != instrument {
			continue
		}
		if c.Date.Before(start) || c.Date.After(end) {
			continue
		}
		copy := *c
		result = append(result, &copy)
	}

	sortCandles(result)
	return result, nil
}

func sortCandles(candles []*domain.Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Date.Before(candles[j].Date)
	})
}

var _ storage.CandleStore = (*CandleStore)(nil)
