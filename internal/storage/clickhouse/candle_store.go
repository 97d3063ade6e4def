package clickhouse

import (
	"context"
	"fmt"
	"time"

	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk adds multiple candles. Fails entire batch on duplicate (instrument, date).
// MergeTree does not enforce uniqueness, so duplicates are checked explicitly
// before the batch is sent.
func (s *CandleStore) InsertBulk(ctx context.Context, instrument string, candles []*domain.Candle) error {
	if instrument == "" {
		return storage.ErrInvalidInput
	}
	if len(candles) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[string]struct{}, len(candles))
	for _, c := range candles {
		if c == nil || c.Date.IsZero() {
			return storage.ErrInvalidInput
		}
		day := c.Date.UTC().Format("2006-01-02")
		if _, exists := seen[day]; exists {
			return storage.ErrDuplicateKey
		}
		seen[day] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, c := range candles {
		exists, err := s.exists(ctx, instrument, c.Date)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			instrument, date, open, high, low, close
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			instrument, c.Date.UTC(), c.Open, c.High, c.Low, c.Close,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByInstrument retrieves all candles for an instrument, ordered by date ASC.
func (s *CandleStore) GetByInstrument(ctx context.Context, instrument string) ([]*domain.Candle, error) {
	query := `
		SELECT date, open, high, low, close
		FROM candles
		WHERE instrument = ?
		ORDER BY date ASC
	`

	rows, err := s.conn.Query(ctx, query, instrument)
	if err != nil {
		return nil, fmt.Errorf("query by instrument: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetByDateRange retrieves candles for an instrument within [start, end] (inclusive).
func (s *CandleStore) GetByDateRange(ctx context.Context, instrument string, start, end time.Time) ([]*domain.Candle, error) {
	query := `
		SELECT date, open, high, low, close
		FROM candles
		WHERE instrument = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`

	rows, err := s.conn.Query(ctx, query, instrument, domain.Day(start), domain.Day(end))
	if err != nil {
		return nil, fmt.Errorf("query by date range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// exists checks if a candle with the given key exists.
func (s *CandleStore) exists(ctx context.Context, instrument string, date time.Time) (bool, error) {
	query := `
		SELECT count(*) FROM candles
		WHERE instrument = ? AND date = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, instrument, domain.Day(date)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanCandles scans multiple rows.
func scanCandles(rows chRows) ([]*domain.Candle, error) {
	var candles []*domain.Candle

	for rows.Next() {
		var c domain.Candle
		var date time.Time

		err := rows.Scan(&date, &c.Open, &c.High, &c.Low, &c.Close)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}

		c.Date = domain.Day(date)
		candles = append(candles, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}
