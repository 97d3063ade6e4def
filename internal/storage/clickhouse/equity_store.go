package clickhouse

import (
	"context"
	"fmt"
	"time"

	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/storage"
)

// EquityStore implements storage.EquityStore using ClickHouse.
type EquityStore struct {
	conn *Conn
}

// NewEquityStore creates a new EquityStore.
func NewEquityStore(conn *Conn) *EquityStore {
	return &EquityStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EquityStore = (*EquityStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate (strategy_id, date).
func (s *EquityStore) InsertBulk(ctx context.Context, points []*domain.EquityPoint) error {
	if len(points) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		strategyID string
		date       string
	}
	seen := make(map[key]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.StrategyID == "" || p.Date.IsZero() {
			return storage.ErrInvalidInput
		}
		k := key{p.StrategyID, p.Date.UTC().Format("2006-01-02")}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, p := range points {
		exists, err := s.exists(ctx, p.StrategyID, p.Date)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO equity_curve (
			strategy_id, date, equity, peak_equity, drawdown
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.StrategyID, p.Date.UTC(), p.Equity, p.PeakEquity, p.Drawdown,
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

// GetCurve retrieves all points for a strategy, ordered by date ASC.
func (s *EquityStore) GetCurve(ctx context.Context, strategyID string) ([]*domain.EquityPoint, error) {
	query := `
		SELECT strategy_id, date, equity, peak_equity, drawdown
		FROM equity_curve
		WHERE strategy_id = ?
		ORDER BY date ASC
	`

	rows, err := s.conn.Query(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("query equity curve: %w", err)
	}
	defer rows.Close()

	return scanEquityPoints(rows)
}

// exists checks if a point with the given key exists.
func (s *EquityStore) exists(ctx context.Context, strategyID string, date time.Time) (bool, error) {
	query := `
		SELECT count(*) FROM equity_curve
		WHERE strategy_id = ? AND date = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, strategyID, domain.Day(date)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanEquityPoints scans multiple rows.
func scanEquityPoints(rows chRows) ([]*domain.EquityPoint, error) {
	var points []*domain.EquityPoint

	for rows.Next() {
		var p domain.EquityPoint
		var date time.Time

		err := rows.Scan(&p.StrategyID, &date, &p.Equity, &p.PeakEquity, &p.Drawdown)
		if err != nil {
			return nil, fmt.Errorf("scan equity point row: %w", err)
		}

		p.Date = domain.Day(date)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate equity point rows: %w", err)
	}

	return points, nil
}
