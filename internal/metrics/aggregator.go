package metrics

import (
	"context"
	"fmt"

	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/storage"
)

// Aggregator computes summaries from persisted trades and equity curves.
type Aggregator struct {
	tradeStore  storage.TradeStore
	equityStore storage.EquityStore
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator(tradeStore storage.TradeStore, equityStore storage.EquityStore) *Aggregator {
	return &Aggregator{
		tradeStore:  tradeStore,
		equityStore: equityStore,
	}
}

// SummaryFor loads everything recorded under the params' strategy id and
// computes its Summary. Zero recorded trades is not an error: the summary
// is simply all zeros.
func (a *Aggregator) SummaryFor(ctx context.Context, params domain.StrategyParams) (*Summary, error) {
	strategyID := params.StrategyID()

	trades, err := a.tradeStore.GetByStrategy(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades for %s: %w", strategyID, err)
	}

	curve, err := a.equityStore.GetCurve(ctx, strategyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load equity curve for %s: %w", strategyID, err)
	}

	s := Compute(trades, curve, params)
	return &s, nil
}
