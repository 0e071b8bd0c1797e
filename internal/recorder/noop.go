package recorder

import "context"

// Noop satisfies Recorder while recording nothing, for tests and for runs
// where the history database is disabled.
type Noop struct{}

func (Noop) RecordTrade(ctx context.Context, row TradeRow) error { return nil }

func (Noop) RecordRecommendation(ctx context.Context, row RecommendationRow) error { return nil }

func (Noop) TradesByDate(ctx context.Context, date string) ([]TradeRow, error) {
	return nil, nil
}

func (Noop) RecentRecommendations(ctx context.Context, limit int) ([]RecommendationRow, error) {
	return nil, nil
}

func (Noop) Close() error { return nil }
