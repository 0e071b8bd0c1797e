// Package recorder mirrors executions and rebalance recommendations into
// SQLite so the HTTP API can answer date queries without scanning journal
// files.
package recorder

import (
	"context"
	"time"
)

// TradeRow is one execution attempt as stored for querying.
type TradeRow struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Confidence int       `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	OrderID    string    `json:"order_id,omitempty"`
	Quantity   float64   `json:"quantity"`
	AvgPrice   float64   `json:"avg_price"`
	QuoteUSD   float64   `json:"quote_usd"`
	Executed   bool      `json:"executed"`
	Error      string    `json:"error,omitempty"`
}

// RecommendationRow is one rebalance suggestion, accepted or not.
type RecommendationRow struct {
	ID        int64     `json:"id"`
	TS        time.Time `json:"ts"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	AmountUSD float64   `json:"amount_usd"`
	Reasoning string    `json:"reasoning"`
	Status    string    `json:"status"` // accepted | rejected
	Reason    string    `json:"reason,omitempty"`
}

// Recorder persists rows and answers the API's history queries.
type Recorder interface {
	RecordTrade(ctx context.Context, row TradeRow) error
	RecordRecommendation(ctx context.Context, row RecommendationRow) error
	TradesByDate(ctx context.Context, date string) ([]TradeRow, error)
	RecentRecommendations(ctx context.Context, limit int) ([]RecommendationRow, error)
	Close() error
}
