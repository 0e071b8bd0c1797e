package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client is the narrow capability the bot needs from an exchange. All calls
// are request/response and may fail with an *APIError.
type Client interface {
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	GetAccountBalances(ctx context.Context) ([]Balance, error)
	PlaceMarketOrder(ctx context.Context, symbol, side string, quoteAmount float64) (*Order, error)
}

// Ticker is a 24h rolling-window snapshot for one symbol.
type Ticker struct {
	Symbol             string
	LastPrice          float64
	PriceChangePercent float64
}

// Kline is one OHLCV bar. Rows returned by GetKlines are ordered oldest to
// newest.
type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Balance is a per-asset account balance.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Order is the normalized result of a market order placement.
type Order struct {
	OrderID     string
	Symbol      string
	Side        string
	Status      string
	ExecutedQty float64
	CumQuoteQty float64
	AvgPrice    float64
}

// ErrKind classifies API failures so callers can tell rate limiting and
// auth problems apart from generic transport errors.
type ErrKind int

const (
	ErrGeneric ErrKind = iota
	ErrRateLimited
	ErrAuth
)

// APIError carries the failure class plus whatever the exchange returned.
type APIError struct {
	Kind   ErrKind
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	switch e.Kind {
	case ErrRateLimited:
		return fmt.Sprintf("exchange rate limited (HTTP %d): %s", e.Status, e.Msg)
	case ErrAuth:
		return fmt.Sprintf("exchange auth failure (HTTP %d): %s", e.Status, e.Msg)
	default:
		return fmt.Sprintf("exchange error (HTTP %d): %s", e.Status, e.Msg)
	}
}

// IsRateLimited reports whether err is an exchange rate-limit rejection.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Kind == ErrRateLimited
}

// IsAuth reports whether err is an exchange authentication failure.
func IsAuth(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Kind == ErrAuth
}

// Closes extracts the close column from klines, oldest to newest.
func Closes(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}
