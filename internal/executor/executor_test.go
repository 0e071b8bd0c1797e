package executor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jokke7/tradingbot/internal/decision"
	"github.com/Jokke7/tradingbot/internal/exchange"
	"github.com/Jokke7/tradingbot/internal/portfolio"
)

func newStore(t *testing.T) *portfolio.Store {
	t.Helper()
	s, err := portfolio.Open(filepath.Join(t.TempDir(), "state.json"), 1000)
	require.NoError(t, err)
	return s
}

func TestHoldDoesNotTrade(t *testing.T) {
	x := New(exchange.NewSimClient(1000), newStore(t))
	res := x.Execute(context.Background(), decision.Decision{
		Symbol: "BTCUSDT", Action: decision.ActionHold,
	})
	assert.False(t, res.Executed)
	assert.Empty(t, res.OrderID)
	assert.Empty(t, res.Error)
}

func TestBuyFills(t *testing.T) {
	sim := exchange.NewSimClient(1000)
	sim.SetPrice("BTCUSDT", 50000)
	x := New(sim, newStore(t))

	res := x.Execute(context.Background(), decision.Decision{
		Symbol: "BTCUSDT", Action: decision.ActionBuy, Confidence: 80, SizeUSD: 100,
	})
	require.True(t, res.Executed)
	assert.NotEmpty(t, res.OrderID)
	assert.InDelta(t, 50000, res.AvgPrice, 1e-6)
	assert.InDelta(t, 0.002, res.Quantity, 1e-9)
	assert.InDelta(t, 100, res.QuoteUSD, 1e-6)
}

func TestSellClampedToHolding(t *testing.T) {
	sim := exchange.NewSimClient(1000)
	sim.SetPrice("ETHUSDT", 2000)
	store := newStore(t)
	_, err := store.ApplyFill(portfolio.Fill{
		Symbol: "ETHUSDT", Side: "BUY", Quantity: 0.05, AvgPrice: 2000, QuoteUSD: 100,
	})
	require.NoError(t, err)

	x := New(sim, store)
	// Holding is worth $100; the decision asks for $500.
	res := x.Execute(context.Background(), decision.Decision{
		Symbol: "ETHUSDT", Action: decision.ActionSell, Confidence: 70, SizeUSD: 500,
	})
	require.True(t, res.Executed)
	assert.InDelta(t, 100, res.QuoteUSD, 1e-6)
	assert.InDelta(t, 0.05, res.Quantity, 1e-9)
}

func TestSellWithoutHoldingFails(t *testing.T) {
	x := New(exchange.NewSimClient(1000), newStore(t))
	res := x.Execute(context.Background(), decision.Decision{
		Symbol: "XRPUSDT", Action: decision.ActionSell, SizeUSD: 50,
	})
	assert.False(t, res.Executed)
	assert.Contains(t, res.Error, "nothing held")
}

func TestExchangeErrorCapturedInResult(t *testing.T) {
	x := New(failingExchange{}, newStore(t))
	res := x.Execute(context.Background(), decision.Decision{
		Symbol: "BTCUSDT", Action: decision.ActionBuy, SizeUSD: 50,
	})
	assert.False(t, res.Executed)
	assert.NotEmpty(t, res.Error)
}

type failingExchange struct{}

func (failingExchange) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return nil, &exchange.APIError{Kind: exchange.ErrGeneric, Msg: "down"}
}

func (failingExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	return nil, &exchange.APIError{Kind: exchange.ErrGeneric, Msg: "down"}
}

func (failingExchange) GetAccountBalances(ctx context.Context) ([]exchange.Balance, error) {
	return nil, &exchange.APIError{Kind: exchange.ErrGeneric, Msg: "down"}
}

func (failingExchange) PlaceMarketOrder(ctx context.Context, symbol, side string, quoteUSD float64) (*exchange.Order, error) {
	return nil, &exchange.APIError{Kind: exchange.ErrRateLimited, Status: 429, Msg: "slow down"}
}
