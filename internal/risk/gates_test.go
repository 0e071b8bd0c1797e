package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jokke7/tradingbot/internal/exchange"
	"github.com/Jokke7/tradingbot/internal/portfolio"
)

func testLimits() Limits {
	return Limits{
		MaxTradeUSD:           100,
		DailyLossLimitUSD:     50,
		VolatilityLimitPct:    5,
		ConcentrationLimitPct: 50,
	}
}

func TestEmergencyStopBlocksEverything(t *testing.T) {
	m := NewManager(testLimits(), NewCircuitBreaker(3, 30*time.Minute), exchange.NewSimClient(1000))
	v := m.CheckSymbol(context.Background(), "BTCUSDT", portfolio.State{EmergencyStop: true})
	assert.False(t, v.Allowed)
	assert.Equal(t, "emergency_stop", v.Gate)
}

func TestDailyLossLimit(t *testing.T) {
	m := NewManager(testLimits(), NewCircuitBreaker(3, 30*time.Minute), exchange.NewSimClient(1000))

	v := m.CheckSymbol(context.Background(), "BTCUSDT", portfolio.State{DailyPnLUSD: -49.99})
	assert.True(t, v.Allowed)

	v = m.CheckSymbol(context.Background(), "BTCUSDT", portfolio.State{DailyPnLUSD: -50})
	require.False(t, v.Allowed)
	assert.Equal(t, "daily_loss_limit", v.Gate)
}

func TestCheckCycleBindsOrderPath(t *testing.T) {
	m := NewManager(testLimits(), NewCircuitBreaker(3, 30*time.Minute), exchange.NewSimClient(1000))
	st := portfolio.State{CashUSD: 1000, DailyPnLUSD: -60}

	v, size := m.CheckOrder(context.Background(), Proposal{
		Symbol: "BTCUSDT", Side: "BUY", SizeUSD: 50,
	}, st)
	require.False(t, v.Allowed)
	assert.Equal(t, "daily_loss_limit", v.Gate)
	assert.Zero(t, size)

	st.DailyPnLUSD = 0
	st.EmergencyStop = true
	v, _ = m.CheckOrder(context.Background(), Proposal{
		Symbol: "BTCUSDT", Side: "SELL", SizeUSD: 50,
	}, st)
	require.False(t, v.Allowed)
	assert.Equal(t, "emergency_stop", v.Gate)
}

func TestBreakerThreeStrikesAndReset(t *testing.T) {
	b := NewCircuitBreaker(3, 30*time.Minute)

	b.RecordFailure("ETHUSDT")
	b.RecordFailure("ETHUSDT")
	assert.True(t, b.Allow("ETHUSDT"))

	b.RecordFailure("ETHUSDT")
	assert.False(t, b.Allow("ETHUSDT"))
	// Other symbols are unaffected.
	assert.True(t, b.Allow("BTCUSDT"))

	_, skipped := b.SkippedUntil("ETHUSDT")
	assert.True(t, skipped)
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewCircuitBreaker(3, 30*time.Minute)
	b.RecordFailure("SOLUSDT")
	b.RecordFailure("SOLUSDT")
	b.RecordSuccess("SOLUSDT")
	b.RecordFailure("SOLUSDT")
	b.RecordFailure("SOLUSDT")
	assert.True(t, b.Allow("SOLUSDT"))
}

func TestBreakerCooldownExpires(t *testing.T) {
	b := NewCircuitBreaker(3, 30*time.Minute)
	base := time.Now()
	b.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		b.RecordFailure("BTCUSDT")
	}
	assert.False(t, b.Allow("BTCUSDT"))

	b.now = func() time.Time { return base.Add(31 * time.Minute) }
	assert.True(t, b.Allow("BTCUSDT"))
}

func TestBreakerHoldsErrorsAcrossCooldown(t *testing.T) {
	b := NewCircuitBreaker(3, 30*time.Minute)
	base := time.Now()
	b.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		b.RecordFailure("BTCUSDT")
	}
	b.now = func() time.Time { return base.Add(31 * time.Minute) }
	require.True(t, b.Allow("BTCUSDT"))

	// The count survives the cooldown, so one more failure re-trips.
	b.RecordFailure("BTCUSDT")
	assert.False(t, b.Allow("BTCUSDT"))

	// A success after the second cooldown forgives everything.
	b.now = func() time.Time { return base.Add(62 * time.Minute) }
	require.True(t, b.Allow("BTCUSDT"))
	b.RecordSuccess("BTCUSDT")
	b.RecordFailure("BTCUSDT")
	assert.True(t, b.Allow("BTCUSDT"))
}

func TestVolatilityGateBlocksSpike(t *testing.T) {
	sim := exchange.NewSimClient(1000)
	sim.SetPrice("BTCUSDT", 50000)
	m := NewManager(testLimits(), nil, spikeClient{sim})

	v := m.CheckSymbol(context.Background(), "BTCUSDT", portfolio.State{})
	require.False(t, v.Allowed)
	assert.Equal(t, "volatility", v.Gate)
}

func TestVolatilityGateFailsOpen(t *testing.T) {
	m := NewManager(testLimits(), nil, erroringClient{})
	v := m.CheckSymbol(context.Background(), "BTCUSDT", portfolio.State{})
	assert.True(t, v.Allowed)
}

func TestMaxTradeCapClampsSize(t *testing.T) {
	m := NewManager(testLimits(), nil, exchange.NewSimClient(1000))
	st := portfolio.State{CashUSD: 10000, Positions: map[string]portfolio.Position{}}

	v, size := m.CheckOrder(context.Background(), Proposal{Symbol: "BTCUSDT", Side: "BUY", SizeUSD: 500}, st)
	require.True(t, v.Allowed)
	assert.Equal(t, 100.0, size)
}

func TestBuyBlockedWhenExceedsCash(t *testing.T) {
	m := NewManager(testLimits(), nil, exchange.NewSimClient(1000))
	st := portfolio.State{CashUSD: 40, Positions: map[string]portfolio.Position{}}

	v, _ := m.CheckOrder(context.Background(), Proposal{Symbol: "BTCUSDT", Side: "BUY", SizeUSD: 80}, st)
	require.False(t, v.Allowed)
	assert.Equal(t, "cash", v.Gate)
}

func TestConcentrationBlocksOversizedBuy(t *testing.T) {
	sim := exchange.NewSimClient(1000)
	sim.SetPrice("BTCUSDT", 50000)
	m := NewManager(testLimits(), nil, sim)

	st := portfolio.State{
		CashUSD: 100,
		Positions: map[string]portfolio.Position{
			"BTCUSDT": {Symbol: "BTCUSDT", Quantity: 0.002, AvgPrice: 50000}, // $100 held
		},
	}
	// Portfolio is $200; another $100 of BTC would make it 200/300 = 66%.
	v, _ := m.CheckOrder(context.Background(), Proposal{Symbol: "BTCUSDT", Side: "BUY", SizeUSD: 100}, st)
	require.False(t, v.Allowed)
	assert.Equal(t, "concentration", v.Gate)
}

func TestConcentrationIgnoresSells(t *testing.T) {
	sim := exchange.NewSimClient(1000)
	sim.SetPrice("BTCUSDT", 50000)
	m := NewManager(testLimits(), nil, sim)

	st := portfolio.State{
		CashUSD: 10,
		Positions: map[string]portfolio.Position{
			"BTCUSDT": {Symbol: "BTCUSDT", Quantity: 0.01, AvgPrice: 50000},
		},
	}
	v, size := m.CheckOrder(context.Background(), Proposal{Symbol: "BTCUSDT", Side: "SELL", SizeUSD: 90}, st)
	require.True(t, v.Allowed)
	assert.Equal(t, 90.0, size)
}

// spikeClient returns candles with a 10% jump between the last two closes.
type spikeClient struct{ exchange.Client }

func (s spikeClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	now := time.Now()
	return []exchange.Kline{
		{OpenTime: now.Add(-10 * time.Minute), Close: 100},
		{OpenTime: now.Add(-5 * time.Minute), Close: 110},
	}, nil
}

// erroringClient fails every call.
type erroringClient struct{}

func (erroringClient) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return nil, &exchange.APIError{Kind: exchange.ErrGeneric, Msg: "down"}
}

func (erroringClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	return nil, &exchange.APIError{Kind: exchange.ErrGeneric, Msg: "down"}
}

func (erroringClient) GetAccountBalances(ctx context.Context) ([]exchange.Balance, error) {
	return nil, &exchange.APIError{Kind: exchange.ErrGeneric, Msg: "down"}
}

func (erroringClient) PlaceMarketOrder(ctx context.Context, symbol, side string, quoteUSD float64) (*exchange.Order, error) {
	return nil, &exchange.APIError{Kind: exchange.ErrGeneric, Msg: "down"}
}
