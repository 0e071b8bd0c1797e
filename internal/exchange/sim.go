package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SimClient is an in-process exchange for paper mode and tests. Prices
// follow a random walk around a per-symbol base; orders always fill at the
// current simulated price and adjust simulated balances.
type SimClient struct {
	mu       sync.Mutex
	random   *rand.Rand
	symbols  map[string]*simSymbol
	balances map[string]float64 // asset -> free amount
}

type simSymbol struct {
	base       float64
	last       float64
	volatility float64 // per-step stddev as a fraction of price
	change24h  float64
}

// NewSimClient seeds a sim exchange with a default symbol universe and a
// quote-currency bankroll.
func NewSimClient(quoteBalanceUSD float64) *SimClient {
	c := &SimClient{
		random:   rand.New(rand.NewSource(time.Now().UnixNano())),
		symbols:  map[string]*simSymbol{},
		balances: map[string]float64{"USDT": quoteBalanceUSD},
	}
	c.AddSymbol("BTCUSDT", 64000, 0.004)
	c.AddSymbol("ETHUSDT", 3100, 0.006)
	c.AddSymbol("SOLUSDT", 150, 0.010)
	c.AddSymbol("BNBUSDT", 580, 0.006)
	c.AddSymbol("XRPUSDT", 0.55, 0.012)
	return c
}

// AddSymbol registers a symbol with a base price and per-step volatility.
func (c *SimClient) AddSymbol(symbol string, base, volatility float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.symbols[strings.ToUpper(symbol)] = &simSymbol{
		base:       base,
		last:       base,
		volatility: volatility,
	}
}

// SetPrice pins a symbol's price and stops its random walk, for tests.
func (c *SimClient) SetPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.symbols[strings.ToUpper(symbol)]; ok {
		s.base = price
		s.last = price
		s.volatility = 0
	}
}

// SetBalance pins an asset balance, for tests.
func (c *SimClient) SetBalance(asset string, free float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[strings.ToUpper(asset)] = free
}

func (c *SimClient) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.symbols[strings.ToUpper(symbol)]
	if !ok {
		return nil, &APIError{Kind: ErrGeneric, Msg: fmt.Sprintf("unknown symbol %s", symbol)}
	}
	c.step(s)
	return &Ticker{
		Symbol:             strings.ToUpper(symbol),
		LastPrice:          s.last,
		PriceChangePercent: s.change24h,
	}, nil
}

func (c *SimClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.symbols[strings.ToUpper(symbol)]
	if !ok {
		return nil, &APIError{Kind: ErrGeneric, Msg: fmt.Sprintf("unknown symbol %s", symbol)}
	}

	step, err := time.ParseDuration(normalizeInterval(interval))
	if err != nil {
		step = time.Hour
	}

	// Walk backwards from the current price so the final close matches the
	// ticker.
	klines := make([]Kline, limit)
	price := s.last
	now := time.Now().Truncate(step)
	for i := limit - 1; i >= 0; i-- {
		open := price * (1 - c.random.NormFloat64()*s.volatility)
		high := math.Max(open, price) * (1 + c.random.Float64()*s.volatility)
		low := math.Min(open, price) * (1 - c.random.Float64()*s.volatility)
		klines[i] = Kline{
			OpenTime: now.Add(-time.Duration(limit-1-i) * step),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    price,
			Volume:   1000 * (0.5 + c.random.Float64()),
		}
		price = open
	}
	return klines, nil
}

func (c *SimClient) GetAccountBalances(ctx context.Context) ([]Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Balance, 0, len(c.balances))
	for asset, free := range c.balances {
		if free <= 0 {
			continue
		}
		out = append(out, Balance{Asset: asset, Free: free})
	}
	return out, nil
}

func (c *SimClient) PlaceMarketOrder(ctx context.Context, symbol, side string, quoteAmount float64) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	sym := strings.ToUpper(symbol)
	s, ok := c.symbols[sym]
	if !ok {
		return nil, &APIError{Kind: ErrGeneric, Msg: fmt.Sprintf("unknown symbol %s", symbol)}
	}
	if quoteAmount <= 0 {
		return nil, &APIError{Kind: ErrGeneric, Msg: "quote amount must be positive"}
	}

	qty := quoteAmount / s.last
	base := strings.TrimSuffix(sym, "USDT")
	switch strings.ToUpper(side) {
	case "BUY":
		c.balances["USDT"] -= quoteAmount
		c.balances[base] += qty
	case "SELL":
		c.balances[base] -= qty
		c.balances["USDT"] += quoteAmount
	default:
		return nil, &APIError{Kind: ErrGeneric, Msg: fmt.Sprintf("unknown side %s", side)}
	}

	return &Order{
		OrderID:     uuid.NewString(),
		Symbol:      sym,
		Side:        strings.ToUpper(side),
		Status:      "FILLED",
		ExecutedQty: qty,
		CumQuoteQty: quoteAmount,
		AvgPrice:    s.last,
	}, nil
}

func (c *SimClient) step(s *simSymbol) {
	move := c.random.NormFloat64() * s.volatility
	s.last *= 1 + move
	s.change24h = (s.last - s.base) / s.base * 100
}

func normalizeInterval(interval string) string {
	// Exchange-style intervals (1m, 5m, 1h, 1d) into time.ParseDuration form.
	if strings.HasSuffix(interval, "d") {
		return "24h"
	}
	return interval
}
