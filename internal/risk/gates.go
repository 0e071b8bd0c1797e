// Package risk holds the safety gates that stand between a trade idea and
// the exchange. Gates run in a fixed order; the first one that blocks wins.
package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Jokke7/tradingbot/internal/exchange"
	"github.com/Jokke7/tradingbot/internal/observ"
	"github.com/Jokke7/tradingbot/internal/portfolio"
)

// Proposal is a sized trade intent awaiting clearance.
type Proposal struct {
	Symbol  string
	Side    string // BUY | SELL
	SizeUSD float64
}

// Verdict is one gate's ruling. A blocked verdict names the gate so the
// journal and status endpoint can say why nothing traded.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Gate    string `json:"gate,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Verdict { return Verdict{Allowed: true} }

func block(gate, format string, args ...any) Verdict {
	return Verdict{Allowed: false, Gate: gate, Reason: fmt.Sprintf(format, args...)}
}

// Limits carries the configured thresholds.
type Limits struct {
	MaxTradeUSD           float64
	DailyLossLimitUSD     float64
	VolatilityLimitPct    float64
	ConcentrationLimitPct float64
}

var stablecoins = map[string]bool{
	"USDT": true, "USDC": true, "BUSD": true, "DAI": true, "FDUSD": true,
}

// IsStablecoin reports whether the symbol (or its base asset) is a pegged
// dollar token that should never be traded on a signal.
func IsStablecoin(symbol string) bool {
	up := strings.ToUpper(symbol)
	return stablecoins[up] || stablecoins[strings.TrimSuffix(up, "USDT")]
}

// Manager runs the gate chain. Symbol-level gates run before the oracle is
// consulted; order-level gates run on the concrete proposal afterwards.
type Manager struct {
	mu       sync.Mutex
	limits   Limits
	breaker  *CircuitBreaker
	exchange exchange.Client
}

func NewManager(limits Limits, breaker *CircuitBreaker, ex exchange.Client) *Manager {
	return &Manager{limits: limits, breaker: breaker, exchange: ex}
}

func (m *Manager) Breaker() *CircuitBreaker { return m.breaker }

// Limits returns the thresholds currently in force.
func (m *Manager) Limits() Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits
}

// UpdateLimits overwrites any non-nil threshold at runtime.
func (m *Manager) UpdateLimits(maxTradeUSD, dailyLossLimitUSD *float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if maxTradeUSD != nil {
		m.limits.MaxTradeUSD = *maxTradeUSD
	}
	if dailyLossLimitUSD != nil {
		m.limits.DailyLossLimitUSD = *dailyLossLimitUSD
	}
}

// CheckCycle clears the whole cycle for trading: the persisted halt flag
// and the daily loss limit bind every path, fast and slow alike.
func (m *Manager) CheckCycle(st portfolio.State) Verdict {
	lim := m.Limits()
	if st.EmergencyStop {
		return block("emergency_stop", "trading halted by operator")
	}
	if lim.DailyLossLimitUSD > 0 && st.DailyPnLUSD <= -lim.DailyLossLimitUSD {
		return block("daily_loss_limit", "daily pnl %.2f breached limit %.2f",
			st.DailyPnLUSD, lim.DailyLossLimitUSD)
	}
	return allow()
}

// CheckSymbol clears a symbol for evaluation this cycle.
func (m *Manager) CheckSymbol(ctx context.Context, symbol string, st portfolio.State) Verdict {
	if v := m.CheckCycle(st); !v.Allowed {
		return v
	}
	if m.breaker != nil && !m.breaker.Allow(symbol) {
		until, _ := m.breaker.SkippedUntil(symbol)
		return block("circuit_breaker", "symbol skipped until %s",
			until.UTC().Format(time.RFC3339))
	}
	if v := m.checkVolatility(ctx, symbol); !v.Allowed {
		return v
	}
	return allow()
}

// checkVolatility compares the last two short candles and blocks on a sudden
// move past the limit. A failed fetch lets the symbol through; the breaker is
// what punishes repeated upstream trouble.
func (m *Manager) checkVolatility(ctx context.Context, symbol string) Verdict {
	lim := m.Limits()
	if lim.VolatilityLimitPct <= 0 || m.exchange == nil {
		return allow()
	}
	klines, err := m.exchange.GetKlines(ctx, symbol, "5m", 2)
	if err != nil || len(klines) < 2 {
		if err != nil {
			observ.Error("volatility_check_failed", err, map[string]any{"symbol": symbol})
		}
		return allow()
	}
	prev, last := klines[0].Close, klines[1].Close
	if prev == 0 {
		return allow()
	}
	changePct := math.Abs((last - prev) / prev * 100)
	if changePct > lim.VolatilityLimitPct {
		return block("volatility", "%.2f%% move in 5m exceeds %.2f%%",
			changePct, lim.VolatilityLimitPct)
	}
	return allow()
}

// CheckOrder clears a sized proposal and returns the size to actually send,
// clamped to the per-trade cap.
func (m *Manager) CheckOrder(ctx context.Context, p Proposal, st portfolio.State) (Verdict, float64) {
	if v := m.CheckCycle(st); !v.Allowed {
		return v, 0
	}
	lim := m.Limits()
	size := p.SizeUSD
	if lim.MaxTradeUSD > 0 && size > lim.MaxTradeUSD {
		observ.Log("trade_size_clamped", map[string]any{
			"symbol": p.Symbol, "requested_usd": size, "cap_usd": lim.MaxTradeUSD,
		})
		size = lim.MaxTradeUSD
	}

	if p.Side == "BUY" {
		if size > st.CashUSD {
			return block("cash", "size %.2f exceeds cash %.2f", size, st.CashUSD), 0
		}
		if v := m.checkConcentration(ctx, p.Symbol, size, st); !v.Allowed {
			return v, 0
		}
	}
	return allow(), size
}

// checkConcentration rejects a buy that would push one asset past its share
// of total portfolio value. Assets whose price cannot be fetched are left out
// of the total rather than guessed at.
func (m *Manager) checkConcentration(ctx context.Context, symbol string, sizeUSD float64, st portfolio.State) Verdict {
	lim := m.Limits()
	if lim.ConcentrationLimitPct <= 0 {
		return allow()
	}

	total := st.CashUSD
	target := sizeUSD
	for sym, pos := range st.Positions {
		val, ok := m.positionValue(ctx, sym, pos)
		if !ok {
			continue
		}
		total += val
		if sym == symbol {
			target += val
		}
	}
	if total <= 0 {
		return allow()
	}
	pct := target / total * 100
	if pct > lim.ConcentrationLimitPct {
		return block("concentration", "%s would be %.1f%% of portfolio, limit %.1f%%",
			symbol, pct, lim.ConcentrationLimitPct)
	}
	return allow()
}

// PriceOf fetches the current price for a symbol through the shared
// exchange client.
func (m *Manager) PriceOf(ctx context.Context, symbol string) (float64, error) {
	if m.exchange == nil {
		return 0, fmt.Errorf("no exchange client")
	}
	tk, err := m.exchange.GetTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return tk.LastPrice, nil
}

func (m *Manager) positionValue(ctx context.Context, symbol string, pos portfolio.Position) (float64, bool) {
	base := strings.TrimSuffix(symbol, "USDT")
	if stablecoins[base] || stablecoins[symbol] {
		return pos.Quantity, true
	}
	if m.exchange == nil {
		return 0, false
	}
	tk, err := m.exchange.GetTicker(ctx, symbol)
	if err != nil {
		observ.Error("concentration_price_failed", err, map[string]any{"symbol": symbol})
		return 0, false
	}
	return pos.Quantity * tk.LastPrice, true
}
