package loop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Jokke7/tradingbot/internal/decision"
	"github.com/Jokke7/tradingbot/internal/oracle"
	"github.com/Jokke7/tradingbot/internal/recorder"
	"github.com/Jokke7/tradingbot/internal/risk"
)

// recommendation is the JSON shape the rebalance prompt asks for.
type recommendation struct {
	Symbol    string  `json:"symbol"`
	Action    string  `json:"action"`
	AmountUSD float64 `json:"amount_usd"`
	Reasoning string  `json:"reasoning"`
}

// RunRebalance takes a whole-portfolio view: it describes every holding to
// the oracle, collects a list of recommendations, and acts on the ones that
// survive filtering. This is the only path that opens positions in symbols
// not already held.
func (s *Scheduler) RunRebalance(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.sink.OnError("rebalance", fmt.Errorf("panic in rebalance: %v", r))
		}
	}()

	st := s.store.Snapshot()
	if v := s.gates.CheckCycle(st); !v.Allowed {
		s.sink.OnRejection("rebalance", v)
		return
	}

	prompt := s.buildRebalancePrompt(ctx)
	raw, err := s.oracle.Complete(ctx, prompt)
	if err != nil {
		s.sink.OnError("rebalance", fmt.Errorf("rebalance oracle: %w", err))
		return
	}
	parsed := oracle.ExtractArray[[]recommendation](raw)
	if !parsed.OK {
		s.sink.OnError("rebalance", fmt.Errorf("unparseable rebalance reply"))
		return
	}

	for _, rec := range parsed.Value {
		s.applyRecommendation(ctx, rec)
	}

	s.mu.Lock()
	s.lastSlowRun = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Scheduler) buildRebalancePrompt(ctx context.Context) string {
	st := s.store.Snapshot()
	_, maxTrade, _, maxPositions := s.runtime.Get()

	var b strings.Builder
	fmt.Fprintf(&b, "You manage a small crypto portfolio. Review it and suggest adjustments.\n\n")
	fmt.Fprintf(&b, "Cash: %.2f USD. Realized P&L today: %.2f USD.\n", st.CashUSD, st.DailyPnLUSD)

	if len(st.Positions) == 0 {
		fmt.Fprintf(&b, "No open positions.\n")
	} else {
		fmt.Fprintf(&b, "Open positions:\n")
		for sym, pos := range st.Positions {
			line := fmt.Sprintf("- %s: %.8f units, avg %.4f", sym, pos.Quantity, pos.AvgPrice)
			if tk, err := s.gates.PriceOf(ctx, sym); err == nil && pos.AvgPrice > 0 {
				unreal := (tk - pos.AvgPrice) / pos.AvgPrice * 100
				line += fmt.Sprintf(", now %.4f (unrealized %.2f%%)", tk, unreal)
			}
			b.WriteString(line + "\n")
		}
	}

	if len(s.opts.Watchlist) > 0 {
		fmt.Fprintf(&b, "\nWatchlist you may also buy into: %s.\n",
			strings.Join(s.opts.Watchlist, ", "))
	}
	fmt.Fprintf(&b, "\nRules: at most %d open positions; amount_usd per trade must not exceed %.2f.\n",
		maxPositions, maxTrade)
	fmt.Fprintf(&b, "Reply with a JSON array only: ")
	fmt.Fprintf(&b, `[{"symbol":"BTCUSDT","action":"BUY|SELL|HOLD","amount_usd":0,"reasoning":"..."}]`)
	return b.String()
}

// applyRecommendation filters one suggestion and, if it survives, routes it
// through the same gate-execute-apply path the fast cycle uses.
func (s *Scheduler) applyRecommendation(ctx context.Context, rec recommendation) {
	row := recorder.RecommendationRow{
		TS:        time.Now().UTC(),
		Symbol:    strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Action:    strings.ToUpper(strings.TrimSpace(rec.Action)),
		AmountUSD: rec.AmountUSD,
		Reasoning: rec.Reasoning,
	}

	reject := func(reason string) {
		row.Status = "rejected"
		row.Reason = reason
		s.sink.OnRecommendation(row)
	}

	if row.Symbol == "" {
		reject("empty symbol")
		return
	}
	if risk.IsStablecoin(row.Symbol) {
		reject("stablecoin")
		return
	}
	switch row.Action {
	case decision.ActionBuy, decision.ActionSell:
	case decision.ActionHold:
		return // nothing to record
	default:
		reject(fmt.Sprintf("unknown action %q", rec.Action))
		return
	}

	st := s.store.Snapshot()
	_, maxTrade, _, maxPositions := s.runtime.Get()

	if row.Action == decision.ActionBuy {
		if _, held := st.Positions[row.Symbol]; !held && len(st.Positions) >= maxPositions {
			reject(fmt.Sprintf("max positions (%d) reached", maxPositions))
			return
		}
	}
	if row.AmountUSD <= 0 {
		reject("non-positive amount")
		return
	}
	if row.AmountUSD > maxTrade {
		row.AmountUSD = maxTrade
	}

	row.Status = "accepted"
	s.sink.OnRecommendation(row)

	s.maybeTrade(ctx, decision.Decision{
		Symbol:     row.Symbol,
		Action:     row.Action,
		Confidence: 100, // sized by the oracle's portfolio view, not a signal score
		Reasoning:  row.Reasoning,
		SizeUSD:    row.AmountUSD,
	})
}
