// Package decision turns market data plus an oracle reply into a single
// validated trade decision. The engine is pure orchestration; it never
// touches portfolio state or the order endpoint.
package decision

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Jokke7/tradingbot/internal/exchange"
	"github.com/Jokke7/tradingbot/internal/indicator"
	"github.com/Jokke7/tradingbot/internal/observ"
	"github.com/Jokke7/tradingbot/internal/oracle"
	"github.com/Jokke7/tradingbot/internal/portfolio"
)

const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Decision is the engine's verdict for one symbol. SizeUSD is zero exactly
// when Action is HOLD.
type Decision struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	Confidence int     `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	SizeUSD    float64 `json:"size_usd"`
}

// oracleReply is the JSON shape the model is asked to produce.
type oracleReply struct {
	Action     string  `json:"action"`
	Confidence int     `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	SizeUSD    float64 `json:"size_usd"`
}

// Settings supplies the adjustable knobs the engine reads on every
// evaluation, so a config change takes effect on the next cycle without a
// restart. The loop's runtime settings satisfy it.
type Settings interface {
	Get() (confidenceThreshold int, maxTradeUSD, dailyLossLimitUSD float64, maxPositions int)
}

type Engine struct {
	oracle   oracle.Oracle
	exchange exchange.Client
	settings Settings
}

func NewEngine(o oracle.Oracle, ex exchange.Client, settings Settings) *Engine {
	return &Engine{oracle: o, exchange: ex, settings: settings}
}

// Evaluate runs the full pipeline for one symbol. A market-data failure
// aborts with an error; an unusable oracle reply degrades to HOLD instead.
func (e *Engine) Evaluate(ctx context.Context, symbol string, pos *portfolio.Position) (Decision, error) {
	threshold, maxUSD, _, _ := e.settings.Get()

	ticker, err := e.exchange.GetTicker(ctx, symbol)
	if err != nil {
		return Decision{}, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	klines, err := e.exchange.GetKlines(ctx, symbol, "1h", 200)
	if err != nil {
		return Decision{}, fmt.Errorf("klines %s: %w", symbol, err)
	}
	closes := exchange.Closes(klines)

	feats := features{
		Price:       ticker.LastPrice,
		Change24Pct: ticker.PriceChangePercent,
		RSI:         indicator.RSI(closes, 14),
		SMA20:       indicator.SMA(closes, 20),
		SMA50:       indicator.SMA(closes, 50),
		SMA200:      indicator.SMA(closes, 200),
		Momentum:    indicator.ROC(closes, 14),
	}
	feats.MACDHist = indicator.MACD(closes, 12, 26, 9).Histogram

	prompt := e.buildPrompt(symbol, feats, pos, threshold, maxUSD)
	raw, err := e.oracle.Complete(ctx, prompt)
	if err != nil {
		return Decision{}, fmt.Errorf("oracle %s: %w", symbol, err)
	}

	parsed := oracle.ExtractObject[oracleReply](raw)
	if !parsed.OK {
		observ.IncCounter("oracle_malformed_total", map[string]string{"symbol": symbol})
		return Decision{
			Symbol:    symbol,
			Action:    ActionHold,
			Reasoning: "unparseable oracle reply, holding",
		}, nil
	}

	d := validate(symbol, parsed.Value, maxUSD)

	if d.Action != ActionHold && d.Confidence >= threshold {
		d = e.reflect(ctx, d)
	}
	return d, nil
}

type features struct {
	Price       float64
	Change24Pct float64
	RSI         float64
	SMA20       float64
	SMA50       float64
	SMA200      float64
	MACDHist    float64
	Momentum    float64
}

func fm(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}

func (e *Engine) buildPrompt(symbol string, f features, pos *portfolio.Position, threshold int, maxUSD float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a cautious crypto trading analyst. Evaluate %s.\n\n", symbol)
	fmt.Fprintf(&b, "Market data:\n")
	fmt.Fprintf(&b, "- price: %.4f USD, 24h change: %.2f%%\n", f.Price, f.Change24Pct)
	fmt.Fprintf(&b, "- RSI(14): %s (below 40 favors buying, above 60 favors selling)\n", fm(f.RSI))
	fmt.Fprintf(&b, "- SMA20: %s, SMA50: %s, SMA200: %s\n", fm(f.SMA20), fm(f.SMA50), fm(f.SMA200))
	fmt.Fprintf(&b, "- MACD histogram: %s, 14h momentum: %s%%\n", fm(f.MACDHist), fm(f.Momentum))

	if pos != nil && pos.Quantity > 0 {
		unrealized := 0.0
		if pos.AvgPrice > 0 {
			unrealized = (f.Price - pos.AvgPrice) / pos.AvgPrice * 100
		}
		fmt.Fprintf(&b, "\nOpen position: %.8f units at avg %.4f (unrealized %.2f%%).\n",
			pos.Quantity, pos.AvgPrice, unrealized)
	} else {
		fmt.Fprintf(&b, "\nNo open position.\n")
	}

	fmt.Fprintf(&b, "\nRules: size_usd must not exceed %.2f. ", maxUSD)
	fmt.Fprintf(&b, "Only act when confidence is at least %d out of 100.\n", threshold)
	fmt.Fprintf(&b, "Reply with a single JSON object: ")
	fmt.Fprintf(&b, `{"action":"BUY|SELL|HOLD","confidence":0-100,"reasoning":"...","size_usd":0}`)
	return b.String()
}

// validate normalizes the oracle reply into a decision that honors the
// sizing invariants regardless of what the model sent back.
func validate(symbol string, r oracleReply, maxUSD float64) Decision {
	d := Decision{
		Symbol:     symbol,
		Action:     strings.ToUpper(strings.TrimSpace(r.Action)),
		Confidence: r.Confidence,
		Reasoning:  r.Reasoning,
		SizeUSD:    r.SizeUSD,
	}
	switch d.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return Decision{
			Symbol:    symbol,
			Action:    ActionHold,
			Reasoning: fmt.Sprintf("unknown action %q in oracle reply, holding", r.Action),
		}
	}
	if d.Confidence < 0 {
		d.Confidence = 0
	}
	if d.Confidence > 100 {
		d.Confidence = 100
	}
	if d.Action == ActionHold {
		d.SizeUSD = 0
		return d
	}
	if d.SizeUSD <= 0 {
		return Decision{
			Symbol:     symbol,
			Action:     ActionHold,
			Confidence: d.Confidence,
			Reasoning:  fmt.Sprintf("%s reply carried no positive size, holding", d.Action),
		}
	}
	if d.SizeUSD > maxUSD {
		d.SizeUSD = maxUSD
	}
	return d
}

// reflect asks the oracle to second-guess an actionable decision. Only an
// explicit rejection downgrades; an error or an ambiguous reply lets the
// decision stand.
func (e *Engine) reflect(ctx context.Context, d Decision) Decision {
	prompt := fmt.Sprintf(
		"A trading bot intends to %s $%.2f of %s (confidence %d/100) because: %s\n"+
			"Is this a prudent trade right now? Reply with a single JSON object: "+
			`{"approve":true|false,"reason":"..."}`,
		d.Action, d.SizeUSD, d.Symbol, d.Confidence, d.Reasoning)

	raw, err := e.oracle.Complete(ctx, prompt)
	if err != nil {
		observ.Error("reflection_failed", err, map[string]any{"symbol": d.Symbol})
		return d
	}
	type reflection struct {
		Approve *bool  `json:"approve"`
		Reason  string `json:"reason"`
	}
	parsed := oracle.ExtractObject[reflection](raw)
	if !parsed.OK || parsed.Value.Approve == nil || *parsed.Value.Approve {
		return d
	}

	observ.Log("reflection_rejected", map[string]any{
		"symbol": d.Symbol, "action": d.Action, "reason": parsed.Value.Reason,
	})
	d.Reasoning = fmt.Sprintf("%s [rejected on review: %s]", d.Reasoning, parsed.Value.Reason)
	d.Action = ActionHold
	d.SizeUSD = 0
	return d
}
