// Package executor places the orders the gates have cleared. It never
// returns a Go error to the caller; everything the loop needs to know about
// a failed trade travels inside the Result.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/Jokke7/tradingbot/internal/decision"
	"github.com/Jokke7/tradingbot/internal/exchange"
	"github.com/Jokke7/tradingbot/internal/observ"
	"github.com/Jokke7/tradingbot/internal/portfolio"
)

// Result describes one execution attempt. Executed is true only when the
// fill carries a usable price and quantity; otherwise state must stay
// untouched.
type Result struct {
	Decision  decision.Decision `json:"decision"`
	Executed  bool              `json:"executed"`
	OrderID   string            `json:"order_id,omitempty"`
	AvgPrice  float64           `json:"avg_price,omitempty"`
	Quantity  float64           `json:"quantity,omitempty"`
	QuoteUSD  float64           `json:"quote_usd,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type Executor struct {
	exchange exchange.Client
	store    *portfolio.Store
	now      func() time.Time
}

func New(ex exchange.Client, store *portfolio.Store) *Executor {
	return &Executor{exchange: ex, store: store, now: time.Now}
}

// Execute sends one market order for the decision. The SELL quote amount is
// clamped to what the portfolio actually holds before the order goes out.
func (x *Executor) Execute(ctx context.Context, d decision.Decision) Result {
	res := Result{Decision: d, Timestamp: x.now().UTC()}
	if d.Action == decision.ActionHold || d.SizeUSD <= 0 {
		return res
	}

	quoteUSD := d.SizeUSD
	if d.Action == decision.ActionSell {
		clamped, err := x.clampSellQuote(ctx, d.Symbol, quoteUSD)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		quoteUSD = clamped
		if quoteUSD <= 0 {
			res.Error = fmt.Sprintf("nothing held to sell for %s", d.Symbol)
			return res
		}
	}

	order, err := x.exchange.PlaceMarketOrder(ctx, d.Symbol, d.Action, quoteUSD)
	if err != nil {
		res.Error = err.Error()
		observ.Error("order_failed", err, map[string]any{
			"symbol": d.Symbol, "side": d.Action, "quote_usd": quoteUSD,
		})
		observ.IncCounter("orders_failed_total", map[string]string{"symbol": d.Symbol})
		return res
	}
	if order.ExecutedQty <= 0 || order.AvgPrice <= 0 {
		res.Error = fmt.Sprintf("order %s filled without usable price/quantity", order.OrderID)
		return res
	}

	res.Executed = true
	res.OrderID = order.OrderID
	res.AvgPrice = order.AvgPrice
	res.Quantity = order.ExecutedQty
	res.QuoteUSD = order.CumQuoteQty
	if res.QuoteUSD == 0 {
		res.QuoteUSD = order.ExecutedQty * order.AvgPrice
	}

	observ.Log("order_filled", map[string]any{
		"symbol": d.Symbol, "side": d.Action, "order_id": order.OrderID,
		"qty": res.Quantity, "avg_price": res.AvgPrice, "quote_usd": res.QuoteUSD,
	})
	observ.IncCounter("orders_filled_total", map[string]string{
		"symbol": d.Symbol, "side": d.Action,
	})
	return res
}

func (x *Executor) clampSellQuote(ctx context.Context, symbol string, quoteUSD float64) (float64, error) {
	pos, ok := x.store.Position(symbol)
	if !ok || pos.Quantity <= 0 {
		return 0, nil
	}
	tk, err := x.exchange.GetTicker(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("price for sell clamp: %w", err)
	}
	heldUSD := pos.Quantity * tk.LastPrice
	if quoteUSD > heldUSD {
		return heldUSD, nil
	}
	return quoteUSD, nil
}
