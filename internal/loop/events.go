package loop

import (
	"context"

	"github.com/Jokke7/tradingbot/internal/decision"
	"github.com/Jokke7/tradingbot/internal/executor"
	"github.com/Jokke7/tradingbot/internal/journal"
	"github.com/Jokke7/tradingbot/internal/observ"
	"github.com/Jokke7/tradingbot/internal/recorder"
	"github.com/Jokke7/tradingbot/internal/risk"
)

// Sink receives pipeline outcomes as they happen. Implementations must not
// block the trading loop; failures are theirs to log.
type Sink interface {
	OnDecision(d decision.Decision)
	OnTrade(res executor.Result)
	OnRejection(symbol string, v risk.Verdict)
	OnRecommendation(row recorder.RecommendationRow)
	OnError(symbol string, err error)
}

// Sinks fans out to every registered sink in order.
type Sinks []Sink

func (s Sinks) OnDecision(d decision.Decision) {
	for _, sk := range s {
		sk.OnDecision(d)
	}
}

func (s Sinks) OnTrade(res executor.Result) {
	for _, sk := range s {
		sk.OnTrade(res)
	}
}

func (s Sinks) OnRejection(symbol string, v risk.Verdict) {
	for _, sk := range s {
		sk.OnRejection(symbol, v)
	}
}

func (s Sinks) OnRecommendation(row recorder.RecommendationRow) {
	for _, sk := range s {
		sk.OnRecommendation(row)
	}
}

func (s Sinks) OnError(symbol string, err error) {
	for _, sk := range s {
		sk.OnError(symbol, err)
	}
}

// LogSink writes every event as a structured log line and bumps counters.
type LogSink struct{}

func (LogSink) OnDecision(d decision.Decision) {
	observ.Log("decision", map[string]any{
		"symbol": d.Symbol, "action": d.Action,
		"confidence": d.Confidence, "size_usd": d.SizeUSD,
	})
	observ.IncCounter("decisions_total", map[string]string{"action": d.Action})
}

func (LogSink) OnTrade(res executor.Result) {
	observ.Log("trade", map[string]any{
		"symbol": res.Decision.Symbol, "side": res.Decision.Action,
		"executed": res.Executed, "order_id": res.OrderID,
		"quote_usd": res.QuoteUSD, "error": res.Error,
	})
}

func (LogSink) OnRejection(symbol string, v risk.Verdict) {
	observ.Log("gate_rejection", map[string]any{
		"symbol": symbol, "gate": v.Gate, "reason": v.Reason,
	})
	observ.IncCounter("gate_rejections_total", map[string]string{"gate": v.Gate})
}

func (LogSink) OnRecommendation(row recorder.RecommendationRow) {
	observ.Log("recommendation", map[string]any{
		"symbol": row.Symbol, "action": row.Action,
		"amount_usd": row.AmountUSD, "status": row.Status, "reason": row.Reason,
	})
}

func (LogSink) OnError(symbol string, err error) {
	observ.Error("cycle_error", err, map[string]any{"symbol": symbol})
	observ.IncCounter("cycle_errors_total", map[string]string{"symbol": symbol})
}

// JournalSink appends trades and recommendations to the JSONL journals.
type JournalSink struct {
	Trades          *journal.Writer
	Recommendations *journal.Writer
}

func (j JournalSink) OnDecision(d decision.Decision) {
	if j.Trades == nil {
		return
	}
	entry := struct {
		Kind     string            `json:"kind"`
		Decision decision.Decision `json:"decision"`
	}{Kind: "decision", Decision: d}
	if err := j.Trades.Append(entry); err != nil {
		observ.Error("journal_append_failed", err, map[string]any{"kind": "decision"})
	}
}

func (j JournalSink) OnTrade(res executor.Result) {
	if j.Trades == nil {
		return
	}
	if err := j.Trades.Append(res); err != nil {
		observ.Error("journal_append_failed", err, map[string]any{"kind": "trade"})
	}
}

func (j JournalSink) OnRejection(symbol string, v risk.Verdict) {
	if j.Trades == nil {
		return
	}
	entry := struct {
		Symbol string       `json:"symbol"`
		Gate   risk.Verdict `json:"gate"`
	}{Symbol: symbol, Gate: v}
	if err := j.Trades.Append(entry); err != nil {
		observ.Error("journal_append_failed", err, map[string]any{"kind": "rejection"})
	}
}

func (j JournalSink) OnRecommendation(row recorder.RecommendationRow) {
	if j.Recommendations == nil {
		return
	}
	if err := j.Recommendations.Append(row); err != nil {
		observ.Error("journal_append_failed", err, map[string]any{"kind": "recommendation"})
	}
}

func (j JournalSink) OnError(symbol string, err error) {
	if j.Trades == nil {
		return
	}
	entry := struct {
		Symbol string `json:"symbol"`
		Error  string `json:"error"`
	}{Symbol: symbol, Error: err.Error()}
	if aerr := j.Trades.Append(entry); aerr != nil {
		observ.Error("journal_append_failed", aerr, map[string]any{"kind": "error"})
	}
}

// RecorderSink mirrors executions and recommendations into the history
// database.
type RecorderSink struct {
	Recorder recorder.Recorder
}

func (r RecorderSink) OnDecision(d decision.Decision) {}

func (r RecorderSink) OnTrade(res executor.Result) {
	if r.Recorder == nil {
		return
	}
	row := recorder.TradeRow{
		TS:         res.Timestamp,
		Symbol:     res.Decision.Symbol,
		Side:       res.Decision.Action,
		Confidence: res.Decision.Confidence,
		Reasoning:  res.Decision.Reasoning,
		OrderID:    res.OrderID,
		Quantity:   res.Quantity,
		AvgPrice:   res.AvgPrice,
		QuoteUSD:   res.QuoteUSD,
		Executed:   res.Executed,
		Error:      res.Error,
	}
	if err := r.Recorder.RecordTrade(context.Background(), row); err != nil {
		observ.Error("recorder_failed", err, map[string]any{"kind": "trade"})
	}
}

func (r RecorderSink) OnRejection(symbol string, v risk.Verdict) {}

func (r RecorderSink) OnRecommendation(row recorder.RecommendationRow) {
	if r.Recorder == nil {
		return
	}
	if err := r.Recorder.RecordRecommendation(context.Background(), row); err != nil {
		observ.Error("recorder_failed", err, map[string]any{"kind": "recommendation"})
	}
}

func (r RecorderSink) OnError(symbol string, err error) {}
