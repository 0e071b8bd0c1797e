// Package loop drives the bot: a fast per-position evaluation cycle and a
// slow portfolio rebalance, both serialized through one run mutex so state
// writes never interleave.
package loop

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Jokke7/tradingbot/internal/decision"
	"github.com/Jokke7/tradingbot/internal/executor"
	"github.com/Jokke7/tradingbot/internal/observ"
	"github.com/Jokke7/tradingbot/internal/oracle"
	"github.com/Jokke7/tradingbot/internal/portfolio"
	"github.com/Jokke7/tradingbot/internal/risk"
)

// Options carries the loop's tunables. The pointer fields that the control
// API may change at runtime live in Runtime.
type Options struct {
	EvaluateInterval  time.Duration
	RebalanceInterval time.Duration
	Watchlist         []string
}

// Runtime holds the settings the control API can adjust while the bot runs.
type Runtime struct {
	mu                  sync.Mutex
	ConfidenceThreshold int
	MaxTradeUSD         float64
	DailyLossLimitUSD   float64
	MaxPositions        int
}

// Get returns a consistent copy of the runtime settings.
func (r *Runtime) Get() (threshold int, maxTrade, lossLimit float64, maxPositions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ConfidenceThreshold, r.MaxTradeUSD, r.DailyLossLimitUSD, r.MaxPositions
}

// Set overwrites any non-nil field.
func (r *Runtime) Set(threshold *int, maxTrade, lossLimit *float64, maxPositions *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if threshold != nil {
		r.ConfidenceThreshold = *threshold
	}
	if maxTrade != nil {
		r.MaxTradeUSD = *maxTrade
	}
	if lossLimit != nil {
		r.DailyLossLimitUSD = *lossLimit
	}
	if maxPositions != nil {
		r.MaxPositions = *maxPositions
	}
}

// Scheduler owns the cron entries and the single-writer run mutex.
type Scheduler struct {
	opts    Options
	runtime *Runtime

	engine   *decision.Engine
	executor *executor.Executor
	store    *portfolio.Store
	gates    *risk.Manager
	oracle   oracle.Oracle
	sink     Sink

	cron  *cron.Cron
	runMu sync.Mutex

	mu            sync.Mutex
	lastDecisions map[string]decision.Decision
	lastFastRun   time.Time
	lastSlowRun   time.Time
}

func NewScheduler(opts Options, rt *Runtime, eng *decision.Engine, exec *executor.Executor,
	store *portfolio.Store, gates *risk.Manager, o oracle.Oracle, sink Sink) *Scheduler {
	if sink == nil {
		sink = Sinks{}
	}
	return &Scheduler{
		opts:          opts,
		runtime:       rt,
		engine:        eng,
		executor:      exec,
		store:         store,
		gates:         gates,
		oracle:        o,
		sink:          sink,
		cron:          cron.New(),
		lastDecisions: map[string]decision.Decision{},
	}
}

// Start registers both cadences and begins ticking. Cycles run in cron's
// goroutine; Stop waits for an in-flight cycle to finish.
func (s *Scheduler) Start() error {
	fast := fmt.Sprintf("@every %s", s.opts.EvaluateInterval)
	if _, err := s.cron.AddFunc(fast, func() { s.RunFastCycle(context.Background()) }); err != nil {
		return fmt.Errorf("schedule fast cycle: %w", err)
	}
	slow := fmt.Sprintf("@every %s", s.opts.RebalanceInterval)
	if _, err := s.cron.AddFunc(slow, func() { s.RunRebalance(context.Background()) }); err != nil {
		return fmt.Errorf("schedule rebalance: %w", err)
	}
	s.cron.Start()
	observ.Log("scheduler_started", map[string]any{
		"evaluate_every": s.opts.EvaluateInterval.String(),
		"rebalance_every": s.opts.RebalanceInterval.String(),
	})
	return nil
}

// Stop halts the cron entries and blocks until running jobs drain.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	observ.Log("scheduler_stopped", nil)
}

// RunFastCycle evaluates every held position, strictly one symbol at a
// time. Nothing that happens inside may escape to crash the loop.
func (s *Scheduler) RunFastCycle(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	st := s.store.Snapshot()
	symbols := make([]string, 0, len(st.Positions))
	for sym := range st.Positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		s.evaluateSymbol(ctx, sym)
	}

	s.mu.Lock()
	s.lastFastRun = time.Now().UTC()
	s.mu.Unlock()
	observ.IncCounter("fast_cycles_total", nil)
}

func (s *Scheduler) evaluateSymbol(ctx context.Context, symbol string) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in cycle: %v", r)
			s.sink.OnError(symbol, err)
			s.gates.Breaker().RecordFailure(symbol)
			s.store.RecordSymbolError(symbol)
		}
	}()

	st := s.store.Snapshot()
	if v := s.gates.CheckSymbol(ctx, symbol, st); !v.Allowed {
		s.sink.OnRejection(symbol, v)
		s.store.RecordSkippedRun()
		return
	}

	var pos *portfolio.Position
	if p, ok := st.Positions[symbol]; ok {
		pos = &p
	}
	d, err := s.engine.Evaluate(ctx, symbol, pos)
	if err != nil {
		s.sink.OnError(symbol, err)
		s.gates.Breaker().RecordFailure(symbol)
		s.store.RecordSymbolError(symbol)
		return
	}
	s.gates.Breaker().RecordSuccess(symbol)
	s.store.ClearSymbolError(symbol)

	s.mu.Lock()
	s.lastDecisions[symbol] = d
	s.mu.Unlock()
	s.sink.OnDecision(d)

	s.maybeTrade(ctx, d)
}

// maybeTrade runs the order gates, executes, and applies the fill. Shared
// by both cycles; callers hold the run mutex.
func (s *Scheduler) maybeTrade(ctx context.Context, d decision.Decision) {
	if d.Action == decision.ActionHold {
		return
	}
	threshold, _, _, _ := s.runtime.Get()
	if d.Confidence < threshold {
		s.sink.OnRejection(d.Symbol, risk.Verdict{
			Gate:   "confidence",
			Reason: fmt.Sprintf("confidence %d below threshold %d", d.Confidence, threshold),
		})
		return
	}

	st := s.store.Snapshot()
	v, size := s.gates.CheckOrder(ctx, risk.Proposal{
		Symbol: d.Symbol, Side: d.Action, SizeUSD: d.SizeUSD,
	}, st)
	if !v.Allowed {
		s.sink.OnRejection(d.Symbol, v)
		return
	}
	d.SizeUSD = size

	res := s.executor.Execute(ctx, d)
	s.sink.OnTrade(res)
	if !res.Executed {
		if res.Error != "" {
			s.gates.Breaker().RecordFailure(d.Symbol)
		}
		return
	}

	if _, err := s.store.ApplyFill(portfolio.Fill{
		Symbol:   d.Symbol,
		Side:     d.Action,
		Quantity: res.Quantity,
		AvgPrice: res.AvgPrice,
		QuoteUSD: res.QuoteUSD,
		At:       res.Timestamp,
	}); err != nil {
		s.sink.OnError(d.Symbol, err)
	}
}

// Watchlist returns the configured symbol universe.
func (s *Scheduler) Watchlist() []string {
	return s.opts.Watchlist
}

// LastDecision returns the most recent decision for a symbol, if any.
func (s *Scheduler) LastDecision(symbol string) (decision.Decision, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.lastDecisions[symbol]
	return d, ok
}

// LastRuns reports the completion times of the most recent cycles.
func (s *Scheduler) LastRuns() (fast, slow time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFastRun, s.lastSlowRun
}
