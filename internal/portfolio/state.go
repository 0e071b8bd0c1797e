// Package portfolio owns the bot's durable trading state: cash, open
// positions, realized P&L, and the per-day loss counters the risk gates
// consult. A single Store instance is the only writer.
package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Jokke7/tradingbot/internal/observ"
)


// Position is an open holding in one symbol.
type Position struct {
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	AvgPrice   float64   `json:"avg_price"`
	CostUSD    float64   `json:"cost_usd"`
	OpenedAt   time.Time `json:"opened_at"`
	LastFillAt time.Time `json:"last_fill_at"`
}

// State is the persisted snapshot. All mutation goes through Store methods;
// callers get copies.
type State struct {
	Version        int                 `json:"version"`
	CashUSD        float64             `json:"cash_usd"`
	Positions      map[string]Position `json:"positions"`
	RealizedPnLUSD float64             `json:"realized_pnl_usd"`

	// Daily counters, reset when the UTC date rolls over.
	DailyDate        string  `json:"daily_date"`
	DailyPnLUSD      float64 `json:"daily_pnl_usd"`
	DailyTradeCount  int     `json:"daily_trade_count"`
	DailyLossCount   int     `json:"daily_loss_count"`
	DailySkippedRuns int     `json:"daily_skipped_runs"`

	// Per-symbol evaluation failures, mirrored from the scheduler so the
	// persisted document shows which symbols have been failing.
	ErrorCounts map[string]int `json:"error_counts"`

	EmergencyStop bool      `json:"emergency_stop"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Fill is the outcome of an executed market order applied to the state.
type Fill struct {
	Symbol   string
	Side     string // BUY | SELL
	Quantity float64
	AvgPrice float64
	QuoteUSD float64
	At       time.Time
}

// Store serializes all reads and writes of the state and persists it to a
// JSON file with an atomic rename.
type Store struct {
	mu   sync.Mutex
	path string
	st   State
	now  func() time.Time
}

// Open loads the state file, or starts fresh with the given bankroll when the
// file does not exist or cannot be parsed. A corrupt file is logged loudly
// and preserved under a .corrupt suffix rather than silently overwritten.
func Open(path string, bankrollUSD float64) (*Store, error) {
	s := &Store{path: path, now: time.Now}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var st State
		if uerr := json.Unmarshal(data, &st); uerr != nil {
			backup := path + ".corrupt"
			_ = os.Rename(path, backup)
			observ.Error("state_load_failed", uerr, map[string]any{
				"path": path, "backup": backup,
			})
			s.st = freshState(bankrollUSD, s.now())
		} else {
			if st.Positions == nil {
				st.Positions = map[string]Position{}
			}
			if st.ErrorCounts == nil {
				st.ErrorCounts = map[string]int{}
			}
			s.st = st
		}
	case os.IsNotExist(err):
		s.st = freshState(bankrollUSD, s.now())
	default:
		return nil, fmt.Errorf("read state: %w", err)
	}

	s.rolloverLocked()
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func freshState(bankrollUSD float64, now time.Time) State {
	return State{
		CashUSD:     bankrollUSD,
		Positions:   map[string]Position{},
		ErrorCounts: map[string]int{},
		DailyDate:   now.UTC().Format("2006-01-02"),
		UpdatedAt:   now.UTC(),
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()
	return s.copyLocked()
}

func (s *Store) copyLocked() State {
	st := s.st
	st.Positions = make(map[string]Position, len(s.st.Positions))
	for k, v := range s.st.Positions {
		st.Positions[k] = v
	}
	st.ErrorCounts = make(map[string]int, len(s.st.ErrorCounts))
	for k, v := range s.st.ErrorCounts {
		st.ErrorCounts[k] = v
	}
	return st
}

// Position returns the holding for symbol, if any.
func (s *Store) Position(symbol string) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.Positions[symbol]
	return p, ok
}

// ApplyFill mutates cash, positions, and P&L for one executed order and
// persists. BUY averages cost into the position; SELL realizes P&L against
// the average price before reducing the holding. SELL quantity is clamped to
// what is actually held.
func (s *Store) ApplyFill(f Fill) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()

	if f.At.IsZero() {
		f.At = s.now().UTC()
	}

	switch f.Side {
	case "BUY":
		p := s.st.Positions[f.Symbol]
		if p.Symbol == "" {
			p.Symbol = f.Symbol
			p.OpenedAt = f.At
		}
		p.CostUSD += f.QuoteUSD
		p.Quantity += f.Quantity
		if p.Quantity > 0 {
			p.AvgPrice = p.CostUSD / p.Quantity
		}
		p.LastFillAt = f.At
		s.st.Positions[f.Symbol] = p
		s.st.CashUSD -= f.QuoteUSD

	case "SELL":
		p, ok := s.st.Positions[f.Symbol]
		if !ok {
			return s.copyLocked(), fmt.Errorf("sell %s: no position", f.Symbol)
		}
		qty := f.Quantity
		if qty > p.Quantity {
			qty = p.Quantity
		}
		proceeds := qty * f.AvgPrice
		realized := proceeds - qty*p.AvgPrice
		s.st.RealizedPnLUSD += realized
		s.st.DailyPnLUSD += realized
		if realized < 0 {
			s.st.DailyLossCount++
		}
		s.st.CashUSD += proceeds

		p.Quantity -= qty
		p.CostUSD = p.Quantity * p.AvgPrice
		p.LastFillAt = f.At
		if p.Quantity <= 1e-12 {
			delete(s.st.Positions, f.Symbol)
		} else {
			s.st.Positions[f.Symbol] = p
		}

	default:
		return s.copyLocked(), fmt.Errorf("apply fill: unknown side %q", f.Side)
	}

	s.st.DailyTradeCount++
	s.st.UpdatedAt = f.At
	if err := s.saveLocked(); err != nil {
		return s.copyLocked(), err
	}
	return s.copyLocked(), nil
}

// SetEmergencyStop flips the halt flag and persists immediately.
func (s *Store) SetEmergencyStop(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.EmergencyStop = on
	s.st.UpdatedAt = s.now().UTC()
	return s.saveLocked()
}

// RecordSymbolError bumps the persisted failure count for symbol.
func (s *Store) RecordSymbolError(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.ErrorCounts[symbol]++
	s.st.UpdatedAt = s.now().UTC()
	if err := s.saveLocked(); err != nil {
		observ.Error("state_save_failed", err, map[string]any{"path": s.path})
	}
}

// ClearSymbolError wipes the failure count for symbol after a clean
// evaluation. A no-op when the symbol has never failed.
func (s *Store) ClearSymbolError(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.ErrorCounts[symbol]; !ok {
		return
	}
	delete(s.st.ErrorCounts, symbol)
	s.st.UpdatedAt = s.now().UTC()
	if err := s.saveLocked(); err != nil {
		observ.Error("state_save_failed", err, map[string]any{"path": s.path})
	}
}

// RecordSkippedRun bumps the daily skipped-cycle counter.
func (s *Store) RecordSkippedRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()
	s.st.DailySkippedRuns++
	if err := s.saveLocked(); err != nil {
		observ.Error("state_save_failed", err, map[string]any{"path": s.path})
	}
}

// rolloverLocked resets the daily counters exactly once per UTC date change.
func (s *Store) rolloverLocked() {
	today := s.now().UTC().Format("2006-01-02")
	if s.st.DailyDate == today {
		return
	}
	observ.Log("daily_reset", map[string]any{
		"prev_date": s.st.DailyDate, "date": today,
		"prev_daily_pnl_usd": s.st.DailyPnLUSD,
	})
	s.st.DailyDate = today
	s.st.DailyPnLUSD = 0
	s.st.DailyTradeCount = 0
	s.st.DailyLossCount = 0
	s.st.DailySkippedRuns = 0
}

// saveLocked writes to a temp file and renames over the target so a crash
// mid-write never leaves a torn state file. Every save bumps the version.
func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	s.st.Version++
	data, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}
