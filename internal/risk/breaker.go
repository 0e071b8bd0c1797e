package risk

import (
	"sync"
	"time"

	"github.com/Jokke7/tradingbot/internal/observ"
)

// CircuitBreaker tracks consecutive upstream failures per symbol and skips a
// symbol for a cooldown once it trips. Any success resets the count.
type CircuitBreaker struct {
	mu        sync.Mutex
	maxErrors int
	cooldown  time.Duration
	now       func() time.Time
	state     map[string]*breakerState
}

type breakerState struct {
	errors    int
	skipUntil time.Time
}

func NewCircuitBreaker(maxErrors int, cooldown time.Duration) *CircuitBreaker {
	if maxErrors <= 0 {
		maxErrors = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	return &CircuitBreaker{
		maxErrors: maxErrors,
		cooldown:  cooldown,
		now:       time.Now,
		state:     map[string]*breakerState{},
	}
}

// Allow reports whether the symbol may be evaluated this cycle. An expired
// cooldown clears the skip deadline but holds the error count; only a
// recorded success forgives past failures.
func (b *CircuitBreaker) Allow(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[symbol]
	if !ok {
		return true
	}
	if st.skipUntil.IsZero() {
		return true
	}
	if b.now().After(st.skipUntil) {
		st.skipUntil = time.Time{}
		return true
	}
	return false
}

// RecordFailure counts one failed cycle for the symbol and trips the breaker
// at the threshold. Because the count survives cooldowns, a single failure
// right after one expires re-trips immediately.
func (b *CircuitBreaker) RecordFailure(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[symbol]
	if !ok {
		st = &breakerState{}
		b.state[symbol] = st
	}
	st.errors++
	if st.errors >= b.maxErrors {
		st.skipUntil = b.now().Add(b.cooldown)
		observ.Log("breaker_open", map[string]any{
			"symbol": symbol, "errors": st.errors,
			"skip_until": st.skipUntil.UTC().Format(time.RFC3339),
		})
		observ.IncCounter("breaker_trips_total", map[string]string{"symbol": symbol})
	}
}

// RecordSuccess clears the failure count for the symbol.
func (b *CircuitBreaker) RecordSuccess(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.state[symbol]; ok {
		st.errors = 0
		st.skipUntil = time.Time{}
	}
}

// SkippedUntil exposes the cooldown deadline for status reporting.
func (b *CircuitBreaker) SkippedUntil(symbol string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[symbol]
	if !ok || st.skipUntil.IsZero() {
		return time.Time{}, false
	}
	return st.skipUntil, true
}
