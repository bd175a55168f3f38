// Package budget tracks oracle spending for a run and stops further calls
// once the configured limit is reached.
//
// Spend is attributed to a key (the pipeline stage: "planner", "worker",
// "completeness", "improvement") so the run summary can show where the
// money went.
package budget

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrExhausted is returned once the run limit has been spent.
var ErrExhausted = errors.New("budget: exhausted")

// Tracker records spending and enforces a run limit. Thread-safe.
type Tracker struct {
	mu sync.RWMutex

	limit float64 // 0 means unlimited.
	spent float64
	calls int
	byKey map[string]float64
}

// New creates a tracker. Pass 0 for no limit.
func New(limit float64) *Tracker {
	return &Tracker{
		limit: limit,
		byKey: make(map[string]float64),
	}
}

// Record records the cost of one call against key.
func (t *Tracker) Record(key string, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.spent += costUSD
	t.calls++
	t.byKey[key] += costUSD
}

// Check returns ErrExhausted when no budget remains.
func (t *Tracker) Check() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.limit > 0 && t.spent >= t.limit {
		return fmt.Errorf("spent $%.4f of $%.2f: %w", t.spent, t.limit, ErrExhausted)
	}
	return nil
}

// Remaining returns the unspent budget, or -1 when unlimited.
func (t *Tracker) Remaining() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.limit <= 0 {
		return -1
	}
	if remaining := t.limit - t.spent; remaining > 0 {
		return remaining
	}
	return 0
}

// Spent returns total spending.
func (t *Tracker) Spent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.spent
}

// SpentFor returns spending recorded against key.
func (t *Tracker) SpentFor(key string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byKey[key]
}

// Calls returns the number of recorded calls.
func (t *Tracker) Calls() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.calls
}

// Status returns a human-readable summary.
func (t *Tracker) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	limit := "unlimited"
	if t.limit > 0 {
		limit = fmt.Sprintf("$%.2f (%.0f%%)", t.limit, t.spent/t.limit*100)
	}

	keys := make([]string, 0, len(t.byKey))
	for k := range t.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=$%.4f", k, t.byKey[k])
	}

	s := fmt.Sprintf("spent=$%.4f limit=%s calls=%d", t.spent, limit, t.calls)
	if len(parts) > 0 {
		s += " " + strings.Join(parts, " ")
	}
	return s
}
