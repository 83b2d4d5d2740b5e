package app

import "sync"

// ErrorBudget is a decaying error counter. Each failure adds one and each
// clean tick subtracts Decay. The value stays within [0, limit].
type ErrorBudget struct {
	decay float64
	limit float64

	mu    sync.Mutex
	value float64
}

// NewErrorBudget creates a budget that is exhausted at limit.
func NewErrorBudget(limit, decay float64) *ErrorBudget {
	return &ErrorBudget{limit: limit, decay: decay}
}

// Fail records an error.
func (b *ErrorBudget) Fail() {
	b.mu.Lock()
	b.value = min(b.limit, b.value+1)
	b.mu.Unlock()
}

// Ok records a clean tick.
func (b *ErrorBudget) Ok() {
	b.mu.Lock()
	b.value = max(0, b.value-b.decay)
	b.mu.Unlock()
}

// Reset clears the count. Each cycle starts from zero.
func (b *ErrorBudget) Reset() {
	b.mu.Lock()
	b.value = 0
	b.mu.Unlock()
}

// Exhausted reports whether errors have reached the limit.
func (b *ErrorBudget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value >= b.limit
}

// Value returns the current count.
func (b *ErrorBudget) Value() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}
