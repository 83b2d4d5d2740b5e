package capture

import (
	"sync"
	"time"
)

// DefaultCooldown is how long real hardware is left alone after a failed read.
const DefaultCooldown = 5 * time.Second

// RecoveryPolicy tracks acquisition failures and enforces a cooldown before
// the hardware is touched again. It is safe for concurrent use.
type RecoveryPolicy struct {
	cooldown time.Duration

	mu        sync.Mutex
	lastError time.Time
	failures  int
	total     uint64
}

// NewRecoveryPolicy creates a policy with the given cooldown. Non-positive
// values select DefaultCooldown.
func NewRecoveryPolicy(cooldown time.Duration) *RecoveryPolicy {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &RecoveryPolicy{cooldown: cooldown}
}

// RecordFailure stamps a failed acquisition at now.
func (p *RecoveryPolicy) RecordFailure(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastError = now
	p.failures++
	p.total++
}

// RecordSuccess clears the consecutive failure count. The last error time is
// kept so an in-progress cooldown is not cut short.
func (p *RecoveryPolicy) RecordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures = 0
}

// InCooldown reports whether now is still inside the cooldown window.
func (p *RecoveryPolicy) InCooldown(now time.Time) bool {
	return p.Remaining(now) > 0
}

// Remaining returns how much of the cooldown is left at now, or zero.
func (p *RecoveryPolicy) Remaining(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastError.IsZero() {
		return 0
	}
	left := p.cooldown - now.Sub(p.lastError)
	if left < 0 {
		return 0
	}
	return left
}

// Failures returns the number of consecutive failures.
func (p *RecoveryPolicy) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// TotalFailures returns the number of failures since creation.
func (p *RecoveryPolicy) TotalFailures() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Cooldown returns the configured cooldown duration.
func (p *RecoveryPolicy) Cooldown() time.Duration {
	return p.cooldown
}

// Reset forgets all failure history.
func (p *RecoveryPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastError = time.Time{}
	p.failures = 0
}
