package payments

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitResult reports whether another payment is allowed for a policy group.
type RateLimitResult struct {
	Allowed bool
	Reason  string
}

// RateLimiterOption customises a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimiterClock overrides the clock used to timestamp payments.
func WithRateLimiterClock(now func() time.Time) RateLimiterOption {
	return func(l *RateLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// RateLimiter is an in-memory sliding-window counter keyed by policy group.
// CheckLimit and RecordPayment are separate calls; callers decide the order.
type RateLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	// widest window queried per group; bounds opportunistic pruning.
	windows map[string]time.Duration
	now     func() time.Time
}

// NewRateLimiter constructs an empty RateLimiter.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	l := &RateLimiter{
		events:  make(map[string][]time.Time),
		windows: make(map[string]time.Duration),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// CheckLimit counts payments recorded for group within the trailing window
// and allows the request while the count is below maxCount.
func (l *RateLimiter) CheckLimit(group string, maxCount int, window time.Duration) RateLimitResult {
	count := l.CurrentCount(group, window)
	if count < maxCount {
		return RateLimitResult{Allowed: true}
	}
	return RateLimitResult{
		Allowed: false,
		Reason:  fmt.Sprintf("Rate limit exceeded: %d payments in %s (max %d)", count, window, maxCount),
	}
}

// RecordPayment appends the current time to the group's event list. Events
// older than the widest window ever queried for the group are dropped.
func (l *RateLimiter) RecordPayment(group string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	events := l.events[group]
	if window, ok := l.windows[group]; ok && len(events) > 0 {
		cutoff := now.Add(-window)
		idx := 0
		for idx < len(events) && !events[idx].After(cutoff) {
			idx++
		}
		events = events[idx:]
	}
	l.events[group] = append(events, now)
}

// CurrentCount returns the number of payments recorded for group within the
// trailing window. Unknown groups report zero.
func (l *RateLimiter) CurrentCount(group string, window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if window > l.windows[group] {
		l.windows[group] = window
	}

	cutoff := l.now().Add(-window)
	count := 0
	for _, ts := range l.events[group] {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

// Clear resets every policy group.
func (l *RateLimiter) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = make(map[string][]time.Time)
	l.windows = make(map[string]time.Duration)
}
