package payments_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/daydreamsai/lucid-agents-sub001/internal/payments"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRateLimiterRejectsAtMaxCount(t *testing.T) {
	clock := newClock()
	limiter := payments.NewRateLimiter(payments.WithRateLimiterClock(clock.Now))

	for i := 0; i < 3; i++ {
		limiter.RecordPayment("premium")
	}

	result := limiter.CheckLimit("premium", 3, time.Minute)
	if result.Allowed {
		t.Fatalf("expected limit to reject after max payments")
	}
	if !strings.Contains(result.Reason, "Rate limit exceeded") {
		t.Fatalf("unexpected reason: %q", result.Reason)
	}
}

func TestRateLimiterAllowsBelowMaxCount(t *testing.T) {
	clock := newClock()
	limiter := payments.NewRateLimiter(payments.WithRateLimiterClock(clock.Now))

	for i := 0; i < 2; i++ {
		limiter.RecordPayment("premium")
	}

	result := limiter.CheckLimit("premium", 3, time.Minute)
	if !result.Allowed {
		t.Fatalf("expected request to be allowed, got %q", result.Reason)
	}
	if result.Reason != "" {
		t.Fatalf("expected empty reason, got %q", result.Reason)
	}
}

func TestRateLimiterGroupsAreIndependent(t *testing.T) {
	clock := newClock()
	limiter := payments.NewRateLimiter(payments.WithRateLimiterClock(clock.Now))

	for i := 0; i < 5; i++ {
		limiter.RecordPayment("group-a")
	}
	limiter.RecordPayment("group-b")

	if got := limiter.CurrentCount("group-a", time.Minute); got != 5 {
		t.Fatalf("group-a count = %d, want 5", got)
	}
	if got := limiter.CurrentCount("group-b", time.Minute); got != 1 {
		t.Fatalf("group-b count = %d, want 1", got)
	}
	if !limiter.CheckLimit("group-b", 2, time.Minute).Allowed {
		t.Fatalf("group-b should not be affected by group-a")
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	clock := newClock()
	limiter := payments.NewRateLimiter(payments.WithRateLimiterClock(clock.Now))

	limiter.RecordPayment("g")
	clock.Advance(30 * time.Second)
	limiter.RecordPayment("g")

	if got := limiter.CurrentCount("g", time.Minute); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}

	clock.Advance(31 * time.Second)
	if got := limiter.CurrentCount("g", time.Minute); got != 1 {
		t.Fatalf("count after first expiry = %d, want 1", got)
	}

	clock.Advance(time.Minute)
	if got := limiter.CurrentCount("g", time.Minute); got != 0 {
		t.Fatalf("count after window = %d, want 0", got)
	}
}

func TestRateLimiterUnknownGroupAndClear(t *testing.T) {
	limiter := payments.NewRateLimiter()

	if got := limiter.CurrentCount("missing", time.Minute); got != 0 {
		t.Fatalf("unknown group count = %d, want 0", got)
	}

	limiter.RecordPayment("g")
	limiter.Clear()
	if got := limiter.CurrentCount("g", time.Minute); got != 0 {
		t.Fatalf("count after clear = %d, want 0", got)
	}
}

func TestRateLimiterPruningKeepsWidestWindow(t *testing.T) {
	clock := newClock()
	limiter := payments.NewRateLimiter(payments.WithRateLimiterClock(clock.Now))

	limiter.RecordPayment("g")
	_ = limiter.CurrentCount("g", time.Hour)
	_ = limiter.CurrentCount("g", time.Second)

	clock.Advance(10 * time.Minute)
	limiter.RecordPayment("g")

	if got := limiter.CurrentCount("g", time.Hour); got != 2 {
		t.Fatalf("hourly count = %d, want 2", got)
	}
}
