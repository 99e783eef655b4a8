package event

import (
	"sync"
	"time"
)

// Rate limiting for test-case events: at most UpdateRateLimit events
// per submission per UpdateRateWindow; events beyond the limit inside
// a window are dropped, not queued.
const (
	UpdateRateLimit  = 5
	UpdateRateWindow = 500 * time.Millisecond
)

type counter struct {
	count int
	reset time.Time
}

// RateLimiter implements a sliding counter per submission id. The
// window is keyed by the first event after the previous window
// expired; the clock is injectable for tests.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	counters map[int64]counter
}

// NewRateLimiter creates a limiter with the given budget per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: make(map[int64]counter),
	}
}

// WithClock substitutes the time source; used by tests.
func (l *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	l.now = now
	return l
}

// Allow reports whether an event for the submission may be delivered
// now. A dropped event leaves the last delivered snapshot stale until
// the window resets or a non-rate-limited event arrives.
func (l *RateLimiter) Allow(submissionID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	allow := true
	if c, ok := l.counters[submissionID]; ok {
		c.count++
		if now.Sub(c.reset) > l.window {
			delete(l.counters, submissionID)
		} else {
			l.counters[submissionID] = c
			if c.count > l.limit {
				allow = false
			}
		}
	}
	if _, ok := l.counters[submissionID]; !ok {
		l.counters[submissionID] = counter{count: 1, reset: now}
	}
	return allow
}

// Forget drops the counter for a submission whose grading ended.
func (l *RateLimiter) Forget(submissionID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counters, submissionID)
}
