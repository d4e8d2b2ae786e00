package ratelimit

import (
	"sync"
	"time"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
}

// Limiter is a sliding-window rate limiter. Allow records the call against
// the window only when it is admitted: denied calls do not consume a slot.
type Limiter interface {
	Allow(key string, limit int) Decision
}

// SlidingWindow is the in-memory limiter. Each key holds the timestamps of
// admitted calls inside the window; entries older than the window are pruned
// before counting. Prune-then-append happens under one lock so concurrent
// callers cannot under- or over-count.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	calls  map[string][]time.Time
	now    func() time.Time
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		window: window,
		calls:  map[string][]time.Time{},
		now:    time.Now,
	}
}

func (l *SlidingWindow) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := l.now().UTC()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.calls[key][:0]
	for _, ts := range l.calls[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= limit {
		l.calls[key] = kept
		return Decision{Allowed: false, Count: len(kept), Limit: limit}
	}
	kept = append(kept, now)
	l.calls[key] = kept
	return Decision{
		Allowed:   true,
		Count:     len(kept),
		Limit:     limit,
		Remaining: limit - len(kept),
	}
}
