package llm

import (
	"context"
	"math"
	"sync"
	"time"
)

// rpsLimiter is a token bucket refilled lazily on Acquire. Besides the
// configured rate it honors provider cooldowns: after Pause(d) no token is
// handed out until d has passed.
type rpsLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	burst    float64
	tokens   float64
	last     time.Time
	resumeAt time.Time
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// newRPSLimiter returns nil when rps <= 0 (limiting disabled).
func newRPSLimiter(rps float64, burst int) *rpsLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	interval := time.Duration(float64(time.Second) / rps)
	if interval <= 0 {
		interval = time.Millisecond
	}
	l := &rpsLimiter{
		interval: interval,
		burst:    float64(burst),
		tokens:   float64(burst),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	l.last = l.now()
	return l
}

// Acquire blocks until a token is available, the limiter is stopped, or ctx
// ends.
func (l *rpsLimiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		wait := l.reserve()
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-l.stopCh:
			timer.Stop()
			return context.Canceled
		case <-timer.C:
		}
	}
}

// reserve takes a token and returns 0, or returns how long to wait before
// trying again.
func (l *rpsLimiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Before(l.resumeAt) {
		return l.resumeAt.Sub(now)
	}
	if elapsed := now.Sub(l.last); elapsed > 0 {
		l.tokens = math.Min(l.burst, l.tokens+float64(elapsed)/float64(l.interval))
		l.last = now
	}
	if l.tokens >= 1 {
		l.tokens--
		return 0
	}
	return time.Duration((1 - l.tokens) * float64(l.interval))
}

// Pause holds every Acquire until d from now. Overlapping pauses keep the
// later deadline.
func (l *rpsLimiter) Pause(d time.Duration) {
	if l == nil || d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := l.now().Add(d); until.After(l.resumeAt) {
		l.resumeAt = until
	}
}

// Stop wakes every waiter with context.Canceled. Safe to call more than once.
func (l *rpsLimiter) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.stopCh) })
}
