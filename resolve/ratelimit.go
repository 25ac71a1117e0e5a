package resolve

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBackoffBase = 5 * time.Second
	defaultMaxRetries  = 3
)

// Limiter spaces outbound requests per upstream key and computes exponential
// backoff after rate-limit responses. One Limiter is constructed per upstream
// class (conservative for platform-internal APIs, relaxed for proxy
// instances) instead of hardcoding two constants. Safe for concurrent use.
type Limiter struct {
	interval   time.Duration
	base       time.Duration
	maxRetries int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLimiter(minInterval time.Duration) *Limiter {
	return &Limiter{
		interval:   minInterval,
		base:       defaultBackoffBase,
		maxRetries: defaultMaxRetries,
		buckets:    make(map[string]*rate.Limiter),
	}
}

// Throttle suspends the caller until at least the configured minimum interval
// has elapsed since the previous call with the same key.
func (l *Limiter) Throttle(ctx context.Context, key string) error {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(rate.Every(l.interval), 1)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	return bucket.Wait(ctx)
}

// BackoffDelay is base * 2^attempt. Monotonically non-decreasing in attempt.
func (l *Limiter) BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return l.base * (1 << uint(attempt))
}

// Backoff suspends for BackoffDelay(attempt). Once attempt reaches the retry
// cap the wait is skipped and ErrRateLimited is returned; the caller decides
// whether to give up or move to the next strategy.
func (l *Limiter) Backoff(ctx context.Context, attempt int) error {
	if attempt >= l.maxRetries {
		return ErrRateLimited
	}

	timer := time.NewTimer(l.BackoffDelay(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) MaxRetries() int { return l.maxRetries }
