package helpers

import (
	"context"
	"math/rand/v2"
	"time"
)

// Default reconnect policy for feeds and workers.
const (
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffMax  = 30 * time.Second
)

// -----------------------------------------------------------------------------

// Backoff produces exponentially growing delays with jitter. It is not safe
// for concurrent use; each worker owns its own.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
	// jitter returns a value in [0,1); replaced in tests.
	jitter func() float64
}

// -----------------------------------------------------------------------------

func NewBackoff(base, maxDelay time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &Backoff{Base: base, Max: maxDelay, jitter: rand.Float64}
}

// -----------------------------------------------------------------------------

// Next returns the delay for the current attempt and advances.
// The result is in [d, min(1.5d, Max)] where d = min(Base*2^attempt, Max).
func (b *Backoff) Next() time.Duration {
	d := b.Base
	for i := 0; i < b.attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	b.attempt++

	d += time.Duration(b.jitter() * float64(d/2))
	if d > b.Max {
		d = b.Max
	}
	return d
}

// -----------------------------------------------------------------------------

// Reset starts the sequence over.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// -----------------------------------------------------------------------------

// Attempt returns how many delays have been handed out since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// -----------------------------------------------------------------------------

// Sleep waits for d or until ctx is done. It returns false when cancelled.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff runs fn up to maxRetries times. A RateLimitError waits for
// its hint (or the backoff delay when none was given) before the next try.
func RetryWithBackoff[T any](ctx context.Context, maxRetries int, b *Backoff, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	if maxRetries < 1 {
		maxRetries = 1
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt == maxRetries-1 || IsParse(err) {
			break
		}

		delay := b.Next()
		if rl, ok := IsRateLimit(err); ok && rl.RetryAfter > 0 {
			delay = rl.RetryAfter
		}
		if !Sleep(ctx, delay) {
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}
