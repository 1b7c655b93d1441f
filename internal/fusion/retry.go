package fusion

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff is an exponential retry policy with additive jitter.
type Backoff struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxJitter    time.Duration

	// jitter returns a value in [0, max); replaced in tests.
	jitter func(max time.Duration) time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		MaxJitter:    2 * time.Second,
	}
}

// BaseDelay is the wait before retrying after the given failed attempt
// (1-based), without jitter: min(initial * 2^(attempt-1), cap).
func (b Backoff) BaseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.InitialDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	if d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// Delay is BaseDelay plus jitter in [0, MaxJitter).
func (b Backoff) Delay(attempt int) time.Duration {
	return b.BaseDelay(attempt) + b.randomJitter()
}

func (b Backoff) randomJitter() time.Duration {
	if b.MaxJitter <= 0 {
		return 0
	}
	if b.jitter != nil {
		return b.jitter(b.MaxJitter)
	}
	return rand.N(b.MaxJitter)
}

// Do runs fn until it succeeds, fails with an error shouldRetry rejects, or
// MaxAttempts is reached. Sleeps honour ctx.
func (b Backoff) Do(ctx context.Context, shouldRetry func(error) bool, fn func(attempt int) error) error {
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts || !shouldRetry(err) {
			return err
		}

		timer := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
