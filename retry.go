package partconsumer

import (
	"context"
	"math"
	"time"
)

// RetryPolicy computes retry delays and decides when to give up. It
// holds no mutable state of its own; callers thread an attempt
// counter through NextDelay/ShouldRetry, and Do owns that counter for
// the common "retry a broker call" case.
type RetryPolicy struct {
	InitDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Log         Logger
}

// NextDelay returns min(InitDelay * 2^attempt, MaxDelay).
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the exponent so the shift can't overflow before the min()
	// clamps it back down to MaxDelay anyway.
	if attempt > 62 {
		attempt = 62
	}
	d := p.InitDelay * time.Duration(math.Pow(2, float64(attempt)))
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ShouldRetry returns false once attempt reaches MaxAttempts, or when
// err is not broker-classified as retryable.
func (p *RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return retryable(err)
}

// thirds are the attempt counts at which Do escalates to Warnf:
// MaxAttempts/3 and 2*MaxAttempts/3, rounded down.
func (p *RetryPolicy) thirds() (int, int) {
	n := p.MaxAttempts
	return n / 3, (2 * n) / 3
}

// Do runs op, retrying per policy until it succeeds, is judged
// non-retryable, exhausts MaxAttempts, or ctx is cancelled. It logs
// debug on every failure, warn at the two thirds thresholds, and a
// final debug "exhausted attempts" on give-up.
func (p *RetryPolicy) Do(ctx context.Context, scope string, op func(ctx context.Context) error) error {
	firstThird, secondThird := p.thirds()
	var attempt int
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		attempt++
		p.Log.Debugf("%s: attempt %d failed: %s", scope, attempt, err)

		if attempt == firstThird || attempt == secondThird {
			p.Log.Warnf("%s: %d/%d attempts failed, still retrying", scope, attempt, p.MaxAttempts)
		}

		if !retryable(err) {
			// Not a retryable error (unclassified, or classified as
			// non-retryable): surface immediately, no exhaustion message (that's reserved for hitting the
			// attempt cap on a genuinely retryable error).
			return err
		}
		if attempt >= p.MaxAttempts {
			p.Log.Debugf("%s: exhausted attempts", scope)
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.NextDelay(attempt - 1)):
		}
	}
}
