package retry

import (
	"context"
	"time"

	"txledger/internal/config"
)

const DefaultFactor = 2.0

// Retry configures an exponential backoff. It holds no state and is safe for concurrent use.
type Retry struct {
	InitialDelay time.Duration
	MaximumDelay time.Duration
	Factor       float64
}

// FromConfig builds a Retry from a config backoff section.
func FromConfig(c config.BackoffConfig) *Retry {
	return &Retry{InitialDelay: c.Initial, MaximumDelay: c.Max, Factor: c.Factor}
}

// Delay returns the wait before the given attempt (1-based) is retried.
func (r *Retry) Delay(attempt int) time.Duration {
	factor := r.Factor
	if factor < 1 {
		factor = DefaultFactor
	}
	delay := r.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * factor)
		if r.MaximumDelay > 0 && delay >= r.MaximumDelay {
			return r.MaximumDelay
		}
	}
	if r.MaximumDelay > 0 && delay > r.MaximumDelay {
		delay = r.MaximumDelay
	}
	return delay
}

// Do invokes f until it returns retry=false, or ctx is done. The delay between
// attempts never exceeds the time left before the ctx deadline.
func (r *Retry) Do(ctx context.Context, f func(attempt int) (retry bool, err error)) error {
	attempt := 0
	for {
		attempt++
		retry, err := f(attempt)
		if !retry {
			return err
		}

		delay := r.Delay(attempt)
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < delay {
				delay = left
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
