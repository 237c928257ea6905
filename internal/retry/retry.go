// Package retry provides a bounded exponential-backoff retry policy.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes how many times to attempt an operation and how long to
// wait between attempts. The delay doubles (or multiplies by Multiplier)
// after every failed attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// Default is the policy used for terminal persistence writes:
// 3 attempts with 1s, 2s, 4s backoff.
var Default = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	Multiplier:  2,
}

// Do runs fn until it succeeds, attempts are exhausted, or ctx is cancelled.
// The context is checked before each attempt and honoured during backoff
// sleeps, so an abandoned operation never holds resources for a full
// backoff cycle.
func Do(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry: cancelled before attempt %d: %w", attempt, err)
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry: cancelled during backoff: %w", ctx.Err())
		}
		delay = time.Duration(float64(delay) * p.Multiplier)
	}

	return fmt.Errorf("retry: %d attempts exhausted: %w", p.MaxAttempts, lastErr)
}
