// Package retry re-runs an operation while it keeps failing with a
// retryable error.
package retry

import (
	"context"

	rerrors "github.com/p-blackswan/roadmap-agent/internal/errors"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
}

// DefaultConfig allows one attempt plus three retries.
func DefaultConfig() Config {
	return Config{MaxAttempts: 4}
}

// WithAttempts returns a copy of cfg allowing retries additional attempts
// after the first one.
func (c Config) WithAttempts(retries int) Config {
	if retries < 0 {
		retries = 0
	}
	c.MaxAttempts = retries + 1
	return c
}

// Do calls fn until it succeeds, fails with a non-retryable error, or runs
// out of attempts. Attempts run back to back; a retryable failure means the
// state fn read is stale, so waiting does not help. attempt is zero for the
// first call.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !rerrors.IsRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
