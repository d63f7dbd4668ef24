// Package retry provides a small bounded exponential backoff for transient
// filesystem errors (a checkpoint write racing a concurrent antivirus scan,
// an NFS mount hiccup) — the kind of error that clears itself on the next
// attempt rather than one that calls for giving up immediately.
package retry

import (
	"context"
	"time"
)

// Config bounds a retry sequence.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig makes up to 5 attempts, waiting 100ms before the first retry
// and doubling the wait up to a 2s cap.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Do calls fn until it succeeds or cfg.MaxAttempts is exhausted, sleeping an
// exponentially increasing delay between attempts. It returns the last
// error if every attempt fails, or ctx.Err() if ctx is cancelled first.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}
