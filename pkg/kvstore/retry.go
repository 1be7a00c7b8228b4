package kvstore

import (
	"context"
	"time"
)

// RetryConfig bounds the exponential backoff callers apply around
// store operations that fail with a transient StoreUnavailable-style
// error. The cap matches the 30s ceiling the KV Store Adapter contract
// specifies.
type RetryConfig struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultRetryConfig is 1s, 2s, 4s, ... capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Initial: time.Second, Max: 30 * time.Second}
}

// Retry invokes fn until it succeeds, ctx is done, or fn returns a
// non-retryable error (retryable reports which). Each failed attempt
// sleeps for an exponentially increasing backoff capped at cfg.Max.
func Retry(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func() error) error {
	wait := cfg.Initial
	if wait <= 0 {
		wait = time.Second
	}

	for {
		err := fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		wait *= 2
		if wait > cfg.Max {
			wait = cfg.Max
		}
	}
}
