// Package retry runs an operation with bounded exponential backoff. Only
// transient failures (TIMEOUT, NETWORK_UNREACHABLE, RETRYABLE) are retried.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go-file-engine/internal/model"
)

type Config struct {
	MaxAttempts int           // 0 or 1 disables retries
	InitialWait time.Duration // wait before the second attempt
	MaxWait     time.Duration // cap for the backoff and for RETRYABLE hints
	Multiplier  float64
	Jitter      float64 // 0-1
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// None is used where the caller owns retry policy.
func None() Config {
	return Config{MaxAttempts: 1}
}

func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !model.IsTransient(err) || attempt == attempts {
			return zero, err
		}

		if ctx.Err() != nil {
			return zero, lastErr
		}

		select {
		case <-ctx.Done():
			return zero, lastErr
		case <-time.After(cfg.wait(attempt, model.RetryAfterOf(err))):
		}
	}

	return zero, lastErr
}

func (cfg Config) wait(attempt int, hint time.Duration) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	wait := float64(cfg.InitialWait) * math.Pow(multiplier, float64(attempt-1))
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}

	if cfg.Jitter > 0 {
		wait += wait * cfg.Jitter * (rand.Float64()*2 - 1)
	}

	// A throttle hint is a floor, not a suggestion.
	if float64(hint) > wait {
		wait = float64(hint)
		if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
			wait = float64(cfg.MaxWait)
		}
	}

	return time.Duration(wait)
}
