// Package retry runs an operation with exponential backoff. The grabber CLI
// uses it to start a pipeline whose camera is not yet available and to
// connect the telemetry broker.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Config contains configuration for exponential backoff
type Config struct {
	MaxRetries    int           // Maximum number of retries after the first attempt (default: 5)
	RetryDelay    time.Duration // Initial retry delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum retry delay cap (default: 30 seconds)
}

// DefaultConfig returns the default backoff configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// State tracks retries across calls
type State struct {
	CurrentRetries int
	Retries        atomic.Uint32 // total retries, for telemetry
}

// Func is one attempt of the operation
type Func func(ctx context.Context) error

// PermanentError marks an error that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Run stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Run executes fn until it succeeds, returns a permanent error, the retries
// are exhausted or ctx ends.
//
// Backoff schedule (default config):
//   - Retry 1: 1 second
//   - Retry 2: 2 seconds
//   - Retry 3: 4 seconds
//   - ...capped at MaxRetryDelay
func Run(ctx context.Context, name string, fn Func, cfg Config, state *State) error {
	for {
		select {
		case <-ctx.Done():
			slog.Info("retry: context cancelled", "operation", name)
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			if state.CurrentRetries > 0 {
				slog.Info("retry: operation succeeded", "operation", name, "after_retries", state.CurrentRetries)
			}
			state.CurrentRetries = 0
			return nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			slog.Error("retry: permanent failure", "operation", name, "error", perm.Err)
			return perm.Err
		}

		slog.Error("retry: operation failed", "operation", name, "error", err)

		state.CurrentRetries++
		state.Retries.Add(1)

		if state.CurrentRetries > cfg.MaxRetries {
			return fmt.Errorf("retry: %s: max retries exceeded (%d attempts): %w", name, cfg.MaxRetries, err)
		}

		delay := Backoff(state.CurrentRetries, cfg)

		slog.Warn("retry: retrying",
			"operation", name,
			"attempt", state.CurrentRetries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
			continue
		case <-ctx.Done():
			slog.Info("retry: context cancelled during backoff", "operation", name)
			return ctx.Err()
		}
	}
}

// Backoff returns retryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func Backoff(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// avoid shift overflow
	if attempt > 31 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

// Reset clears the retry counter.
func Reset(state *State) {
	state.CurrentRetries = 0
	slog.Debug("retry: state reset")
}
