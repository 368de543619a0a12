package xoloerr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// MetricsRecorder is the subset of internal/xolometrics.RetryMetrics that
// WithRetry needs. Kept as a local interface so xoloerr never imports the
// metrics package.
type MetricsRecorder interface {
	RecordAttempt(operation, outcome, errorType string, durationSeconds float64)
	RecordFinalAttempt(operation, outcome string, attempts int)
	RecordBackoff(operation string, delaySeconds float64)
}

// RetryPolicy configures WithRetry's exponential backoff. Used by
// internal/catalog's and internal/fleet's HTTP clients.
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Multiplier    float64
	Jitter        bool
	ErrorChecker  ErrorChecker
	Logger        *slog.Logger
	Metrics       MetricsRecorder
	OperationName string
}

// DefaultRetryPolicy returns 3 retries, 100ms base delay, 5s cap, 2x
// backoff, with jitter.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// WithRetry runs operation under policy, retrying while ErrorChecker.IsRetryable
// reports true, up to MaxRetries times. Context cancellation during a backoff
// delay aborts immediately with ctx.Err().
func WithRetry(ctx context.Context, policy *RetryPolicy, operation func() error) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checker := policy.ErrorChecker
	if checker == nil {
		checker = DefaultChecker
	}
	opName := policy.OperationName
	if opName == "" {
		opName = "unknown"
	}

	var lastErr error
	delay := policy.BaseDelay
	attempts := 0

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		attempts++
		start := time.Now()
		err := operation()
		elapsed := time.Since(start).Seconds()

		if err == nil {
			if policy.Metrics != nil {
				policy.Metrics.RecordAttempt(opName, "success", "none", elapsed)
				policy.Metrics.RecordFinalAttempt(opName, "success", attempts)
			}
			if attempt > 0 {
				logger.Info("operation succeeded after retry", "attempts", attempts)
			}
			return nil
		}
		lastErr = err

		if !checker.IsRetryable(err) {
			if policy.Metrics != nil {
				policy.Metrics.RecordAttempt(opName, "failure", Classify(err), elapsed)
				policy.Metrics.RecordFinalAttempt(opName, "failure", attempts)
			}
			logger.Debug("non-retryable error, stopping", "error", err, "attempt", attempt+1)
			return lastErr
		}

		if policy.Metrics != nil {
			policy.Metrics.RecordAttempt(opName, "failure", Classify(err), elapsed)
		}

		if attempt >= policy.MaxRetries {
			if policy.Metrics != nil {
				policy.Metrics.RecordFinalAttempt(opName, "failure", attempts)
			}
			logger.Error("operation failed after all retries", "max_retries", policy.MaxRetries, "error", lastErr)
			break
		}

		logger.Warn("operation failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		if policy.Metrics != nil {
			policy.Metrics.RecordBackoff(opName, delay.Seconds())
		}
		if !waitWithContext(ctx, delay) {
			if policy.Metrics != nil {
				policy.Metrics.RecordAttempt(opName, "cancelled", Classify(ctx.Err()), time.Since(start).Seconds())
				policy.Metrics.RecordFinalAttempt(opName, "cancelled", attempts)
			}
			return ctx.Err()
		}
		delay = nextDelay(delay, policy)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

// WithRetryFunc is WithRetry for operations that return a value alongside
// an error.
func WithRetryFunc[T any](ctx context.Context, policy *RetryPolicy, operation func() (T, error)) (T, error) {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	checker := policy.ErrorChecker
	if checker == nil {
		checker = DefaultChecker
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastResult T
	var lastErr error
	delay := policy.BaseDelay

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info("operation succeeded after retry", "attempts", attempt+1)
			}
			return result, nil
		}
		lastResult, lastErr = result, err

		if !checker.IsRetryable(err) {
			return lastResult, lastErr
		}
		if attempt >= policy.MaxRetries {
			break
		}
		if !waitWithContext(ctx, delay) {
			var zero T
			return zero, ctx.Err()
		}
		delay = nextDelay(delay, policy)
	}

	return lastResult, fmt.Errorf("operation failed after %d attempts: %w", policy.MaxRetries+1, lastErr)
}

func waitWithContext(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextDelay(current time.Duration, policy *RetryPolicy) time.Duration {
	next := time.Duration(float64(current) * policy.Multiplier)
	if next > policy.MaxDelay {
		next = policy.MaxDelay
	}
	if policy.Jitter {
		next += time.Duration(float64(next) * 0.1 * rand.Float64())
	}
	return next
}
