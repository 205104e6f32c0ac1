package broker

import (
	"context"
	"math"
	"math/rand"
	"time"

	coreerrors "github.com/rameshiyer27/bastion/internal/errors"
)

// RetryConfig holds configuration for retry mechanisms
type RetryConfig struct {
	MaxRetries    int           `json:"maxRetries"`
	InitialDelay  time.Duration `json:"initialDelay"`
	MaxDelay      time.Duration `json:"maxDelay"`
	BackoffFactor float64       `json:"backoffFactor"`
	JitterEnabled bool          `json:"jitterEnabled"`
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// RetryableFunc represents a gateway call that can be retried
type RetryableFunc func() error

// Retry executes a gateway call with default retry configuration.
// Only errors categorized as retryable (network, timeout, rate limit)
// are retried; broker rejections fail immediately.
func Retry(ctx context.Context, fn RetryableFunc) error {
	return RetryWithConfig(ctx, fn, DefaultRetryConfig())
}

// RetryWithConfig executes a gateway call with custom retry configuration
func RetryWithConfig(ctx context.Context, fn RetryableFunc, config RetryConfig) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		coreErr := coreerrors.Categorize(err, "broker", "gateway_call")
		if !coreErr.IsRetryable() {
			return err
		}

		if attempt == config.MaxRetries {
			break
		}

		delay := backoffDelay(attempt, config)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}

// backoffDelay calculates the exponential backoff delay for an attempt
func backoffDelay(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.JitterEnabled {
		// Up to 25% jitter to avoid thundering-herd retries
		delay += delay * 0.25 * rand.Float64()
	}

	return time.Duration(delay)
}
