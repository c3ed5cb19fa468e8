// Retry logic with exponential backoff for LLM calls.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"researchnerd/internal/logging"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts
	InitialBackoff time.Duration // Initial backoff duration (doubles each retry)
	MaxBackoff     time.Duration // Maximum backoff duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     8 * time.Second,
	}
}

// RetryableFunc is a completion attempt that can be retried.
type RetryableFunc func(ctx context.Context) (string, error)

// ErrMaxRetriesExceeded indicates all retry attempts failed.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// WithRetry executes a function with exponential backoff retry.
// Returns the result on success, or error after all retries exhausted.
func WithRetry(ctx context.Context, config RetryConfig, operation string, fn RetryableFunc) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		// Execute the function
		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logging.LLM("Retry succeeded for %s on attempt %d", operation, attempt+1)
			}
			return result, nil
		}

		lastErr = err
		logging.LLMWarn("Attempt %d/%d for %s failed: %v", attempt+1, config.MaxRetries+1, operation, err)

		// Don't sleep after the last attempt
		if attempt < config.MaxRetries {
			backoff := calculateBackoff(config, attempt)
			logging.LLMDebug("Retrying %s in %v...", operation, backoff)

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
				// Continue to next attempt
			}
		}
	}

	return "", fmt.Errorf("%w for %s: %v", ErrMaxRetriesExceeded, operation, lastErr)
}

// calculateBackoff computes exponential backoff.
func calculateBackoff(config RetryConfig, attempt int) time.Duration {
	// Exponential backoff: initial * 2^attempt
	backoff := float64(config.InitialBackoff) * math.Pow(2, float64(attempt))

	// Cap at max backoff
	if backoff > float64(config.MaxBackoff) {
		backoff = float64(config.MaxBackoff)
	}

	return time.Duration(backoff)
}
