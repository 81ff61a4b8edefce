package duck

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	maxRetries         = 8
	initialRetryDelay  = 50 * time.Millisecond
	maxRetryDelay      = 5 * time.Second
	retryBackoffFactor = 2.0
)

// isTransactionConflictError checks if an error is a transaction conflict error that should be retried
func isTransactionConflictError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on tuple deletion") ||
		strings.Contains(errStr, "Could not set lock on file")
}

// retryWithBackoff retries fn with exponential backoff while it keeps failing
// with a transaction conflict. Any other error is returned immediately.
func retryWithBackoff(ctx context.Context, log *slog.Logger, operation string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialRetryDelay
	b.MaxInterval = maxRetryDelay
	b.Multiplier = retryBackoffFactor

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info("operation succeeded after retries", "operation", operation, "attempts", attempt)
			}
			return struct{}{}, nil
		}
		if !isTransactionConflictError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		log.Warn("transaction conflict detected, retrying", "operation", operation, "attempt", attempt, "max_attempts", maxRetries, "error", err)
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxRetries))
	if err != nil {
		if isTransactionConflictError(err) {
			return fmt.Errorf("operation %s failed after %d attempts: %w", operation, attempt, err)
		}
		return err
	}
	return nil
}
