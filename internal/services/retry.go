package services

import (
	"context"
	"fmt"
	"time"

	"github.com/flowra/backend/pkg/logger"
)

const (
	MaxRetryCount    = 3
	RetryInterval    = 500 * time.Millisecond
	sideEffectBudget = 30 * time.Second
)

// Runner executes one best-effort side effect off the request path, exactly once.
// Errors are logged, never returned to the caller.
type Runner func(name string, fn func(ctx context.Context) error)

// GoRunner runs fn once in its own goroutine.
func GoRunner(name string, fn func(ctx context.Context) error) {
	go runOnce(name, fn)
}

// InlineRunner runs fn once on the calling goroutine.
func InlineRunner(name string, fn func(ctx context.Context) error) {
	runOnce(name, fn)
}

func runOnce(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectBudget)
	defer cancel()
	if err := safeCall(ctx, fn); err != nil {
		logger.Warn().Err(err).Str("effect", name).Msg("[Async] side effect failed")
	}
}

// Retried wraps an idempotent effect so it is attempted up to MaxRetryCount
// times. Only wrap writes that are safe to repeat (upserts, DO NOTHING inserts).
func Retried(name string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return retry(ctx, name, fn, RetryInterval)
	}
}

func retry(ctx context.Context, name string, fn func(ctx context.Context) error, interval time.Duration) error {
	var err error
	for attempt := 1; attempt <= MaxRetryCount; attempt++ {
		if err = safeCall(ctx, fn); err == nil {
			return nil
		}
		if attempt == MaxRetryCount {
			break
		}
		logger.Warn().Err(err).Str("effect", name).Int("attempt", attempt).Msg("[Async] retrying side effect")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", MaxRetryCount, err)
}

func safeCall(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
