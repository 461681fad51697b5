package xawala

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig controls retry behavior for processing middleware.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first execution.
	MaxAttempts int
	// Backoff computes the base wait before the next attempt (e.g., exponential backoff).
	Backoff func(attempt int) time.Duration
	// RetryIf, when provided, returns true if the error should be retried.
	// If nil, all errors are retried (bounded by MaxAttempts).
	// Permanent errors are never retried.
	RetryIf func(err error) bool
	// Jitter adds up to [0, Jitter] random delay to the base backoff to avoid thundering herds.
	Jitter time.Duration
}

// RetryMiddleware provides bounded, selective retries around a handler.
func RetryMiddleware(cfg RetryConfig) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, env *Envelope) error {
			var lastErr error
			attempts := cfg.MaxAttempts
			if attempts < 1 {
				attempts = 1
			}
			shouldRetry := cfg.RetryIf
			if shouldRetry == nil {
				shouldRetry = func(error) bool { return true }
			}
			for i := 1; i <= attempts; i++ {
				lastErr = next(ctx, env)
				if lastErr == nil {
					return nil
				}
				if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return lastErr
				}
				if i == attempts || IsPermanent(lastErr) || !shouldRetry(lastErr) {
					return lastErr
				}
				if cfg.Backoff != nil {
					wait := cfg.Backoff(i)
					if cfg.Jitter > 0 {
						wait += time.Duration(rand.Int63n(int64(cfg.Jitter)))
					}
					select {
					case <-ctx.Done():
						return lastErr
					case <-time.After(wait):
					}
				}
			}
			return lastErr
		}
	}
}

// TimeoutMiddleware enforces a maximum processing time for a handler.
// When exceeded, it returns context.DeadlineExceeded and allows transport Nack/handling.
func TimeoutMiddleware(d time.Duration) Middleware {
	if d <= 0 {
		return func(next Handler) Handler { return next }
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, env *Envelope) error {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						errCh <- fmt.Errorf("%w: %v", ErrHandlerPanic, r)
					}
				}()
				errCh <- next(tctx, env)
			}()

			select {
			case <-tctx.Done():
				return tctx.Err()
			case err := <-errCh:
				return err
			}
		}
	}
}

// RecoveryMiddleware prevents panics from crashing consumers and converts them into errors.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, env *Envelope) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(ctx, env)
		}
	}
}

// Chain composes middlewares around a handler in order.
func Chain(h Handler, mws ...Middleware) Handler {
	if len(mws) == 0 {
		return h
	}
	wrapped := h
	// Apply in reverse so that first middleware wraps last.
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

// ChainIncoming composes incoming middlewares around a service message handler in order.
func ChainIncoming(h IncomingHandler, mws ...IncomingMiddleware) IncomingHandler {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
