package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// ErrPermanent marks failures that must not be retried.
var ErrPermanent = errors.New("permanent failure")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() []error { return []error{ErrPermanent, e.err} }

// Permanent wraps err so that Do stops retrying immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type Config struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	JitterFraction  float64
	AttemptTimeout  time.Duration
	RetryableErrors []error
	Logger          *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         zap.NewNop(),
	}
}

// Do runs operation until it succeeds, returns a non-retryable error, or
// MaxAttempts is exhausted. Each attempt gets its own context bounded by
// AttemptTimeout when one is configured.
func Do(ctx context.Context, cfg Config, operation func(ctx context.Context, attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(err, lastErr)
			}
			return err
		}

		err := runAttempt(ctx, cfg.AttemptTimeout, attempt, operation)
		if err == nil {
			if attempt > 1 {
				cfg.Logger.Info("Operation succeeded after retry",
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}

		lastErr = err

		if !isRetryable(err, cfg.RetryableErrors) {
			cfg.Logger.Debug("Error not retryable",
				zap.Error(err),
				zap.Int("attempt", attempt),
			)
			return err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		wait := addJitter(delay, cfg.JitterFraction)
		cfg.Logger.Warn("Operation failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("delay", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}

		delay = time.Duration(math.Min(float64(cfg.MaxDelay), float64(delay)*cfg.Multiplier))
	}

	return lastErr
}

func DoWithResult[T any](ctx context.Context, cfg Config, operation func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		var err error
		result, err = operation(ctx, attempt)
		return err
	})
	return result, err
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt int, operation func(ctx context.Context, attempt int) error) error {
	if timeout <= 0 {
		return operation(ctx, attempt)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return operation(attemptCtx, attempt)
}

func isRetryable(err error, retryableErrors []error) bool {
	if errors.Is(err, ErrPermanent) {
		return false
	}
	if len(retryableErrors) == 0 {
		return true
	}

	for _, retryableErr := range retryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}
	return false
}

func addJitter(duration time.Duration, jitterFraction float64) time.Duration {
	if jitterFraction <= 0 {
		return duration
	}

	jitter := time.Duration(rand.Float64() * float64(duration) * jitterFraction)
	if rand.Intn(2) == 0 {
		return duration - jitter
	}
	return duration + jitter
}
