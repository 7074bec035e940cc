package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	defaultStartingDelay = time.Second
	defaultMaxDelay      = time.Minute
)

var (
	// ErrNotReady is returned by pollers whose remote operation has not finished yet.
	ErrNotReady = errors.New("operation not ready")
	// ErrExhausted wraps the last operation error once the attempt or time budget is spent.
	ErrExhausted = errors.New("retries exhausted")
)

// Params bound an exponential retry loop. Zero MaxAttempts or MaxElapsed means no limit.
type Params struct {
	StartingDelay time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	MaxElapsed    time.Duration
}

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (p Params) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.StartingDelay
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = defaultStartingDelay
	}
	exp.MaxInterval = p.MaxDelay
	if exp.MaxInterval <= 0 {
		exp.MaxInterval = defaultMaxDelay
	}
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = p.MaxElapsed
	exp.Reset()

	var b backoff.BackOff = exp
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Do calls op until it succeeds, returns a permanent error, or the budget in params runs out.
func Do[T any](ctx context.Context, params Params, op func(ctx context.Context) (T, error)) (T, error) {
	logger := zerolog.Ctx(ctx)

	attempts := 0
	permanent := false
	result, err := backoff.RetryNotifyWithData(
		func() (T, error) {
			attempts++
			res, err := op(ctx)
			var perr *backoff.PermanentError
			if errors.As(err, &perr) {
				permanent = true
			}
			return res, err
		},
		params.policy(ctx),
		func(err error, next time.Duration) {
			logger.Debug().
				Err(err).
				Int("attempt", attempts).
				Dur("next", next).
				Msg("operation failed, retrying")
		},
	)
	if err == nil {
		return result, nil
	}

	var zero T
	switch {
	case permanent:
		return zero, err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return zero, fmt.Errorf("retry aborted after %d attempts: %w", attempts, err)
	default:
		return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
	}
}
