package runner

import (
	"context"
	"fmt"

	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	ToolingAlertTitle  = "AWS account tooling alert"
	toolingAlertPrefix = "Error occurred running tooling: \n"
)

// Job is one scheduled invocation of a checker.
type Job func(ctx context.Context, invocationID string) error

// AccountCheck inspects a single account.
type AccountCheck[R any] func(ctx context.Context, account domain.Account) (R, error)

// Summariser receives the per-account results in account order.
type Summariser[R any] func(ctx context.Context, invocationID string, results []R) error

type Notifier interface {
	Publish(ctx context.Context, message, title, invocationID string) error
}

// InSeries applies fn to each item one at a time. It stops at the first error.
func InSeries[T, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	results := make([]R, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := fn(ctx, item)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func RunAll[R any](ctx context.Context, accounts []domain.Account, check AccountCheck[R]) ([]R, error) {
	logger := zerolog.Ctx(ctx)

	return InSeries(ctx, accounts, func(ctx context.Context, account domain.Account) (R, error) {
		accLogger := logger.With().Str("account", account.ID).Logger()
		accLogger.Info().Msg("checking account")

		res, err := check(accLogger.WithContext(ctx), account)
		if err != nil {
			return res, fmt.Errorf("failed to check account %s: %w", account.ID, err)
		}
		return res, nil
	})
}

func MultiAccount[R any](accounts []domain.Account, check AccountCheck[R], summarise Summariser[R]) Job {
	return func(ctx context.Context, invocationID string) error {
		results, err := RunAll(ctx, accounts, check)
		if err != nil {
			return err
		}
		return summarise(ctx, invocationID, results)
	}
}

// Guard is the outermost wrapper of every job. Failures, panics included, are
// published as a tooling alert and then returned so the invocation is marked failed.
func Guard(notifier Notifier, job Job) Job {
	return func(ctx context.Context, invocationID string) (err error) {
		logger := zerolog.Ctx(ctx).With().Str("invocation_id", invocationID).Logger()
		ctx = logger.WithContext(ctx)
		logger.Info().Msg("starting job")

		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("job panicked: %v", r)
			}
			if err == nil {
				logger.Info().Msg("job finished")
				return
			}

			err = errors.WithStack(err)
			logger.Error().Err(err).Msg("job failed")

			message := fmt.Sprintf("%s%+v", toolingAlertPrefix, err)
			if nerr := notifier.Publish(ctx, message, ToolingAlertTitle, invocationID); nerr != nil {
				logger.Error().Err(nerr).Msg("failed to publish tooling alert")
				err = fmt.Errorf("%w (alert not delivered: %v)", err, nerr)
			}
		}()

		return job(ctx, invocationID)
	}
}
