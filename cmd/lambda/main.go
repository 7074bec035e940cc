package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/de-tools/account-monitor/pkg/app"
	"github.com/de-tools/account-monitor/pkg/services/checkers/login"
	"github.com/de-tools/account-monitor/pkg/services/config"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	settings, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load settings")
	}
	if level, err := zerolog.ParseLevel(settings.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx := logger.WithContext(context.Background())
	application, err := app.New(ctx, settings)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise")
	}

	if settings.Checker == login.MonitorType {
		lambda.Start(func(ctx context.Context, event events.S3Event) error {
			ctx, id := invocation(ctx, logger)
			return application.HandleLoginEvent(ctx, id, event)
		})
		return
	}

	if !application.HasJob(settings.Checker) {
		logger.Fatal().Str("checker", settings.Checker).Strs("jobs", application.Jobs()).Msg("unknown checker")
	}
	lambda.Start(func(ctx context.Context) error {
		ctx, id := invocation(ctx, logger)
		return application.Run(ctx, settings.Checker, id)
	})
}

// invocation tags the logger with the Lambda request id, which doubles as the invocation id.
func invocation(ctx context.Context, logger zerolog.Logger) (context.Context, string) {
	var id string
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		id = lc.AwsRequestID
	}
	return logger.With().Str("aws_request_id", id).Logger().WithContext(ctx), id
}
