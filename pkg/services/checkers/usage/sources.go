package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/rs/zerolog"
)

// OutputPrefix marks the stack outputs that describe a usage source.
const OutputPrefix = "USAGETRACKING"

// Sources reads the usage tracking outputs of every stack in the account.
func Sources(ctx context.Context, client cloudformation.DescribeStacksAPIClient, accountID string) ([]domain.UsageSource, error) {
	logger := zerolog.Ctx(ctx)

	var sources []domain.UsageSource
	paginator := cloudformation.NewDescribeStacksPaginator(client, &cloudformation.DescribeStacksInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe stacks: %w", err)
		}
		for _, stack := range page.Stacks {
			for _, output := range stack.Outputs {
				if !strings.HasPrefix(aws.ToString(output.OutputKey), OutputPrefix) {
					continue
				}
				var source domain.UsageSource
				if err := json.Unmarshal([]byte(aws.ToString(output.OutputValue)), &source); err != nil {
					logger.Warn().Err(err).
						Str("stack", aws.ToString(stack.StackName)).
						Str("output", aws.ToString(output.OutputKey)).
						Msg("ignoring malformed usage output")
					continue
				}
				source.AccountID = accountID
				source.StackName = aws.ToString(stack.StackName)
				sources = append(sources, source)
			}
		}
	}
	return sources, nil
}

// Window ends at the most recent UTC midnight and spans the given number of days.
func Window(now time.Time, days int) domain.UsageWindow {
	end := now.UTC().Truncate(24 * time.Hour)
	return domain.UsageWindow{
		Start: end.AddDate(0, 0, -days),
		End:   end,
	}
}
