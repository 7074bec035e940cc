package usage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/services/retry"
	"github.com/rs/zerolog"
)

// The access log format is "$sourceIp,$method $path,$requestId". tolower keeps
// the floored date from being rendered in exponent form.
const insightsQuery = `fields @timestamp, @message
| parse @message "*,* *,*" as @sourceIp, @method, @path
| filter @method != 'CONNECTION_API'
| stats count(*) as count by @sourceIp as sourceIp, @method as method, @path as path, tolower(datefloor(@timestamp, 1d)) as date`

type LogsAPI interface {
	cloudwatchlogs.DescribeLogGroupsAPIClient
	StartQuery(
		ctx context.Context,
		params *cloudwatchlogs.StartQueryInput,
		optFns ...func(*cloudwatchlogs.Options),
	) (*cloudwatchlogs.StartQueryOutput, error)
	GetQueryResults(
		ctx context.Context,
		params *cloudwatchlogs.GetQueryResultsInput,
		optFns ...func(*cloudwatchlogs.Options),
	) (*cloudwatchlogs.GetQueryResultsOutput, error)
}

type logQuerier struct {
	client LogsAPI
	poll   retry.Params
	now    func() time.Time
}

// queryLogGroup returns nothing when the window ends before the group existed or
// before its oldest retained event, since the service rejects such queries.
func (q *logQuerier) queryLogGroup(ctx context.Context, source domain.UsageSource, window domain.UsageWindow) ([]domain.UsageEntry, error) {
	ok, err := q.inRange(ctx, source.Source, window.End)
	if err != nil {
		return nil, err
	}
	if !ok {
		zerolog.Ctx(ctx).Info().Str("log_group", source.Source).Msg("log group has no events in the window")
		return nil, nil
	}

	started, err := q.client.StartQuery(ctx, &cloudwatchlogs.StartQueryInput{
		LogGroupName: aws.String(source.Source),
		QueryString:  aws.String(insightsQuery),
		StartTime:    aws.Int64(window.Start.Unix()),
		EndTime:      aws.Int64(window.End.Unix()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start query on %s: %w", source.Source, err)
	}

	rows, err := retry.Do(ctx, q.poll, func(ctx context.Context) ([][]types.ResultField, error) {
		out, err := q.client.GetQueryResults(ctx, &cloudwatchlogs.GetQueryResultsInput{QueryId: started.QueryId})
		if err != nil {
			return nil, err
		}
		switch out.Status {
		case types.QueryStatusComplete:
			return out.Results, nil
		case types.QueryStatusFailed, types.QueryStatusCancelled, types.QueryStatusTimeout:
			return nil, retry.Permanent(fmt.Errorf("query on %s ended with status %s", source.Source, out.Status))
		default:
			return nil, fmt.Errorf("status=%s: %w", out.Status, retry.ErrNotReady)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", source.Source, err)
	}

	entries := make([]domain.UsageEntry, 0, len(rows))
	for _, row := range rows {
		fields := make(map[string]string, len(row))
		for _, f := range row {
			fields[aws.ToString(f.Field)] = aws.ToString(f.Value)
		}
		count, _ := strconv.ParseInt(fields["count"], 10, 64)
		entries = append(entries, domain.UsageEntry{
			AccountID: source.AccountID,
			StackName: source.StackName,
			Resource:  resourceName(source, fields["path"]),
			Date:      fields["date"],
			SourceIP:  fields["sourceIp"],
			Method:    fields["method"],
			Path:      fields["path"],
			Count:     count,
		})
	}
	return entries, nil
}

func (q *logQuerier) inRange(ctx context.Context, name string, end time.Time) (bool, error) {
	paginator := cloudwatchlogs.NewDescribeLogGroupsPaginator(q.client, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(name),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to describe log group %s: %w", name, err)
		}
		for _, group := range page.LogGroups {
			if aws.ToString(group.LogGroupName) != name {
				continue
			}
			if end.UnixMilli() < aws.ToInt64(group.CreationTime) {
				return false, nil
			}
			if group.RetentionInDays != nil {
				oldest := q.now().AddDate(0, 0, -int(*group.RetentionInDays))
				if end.Before(oldest) {
					return false, nil
				}
			}
			return true, nil
		}
	}
	return false, fmt.Errorf("log group %s not found", name)
}

// resourceName splits a source into one resource per first path segment when requested.
func resourceName(source domain.UsageSource, path string) string {
	if !source.SplitReportingByURLRoot {
		return source.Name
	}
	root, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return source.Name + "/" + root
}
