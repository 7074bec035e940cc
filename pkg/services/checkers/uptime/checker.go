package uptime

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iot"
	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/services/monitor"
	"github.com/de-tools/account-monitor/pkg/services/runner"
	"github.com/rs/zerolog"
)

const (
	MonitorType = "uptime-checker"
	Label       = "uptime"

	DefaultThingGroup = "uptime-monitoring"

	indexName         = "AWS_Things"
	disconnectedQuery = "connectivity.connected:false"
)

type API interface {
	SearchIndex(ctx context.Context, params *iot.SearchIndexInput, optFns ...func(*iot.Options)) (*iot.SearchIndexOutput, error)
}

type Checker struct {
	client API
	group  string
}

func NewChecker(client API, group string) (*Checker, error) {
	if client == nil {
		return nil, fmt.Errorf("iot client is nil")
	}
	if group == "" {
		group = DefaultThingGroup
	}
	return &Checker{client: client, group: group}, nil
}

func NewCheckerFromConfig(cfg aws.Config, group string) (*Checker, error) {
	return NewChecker(iot.NewFromConfig(cfg), group)
}

// Disconnected returns an issue for every disconnected thing in the monitored group.
// Group membership cannot be expressed in the index query, so it is filtered here.
func (c *Checker) Disconnected(ctx context.Context) ([]domain.Issue, error) {
	var issues []domain.Issue
	var token *string
	for {
		out, err := c.client.SearchIndex(ctx, &iot.SearchIndexInput{
			IndexName:   aws.String(indexName),
			QueryString: aws.String(disconnectedQuery),
			NextToken:   token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to search thing index: %w", err)
		}

		for _, thing := range out.Things {
			if !slices.Contains(thing.ThingGroupNames, c.group) {
				continue
			}
			device := domain.DeviceDisconnect{
				ThingName: aws.ToString(thing.ThingName),
				ThingID:   aws.ToString(thing.ThingId),
			}
			if thing.Connectivity != nil && thing.Connectivity.Timestamp != nil {
				at := time.UnixMilli(*thing.Connectivity.Timestamp).UTC()
				device.DisconnectedAt = &at
			}
			issues = append(issues, domain.NewDeviceIssue(device))
		}

		token = out.NextToken
		if aws.ToString(token) == "" {
			break
		}
	}

	zerolog.Ctx(ctx).Info().Str("group", c.group).Int("disconnected", len(issues)).Msg("searched thing index")
	return issues, nil
}

func Definition() monitor.Definition {
	return monitor.Definition{
		Type:       MonitorType,
		Label:      Label,
		Format:     FormatIssues,
		AssignKeys: AssignKeys,
	}
}

func FormatIssues(issues []domain.Issue) []string {
	lines := make([]string, 0, len(issues))
	for _, issue := range issues {
		d := issue.Device
		since := "[unknown]"
		if d.DisconnectedAt != nil {
			since = d.DisconnectedAt.Format(time.RFC1123)
		}
		lines = append(lines, fmt.Sprintf("%s (%s) was disconnected since %s", d.ThingName, d.ThingID, since))
	}
	return lines
}

func AssignKeys(issues []domain.Issue) {
	for i := range issues {
		issues[i].PK = issues[i].Device.ThingName
	}
}

// NewJob runs against the account the job is deployed in.
func NewJob(checker *Checker, store monitor.IssueStore) runner.Job {
	return func(ctx context.Context, invocationID string) error {
		issues, err := checker.Disconnected(ctx)
		if err != nil {
			return err
		}
		_, _, err = store.SummariseAndNotify(ctx, invocationID, issues)
		return err
	}
}
