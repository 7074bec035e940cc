package drift

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/services/accounts"
	"github.com/de-tools/account-monitor/pkg/services/monitor"
	"github.com/de-tools/account-monitor/pkg/services/retry"
	"github.com/de-tools/account-monitor/pkg/services/runner"
	"github.com/rs/zerolog"
)

const (
	MonitorType = "cfn-drift-checker"
	Label       = "CFN-DRIFT"

	DefaultRetryCooldown = 30 * time.Second
)

var DefaultPoll = retry.Params{
	StartingDelay: 10 * time.Second,
	MaxDelay:      60 * time.Second,
}

// ignoredStates are listed explicitly so that a new lifecycle state is checked rather than silently skipped.
var ignoredStates = []types.StackStatus{
	types.StackStatusRollbackComplete,
	types.StackStatusRollbackFailed,
	types.StackStatusRollbackInProgress,
	types.StackStatusCreateInProgress,
	types.StackStatusCreateFailed,
	types.StackStatusDeleteComplete,
	types.StackStatusDeleteFailed,
	types.StackStatusDeleteInProgress,
}

type API interface {
	cloudformation.ListStacksAPIClient
	cloudformation.DescribeStackResourceDriftsAPIClient
	DetectStackDrift(
		ctx context.Context,
		params *cloudformation.DetectStackDriftInput,
		optFns ...func(*cloudformation.Options),
	) (*cloudformation.DetectStackDriftOutput, error)
	DescribeStackDriftDetectionStatus(
		ctx context.Context,
		params *cloudformation.DescribeStackDriftDetectionStatusInput,
		optFns ...func(*cloudformation.Options),
	) (*cloudformation.DescribeStackDriftDetectionStatusOutput, error)
}

type Options struct {
	Configs       accounts.ConfigProvider
	RoleName      string
	Poll          retry.Params
	RetryCooldown time.Duration
	NewClient     func(cfg aws.Config) API
	Sleep         func(ctx context.Context, d time.Duration) error
}

type Checker struct {
	configs   accounts.ConfigProvider
	roleName  string
	poll      retry.Params
	cooldown  time.Duration
	newClient func(cfg aws.Config) API
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewChecker(opts Options) (*Checker, error) {
	if opts.Configs == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	if opts.NewClient == nil {
		opts.NewClient = func(cfg aws.Config) API { return cloudformation.NewFromConfig(cfg) }
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	return &Checker{
		configs:   opts.Configs,
		roleName:  opts.RoleName,
		poll:      opts.Poll,
		cooldown:  opts.RetryCooldown,
		newClient: opts.NewClient,
		sleep:     opts.Sleep,
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CheckAccount reports the drift status of every live stack in the account.
func (c *Checker) CheckAccount(ctx context.Context, account domain.Account) ([]domain.StackCheckResult, error) {
	logger := zerolog.Ctx(ctx)

	cfg, err := c.configs.ConfigFor(ctx, account.ID, c.roleName)
	if err != nil {
		return nil, fmt.Errorf("failed to assume role in %s: %w", account.ID, err)
	}
	client := c.newClient(cfg)

	stacks, err := listStacks(ctx, client)
	if err != nil {
		return nil, err
	}
	logger.Info().Strs("stacks", stacks).Msg("checking drift status")

	check := func(ctx context.Context, stack string) (domain.StackCheckResult, error) {
		return c.checkStack(ctx, client, account.ID, stack)
	}

	results, err := runner.InSeries(ctx, stacks, check)
	if err != nil {
		return nil, err
	}

	var failed []string
	results = slices.DeleteFunc(results, func(r domain.StackCheckResult) bool {
		if r.DriftStatus == domain.DetectionFailed {
			failed = append(failed, r.StackName)
			return true
		}
		return false
	})
	if len(failed) == 0 {
		return results, nil
	}

	// Failures are mostly rate limiting, so wait and try the smaller set once more.
	logger.Info().Strs("stacks", failed).Dur("cooldown", c.cooldown).Msg("retrying failed drift detections")
	if err := c.sleep(ctx, c.cooldown); err != nil {
		return nil, err
	}
	retried, err := runner.InSeries(ctx, failed, check)
	if err != nil {
		return nil, err
	}
	return append(results, retried...), nil
}

func listStacks(ctx context.Context, client cloudformation.ListStacksAPIClient) ([]string, error) {
	var stacks []string
	paginator := cloudformation.NewListStacksPaginator(client, &cloudformation.ListStacksInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list stacks: %w", err)
		}
		for _, summary := range page.StackSummaries {
			if slices.Contains(ignoredStates, summary.StackStatus) {
				continue
			}
			stacks = append(stacks, aws.ToString(summary.StackName))
		}
	}
	return stacks, nil
}

func (c *Checker) checkStack(ctx context.Context, client API, accountID, stack string) (domain.StackCheckResult, error) {
	logger := zerolog.Ctx(ctx).With().Str("stack", stack).Logger()
	result := domain.StackCheckResult{AccountID: accountID, StackName: stack}

	detect, err := client.DetectStackDrift(ctx, &cloudformation.DetectStackDriftInput{StackName: aws.String(stack)})
	if err != nil {
		return result, fmt.Errorf("failed to start drift detection for %s: %w", stack, err)
	}

	status, err := retry.Do(ctx, c.poll, func(ctx context.Context) (*cloudformation.DescribeStackDriftDetectionStatusOutput, error) {
		out, err := client.DescribeStackDriftDetectionStatus(ctx, &cloudformation.DescribeStackDriftDetectionStatusInput{
			StackDriftDetectionId: detect.StackDriftDetectionId,
		})
		if err != nil {
			return nil, err
		}
		switch string(out.DetectionStatus) {
		case domain.DetectionFailed, domain.DetectionComplete:
			return out, nil
		default:
			return nil, fmt.Errorf("detection status %s: %w", out.DetectionStatus, retry.ErrNotReady)
		}
	})
	if err != nil {
		return result, fmt.Errorf("failed to detect drift for %s: %w", stack, err)
	}

	if string(status.DetectionStatus) == domain.DetectionFailed {
		logger.Warn().Str("reason", aws.ToString(status.DetectionStatusReason)).Msg("drift detection failed")
		result.DriftStatus = domain.DetectionFailed
		return result, nil
	}

	result.DriftStatus = string(status.StackDriftStatus)
	if result.DriftStatus != domain.DriftStatusDrifted {
		return result, nil
	}

	drifts, err := modifiedResources(ctx, client, stack)
	if err != nil {
		return result, err
	}
	for _, d := range Unacceptable(drifts) {
		logger.Info().
			Str("resource", d.LogicalResourceID).
			Str("type", d.ResourceType).
			Interface("differences", d.Differences).
			Msg("unexplained drift")
	}
	if DiffsAreAcceptable(drifts) {
		result.DriftStatus = domain.DriftStatusInSync
	}
	return result, nil
}

func modifiedResources(ctx context.Context, client cloudformation.DescribeStackResourceDriftsAPIClient, stack string) ([]domain.ResourceDrift, error) {
	paginator := cloudformation.NewDescribeStackResourceDriftsPaginator(client, &cloudformation.DescribeStackResourceDriftsInput{
		StackName:                      aws.String(stack),
		StackResourceDriftStatusFilters: []types.StackResourceDriftStatus{types.StackResourceDriftStatusModified},
	})

	var drifts []domain.ResourceDrift
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe resource drifts for %s: %w", stack, err)
		}
		for _, rd := range page.StackResourceDrifts {
			drift := domain.ResourceDrift{
				LogicalResourceID: aws.ToString(rd.LogicalResourceId),
				ResourceType:      aws.ToString(rd.ResourceType),
			}
			for _, pd := range rd.PropertyDifferences {
				drift.Differences = append(drift.Differences, domain.PropertyDifference{
					Path:     aws.ToString(pd.PropertyPath),
					Expected: aws.ToString(pd.ExpectedValue),
					Actual:   aws.ToString(pd.ActualValue),
				})
			}
			drifts = append(drifts, drift)
		}
	}
	return drifts, nil
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
		lines = append(lines, fmt.Sprintf("%s: %s is '%s'", issue.AccountID, issue.Drift.StackName, issue.Drift.DriftStatus))
	}
	return lines
}

func AssignKeys(issues []domain.Issue) {
	for i := range issues {
		issues[i].PK = fmt.Sprintf("%s-%s", issues[i].AccountID, issues[i].Drift.StackName)
	}
}

// Summarise logs in-sync stacks and reconciles everything else as an issue.
func Summarise(store monitor.IssueStore) runner.Summariser[[]domain.StackCheckResult] {
	return func(ctx context.Context, invocationID string, results [][]domain.StackCheckResult) error {
		var inSync []string
		var issues []domain.Issue
		for _, r := range slices.Concat(results...) {
			if r.DriftStatus == domain.DriftStatusInSync {
				inSync = append(inSync, r.AccountID+"/"+r.StackName)
				continue
			}
			issues = append(issues, domain.NewDriftIssue(r.AccountID, domain.StackDrift{
				StackName:   r.StackName,
				DriftStatus: r.DriftStatus,
			}))
		}
		zerolog.Ctx(ctx).Info().Strs("stacks", inSync).Msg("stacks in sync")

		_, _, err := store.SummariseAndNotify(ctx, invocationID, issues)
		return err
	}
}

func NewJob(accountList []domain.Account, checker *Checker, store monitor.IssueStore) runner.Job {
	return runner.MultiAccount(accountList, checker.CheckAccount, Summarise(store))
}
