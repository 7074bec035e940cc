package spend

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/services/accounts"
	"github.com/de-tools/account-monitor/pkg/services/clock"
	"github.com/de-tools/account-monitor/pkg/services/monitor"
	"github.com/de-tools/account-monitor/pkg/services/runner"
	"github.com/rs/zerolog"
)

const (
	MonitorType = "spend-checker"
	Label       = "SPEND"

	// Cost Explorer is only served from us-east-1.
	costExplorerRegion = "us-east-1"

	costMetric = "UnblendedCost"
	dateFormat = "2006-01-02"
)

type API interface {
	GetCostAndUsage(
		ctx context.Context,
		params *costexplorer.GetCostAndUsageInput,
		optFns ...func(*costexplorer.Options),
	) (*costexplorer.GetCostAndUsageOutput, error)
}

type Options struct {
	Configs   accounts.ConfigProvider
	RoleName  string
	Budget    float64
	Clock     clock.Clock
	NewClient func(cfg aws.Config) API
}

type Checker struct {
	configs   accounts.ConfigProvider
	roleName  string
	budget    float64
	clock     clock.Clock
	newClient func(cfg aws.Config) API
}

func NewChecker(opts Options) (*Checker, error) {
	if opts.Configs == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	if opts.Budget <= 0 {
		return nil, fmt.Errorf("monthly budget must be positive")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.NewClient == nil {
		opts.NewClient = func(cfg aws.Config) API {
			return costexplorer.NewFromConfig(cfg, func(o *costexplorer.Options) {
				o.Region = costExplorerRegion
			})
		}
	}
	return &Checker{
		configs:   opts.Configs,
		roleName:  opts.RoleName,
		budget:    opts.Budget,
		clock:     opts.Clock,
		newClient: opts.NewClient,
	}, nil
}

// MonthToDate returns the query interval for the current month. The end date is exclusive.
func MonthToDate(now time.Time) *types.DateInterval {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return &types.DateInterval{
		Start: aws.String(start.Format(dateFormat)),
		End:   aws.String(end.Format(dateFormat)),
	}
}

func (c *Checker) CheckAccount(ctx context.Context, account domain.Account) ([]domain.Issue, error) {
	logger := zerolog.Ctx(ctx)

	cfg, err := c.configs.ConfigFor(ctx, account.ID, c.roleName)
	if err != nil {
		return nil, fmt.Errorf("failed to assume role in %s: %w", account.ID, err)
	}
	client := c.newClient(cfg)

	now := c.clock.Now()
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod:  MonthToDate(now),
		Granularity: types.GranularityMonthly,
		Metrics:     []string{costMetric},
		Filter: &types.Expression{
			Not: &types.Expression{
				Dimensions: &types.DimensionValues{
					Key:    types.DimensionRecordType,
					Values: []string{"Credit", "Refund"},
				},
			},
		},
		GroupBy: []types.GroupDefinition{
			{
				Type: types.GroupDefinitionTypeDimension,
				Key:  aws.String("SERVICE"),
			},
		},
	}

	var total float64
	currency := "USD"
	byService := make(map[string]float64)
	for {
		result, err := client.GetCostAndUsage(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to get cost and usage: %w", err)
		}
		for _, resultByTime := range result.ResultsByTime {
			for _, group := range resultByTime.Groups {
				metric, ok := group.Metrics[costMetric]
				if !ok || metric.Amount == nil {
					continue
				}
				amount, err := strconv.ParseFloat(*metric.Amount, 64)
				if err != nil {
					return nil, fmt.Errorf("failed to parse cost amount %q: %w", *metric.Amount, err)
				}
				if metric.Unit != nil {
					currency = *metric.Unit
				}
				total += amount
				if len(group.Keys) > 0 {
					byService[group.Keys[0]] += amount
				}
			}
		}
		if result.NextPageToken == nil {
			break
		}
		input.NextPageToken = result.NextPageToken
	}

	logger.Info().
		Float64("month_to_date", total).
		Float64("budget", c.budget).
		Interface("services", byService).
		Msg("spend calculated")

	if total <= c.budget {
		return nil, nil
	}
	return []domain.Issue{domain.NewSpendIssue(account.ID, domain.SpendOverrun{
		Period:   now.UTC().Format("2006-01"),
		Budget:   c.budget,
		Actual:   total,
		Currency: currency,
	})}, nil
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
		s := issue.Spend
		lines = append(lines, fmt.Sprintf("%s: %s spend of %.2f %s is over the budget of %.2f %s",
			issue.AccountID, s.Period, s.Actual, s.Currency, s.Budget, s.Currency))
	}
	return lines
}

// AssignKeys keys by month so an overrun is raised once and resolves when the month rolls over.
func AssignKeys(issues []domain.Issue) {
	for i := range issues {
		issues[i].PK = fmt.Sprintf("%s-%s", issues[i].AccountID, issues[i].Spend.Period)
	}
}

func NewJob(accountList []domain.Account, checker *Checker, store monitor.IssueStore) runner.Job {
	return runner.MultiAccount(accountList, checker.CheckAccount, monitor.Summarise(store))
}
