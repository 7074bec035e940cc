package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/notify"
	"github.com/de-tools/account-monitor/pkg/services/accounts"
	"github.com/de-tools/account-monitor/pkg/services/clock"
	"github.com/de-tools/account-monitor/pkg/services/retry"
	"github.com/de-tools/account-monitor/pkg/services/runner"
	"github.com/rs/zerolog"
)

const (
	MonitorType = "usage-monitor"
	Title       = "AWS usage info"

	DefaultRoleName = "usageMonitorDelegate"
	DefaultDays     = 7
)

var DefaultPoll = retry.Params{
	StartingDelay: 2 * time.Second,
	MaxDelay:      60 * time.Second,
}

type Options struct {
	Configs   accounts.ConfigProvider
	RoleName  string
	Days      int
	Workgroup string
	Database  string
	Poll      retry.Params
	Clock     clock.Clock
	Lookup    IPLookup
	Notifier  notify.Notifier

	NewStacks func(cfg aws.Config) cloudformation.DescribeStacksAPIClient
	NewLogs   func(cfg aws.Config) LogsAPI
	NewAthena func(cfg aws.Config) AthenaAPI
}

// Monitor reports traffic seen by every tracked source. It keeps no state between runs.
type Monitor struct {
	opts Options
}

func NewMonitor(opts Options) (*Monitor, error) {
	if opts.Configs == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	if opts.Lookup == nil {
		return nil, fmt.Errorf("ip lookup is nil")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("notifier is nil")
	}
	if opts.Days <= 0 {
		opts.Days = DefaultDays
	}
	if opts.RoleName == "" {
		opts.RoleName = DefaultRoleName
	}
	if opts.Workgroup == "" {
		opts.Workgroup = DefaultWorkgroup
	}
	if opts.Database == "" {
		opts.Database = DefaultDatabase
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.NewStacks == nil {
		opts.NewStacks = func(cfg aws.Config) cloudformation.DescribeStacksAPIClient {
			return cloudformation.NewFromConfig(cfg)
		}
	}
	if opts.NewLogs == nil {
		opts.NewLogs = func(cfg aws.Config) LogsAPI { return cloudwatchlogs.NewFromConfig(cfg) }
	}
	if opts.NewAthena == nil {
		opts.NewAthena = func(cfg aws.Config) AthenaAPI { return athena.NewFromConfig(cfg) }
	}
	return &Monitor{opts: opts}, nil
}

func (m *Monitor) CheckAccount(ctx context.Context, account domain.Account) (domain.UsageResult, error) {
	result := domain.UsageResult{AccountID: account.ID}

	cfg, err := m.opts.Configs.ConfigFor(ctx, account.ID, m.opts.RoleName)
	if err != nil {
		return result, fmt.Errorf("failed to assume role in %s: %w", account.ID, err)
	}

	sources, err := Sources(ctx, m.opts.NewStacks(cfg), account.ID)
	if err != nil {
		return result, err
	}
	window := Window(m.opts.Clock.Now(), m.opts.Days)
	zerolog.Ctx(ctx).Info().
		Int("sources", len(sources)).
		Time("start", window.Start).
		Time("end", window.End).
		Msg("querying usage sources")

	logs := &logQuerier{client: m.opts.NewLogs(cfg), poll: m.opts.Poll, now: m.opts.Clock.Now}
	queries := &athenaQuerier{
		client:    m.opts.NewAthena(cfg),
		workgroup: m.opts.Workgroup,
		database:  m.opts.Database,
		poll:      m.opts.Poll,
	}

	for _, source := range sources {
		var entries []domain.UsageEntry
		switch source.Type {
		case domain.UsageSourceLogGroup:
			entries, err = logs.queryLogGroup(ctx, source, window)
		case domain.UsageSourceCloudFront:
			entries, err = queries.queryCloudFront(ctx, source, window)
		default:
			result.Errors = append(result.Errors, source)
			continue
		}
		if err != nil {
			return result, err
		}
		result.Entries = append(result.Entries, entries...)
	}
	return result, nil
}

// Summarise enriches every address once, logs the detailed report and publishes the aggregated one.
func (m *Monitor) Summarise(ctx context.Context, invocationID string, results []domain.UsageResult) error {
	report := Report{Days: m.opts.Days}
	for _, r := range results {
		report.Entries = append(report.Entries, r.Entries...)
		report.Errors = append(report.Errors, r.Errors...)
	}

	ips, err := m.opts.Lookup.Lookup(ctx, uniqueIPs(report.Entries))
	if err != nil {
		return err
	}
	report.IPs = ips

	zerolog.Ctx(ctx).Info().Str("report", report.Detailed()).Msg("usage details")

	if err := m.opts.Notifier.Publish(ctx, report.Aggregated(), Title, invocationID); err != nil {
		return fmt.Errorf("failed to publish usage report: %w", err)
	}
	return nil
}

func NewJob(accountList []domain.Account, monitor *Monitor) runner.Job {
	return runner.MultiAccount(accountList, monitor.CheckAccount, monitor.Summarise)
}
