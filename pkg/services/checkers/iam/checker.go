package iam

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/services/accounts"
	"github.com/de-tools/account-monitor/pkg/services/clock"
	"github.com/de-tools/account-monitor/pkg/services/monitor"
	"github.com/de-tools/account-monitor/pkg/services/retry"
	"github.com/de-tools/account-monitor/pkg/services/runner"
	"github.com/rs/zerolog"
)

const (
	MonitorType = "iam-checker"
	Label       = "IAM"

	dayInMillis = 24 * 60 * 60 * 1000
)

var DefaultPoll = retry.Params{
	StartingDelay: 4 * time.Second,
	MaxDelay:      65 * time.Second,
}

type API interface {
	GenerateCredentialReport(
		ctx context.Context,
		params *iam.GenerateCredentialReportInput,
		optFns ...func(*iam.Options),
	) (*iam.GenerateCredentialReportOutput, error)
	GetCredentialReport(
		ctx context.Context,
		params *iam.GetCredentialReportInput,
		optFns ...func(*iam.Options),
	) (*iam.GetCredentialReportOutput, error)
}

// Limits are in days.
type Limits struct {
	MaxCredentialAge int
	MaxUnusedDays    int
}

type Options struct {
	Configs   accounts.ConfigProvider
	RoleName  string
	Limits    Limits
	Poll      retry.Params
	Clock     clock.Clock
	NewClient func(cfg aws.Config) API
}

type Checker struct {
	configs   accounts.ConfigProvider
	roleName  string
	limits    Limits
	poll      retry.Params
	clock     clock.Clock
	newClient func(cfg aws.Config) API
}

func NewChecker(opts Options) (*Checker, error) {
	if opts.Configs == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	if opts.Limits.MaxCredentialAge <= 0 || opts.Limits.MaxUnusedDays <= 0 {
		return nil, fmt.Errorf("credential limits must be positive")
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.NewClient == nil {
		opts.NewClient = func(cfg aws.Config) API { return iam.NewFromConfig(cfg) }
	}
	return &Checker{
		configs:   opts.Configs,
		roleName:  opts.RoleName,
		limits:    opts.Limits,
		poll:      opts.Poll,
		clock:     opts.Clock,
		newClient: opts.NewClient,
	}, nil
}

func (c *Checker) CheckAccount(ctx context.Context, account domain.Account) ([]domain.Issue, error) {
	cfg, err := c.configs.ConfigFor(ctx, account.ID, c.roleName)
	if err != nil {
		return nil, fmt.Errorf("failed to assume role in %s: %w", account.ID, err)
	}
	client := c.newClient(cfg)

	content, err := c.fetchReport(ctx, client)
	if err != nil {
		return nil, err
	}

	rows, err := ParseReport(content)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Debug().Int("rows", len(rows)).Msg("credential report parsed")

	return Evaluate(account.ID, rows, c.clock.Now(), c.limits), nil
}

func (c *Checker) fetchReport(ctx context.Context, client API) ([]byte, error) {
	_, err := retry.Do(ctx, c.poll, func(ctx context.Context) (*iam.GenerateCredentialReportOutput, error) {
		return client.GenerateCredentialReport(ctx, &iam.GenerateCredentialReportInput{})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate credential report: %w", err)
	}

	// GetCredentialReport fails with ReportInProgress/NotPresent until generation completes.
	report, err := retry.Do(ctx, c.poll, func(ctx context.Context) (*iam.GetCredentialReportOutput, error) {
		return client.GetCredentialReport(ctx, &iam.GetCredentialReportInput{})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get credential report: %w", err)
	}
	return report.Content, nil
}

// Evaluate turns every failed hygiene rule into an issue. It never fails.
func Evaluate(accountID string, rows []Row, now time.Time, limits Limits) []domain.Issue {
	var issues []domain.Issue
	check := func(resource, attribute, expected, actual string) {
		if expected != actual {
			issues = append(issues, domain.NewCredentialIssue(accountID, domain.CredentialFinding{
				Resource:  resource,
				Attribute: attribute,
				Expected:  expected,
				Actual:    actual,
			}))
		}
	}

	var roots, users []Row
	for _, row := range rows {
		if row.IsRoot() {
			roots = append(roots, row)
		} else {
			users = append(users, row)
		}
	}

	if len(roots) == 0 {
		check("rootUsers", "length", "> 0", strconv.Itoa(len(roots)))
	}

	for _, root := range roots {
		check(root["arn"], "access_key_1_active", "false", root["access_key_1_active"])
		check(root["arn"], "access_key_2_active", "false", root["access_key_2_active"])
		check(root["arn"], "mfa_active", "true", root["mfa_active"])
	}

	recentWithin := func(user Row, attribute string, maxDays int) {
		age, ok := ageInDays(user[attribute], now)
		if !ok || age >= float64(maxDays) {
			check(user["arn"], attribute, fmt.Sprintf("less than %d days ago", maxDays), formatAge(age, ok))
		}
	}

	for _, user := range users {
		if user["password_enabled"] == "true" {
			check(user["arn"], "mfa_active", "true", user["mfa_active"])
		}
	}

	for _, user := range users {
		if user["password_enabled"] == "true" {
			recentWithin(user, "password_last_changed", limits.MaxCredentialAge)
			recentWithin(user, "password_last_used", limits.MaxUnusedDays)
		}
		for _, key := range []string{"access_key_1", "access_key_2"} {
			if user[key+"_active"] == "true" {
				recentWithin(user, key+"_last_rotated", limits.MaxCredentialAge)
				recentWithin(user, key+"_last_used_date", limits.MaxUnusedDays)
			}
		}
	}

	return issues
}

// ageInDays rounds to the nearest whole day, halves up. Values such as "N/A"
// or "no_information" report ok=false.
func ageInDays(value string, now time.Time) (float64, bool) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return math.NaN(), false
	}
	return math.Floor(float64(now.Sub(t).Milliseconds())/dayInMillis + 0.5), true
}

func formatAge(age float64, ok bool) string {
	if !ok {
		return "NaN"
	}
	return strconv.FormatFloat(age, 'f', -1, 64)
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
		f := issue.Credential
		lines = append(lines, fmt.Sprintf("%s: %s.%s should be '%s' but was '%s'",
			issue.AccountID, f.Resource, f.Attribute, f.Expected, f.Actual))
	}
	return lines
}

func AssignKeys(issues []domain.Issue) {
	for i := range issues {
		f := issues[i].Credential
		issues[i].PK = fmt.Sprintf("%s-%s-%s-%s", issues[i].AccountID, f.Resource, f.Attribute, f.Expected)
	}
}

func NewJob(accountList []domain.Account, checker *Checker, store monitor.IssueStore) runner.Job {
	return runner.MultiAccount(accountList, checker.CheckAccount, monitor.Summarise(store))
}
