package iam

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/services/accounts"
	"github.com/de-tools/account-monitor/pkg/services/clock"
	"github.com/de-tools/account-monitor/pkg/services/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, time.June, 13, 12, 0, 0, 0, time.UTC)

var limits = Limits{MaxCredentialAge: 90, MaxUnusedDays: 90}

const header = "user,arn,user_creation_time,password_enabled,password_last_used,password_last_changed," +
	"password_next_rotation,mfa_active,access_key_1_active,access_key_1_last_rotated,access_key_1_last_used_date," +
	"access_key_2_active,access_key_2_last_rotated,access_key_2_last_used_date"

const healthyRoot = "<root_account>,arn:aws:iam::111111111111:root,2020-01-01T00:00:00+00:00,not_supported," +
	"2025-06-01T00:00:00+00:00,not_supported,not_supported,true,false,N/A,N/A,false,N/A,N/A"

func report(lines ...string) []byte {
	return []byte(strings.Join(append([]string{header}, lines...), "\n"))
}

func findings(issues []domain.Issue) []domain.CredentialFinding {
	out := make([]domain.CredentialFinding, 0, len(issues))
	for _, i := range issues {
		out = append(out, *i.Credential)
	}
	return out
}

type mockIAM struct {
	mock.Mock
}

func (m *mockIAM) GenerateCredentialReport(
	ctx context.Context,
	params *iam.GenerateCredentialReportInput,
	_ ...func(*iam.Options),
) (*iam.GenerateCredentialReportOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*iam.GenerateCredentialReportOutput), args.Error(1)
}

func (m *mockIAM) GetCredentialReport(
	ctx context.Context,
	params *iam.GetCredentialReportInput,
	_ ...func(*iam.Options),
) (*iam.GetCredentialReportOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*iam.GetCredentialReportOutput), args.Error(1)
}

func TestParseReport(t *testing.T) {
	rows, err := ParseReport(report(healthyRoot))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsRoot())
	assert.Equal(t, "arn:aws:iam::111111111111:root", rows[0]["arn"])
	assert.Equal(t, "true", rows[0]["mfa_active"])

	rows, err = ParseReport(nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEvaluate(t *testing.T) {
	parse := func(t *testing.T, lines ...string) []Row {
		rows, err := ParseReport(report(lines...))
		require.NoError(t, err)
		return rows
	}

	t.Run("healthy root raises nothing", func(t *testing.T) {
		issues := Evaluate("111111111111", parse(t, healthyRoot), now, limits)
		assert.Empty(t, issues)
	})

	t.Run("root with an active access key", func(t *testing.T) {
		root := strings.Replace(healthyRoot, "true,false,N/A,N/A,false", "true,true,N/A,N/A,false", 1)
		issues := Evaluate("111111111111", parse(t, root), now, limits)

		assert.Equal(t, []domain.CredentialFinding{{
			Resource:  "arn:aws:iam::111111111111:root",
			Attribute: "access_key_1_active",
			Expected:  "false",
			Actual:    "true",
		}}, findings(issues))
		assert.Equal(t, "111111111111", issues[0].AccountID)
		assert.Equal(t, domain.IssueKindCredential, issues[0].Kind)
	})

	t.Run("missing root row", func(t *testing.T) {
		issues := Evaluate("111111111111", nil, now, limits)
		assert.Equal(t, []domain.CredentialFinding{{
			Resource: "rootUsers", Attribute: "length", Expected: "> 0", Actual: "0",
		}}, findings(issues))
	})

	t.Run("console user without mfa and stale password", func(t *testing.T) {
		user := "alice,arn:aws:iam::111111111111:user/alice,2020-01-01T00:00:00+00:00,true," +
			"2025-06-10T00:00:00+00:00,2025-01-01T00:00:00+00:00,N/A,false,false,N/A,N/A,false,N/A,N/A"
		issues := Evaluate("111111111111", parse(t, healthyRoot, user), now, limits)

		assert.Equal(t, []domain.CredentialFinding{
			{Resource: "arn:aws:iam::111111111111:user/alice", Attribute: "mfa_active", Expected: "true", Actual: "false"},
			{Resource: "arn:aws:iam::111111111111:user/alice", Attribute: "password_last_changed", Expected: "less than 90 days ago", Actual: "164"},
		}, findings(issues))
	})

	t.Run("active key never used is flagged", func(t *testing.T) {
		user := "ci,arn:aws:iam::111111111111:user/ci,2025-05-01T00:00:00+00:00,false," +
			"N/A,N/A,N/A,false,true,2025-06-01T00:00:00+00:00,N/A,false,N/A,N/A"
		issues := Evaluate("111111111111", parse(t, healthyRoot, user), now, limits)

		assert.Equal(t, []domain.CredentialFinding{
			{Resource: "arn:aws:iam::111111111111:user/ci", Attribute: "access_key_1_last_used_date", Expected: "less than 90 days ago", Actual: "NaN"},
		}, findings(issues))
	})

	t.Run("inactive keys are ignored", func(t *testing.T) {
		user := "old,arn:aws:iam::111111111111:user/old,2020-01-01T00:00:00+00:00,false," +
			"N/A,N/A,N/A,false,false,2020-01-01T00:00:00+00:00,2020-01-01T00:00:00+00:00,false,N/A,N/A"
		issues := Evaluate("111111111111", parse(t, healthyRoot, user), now, limits)
		assert.Empty(t, issues)
	})
}

func TestAssignKeys_Deterministic(t *testing.T) {
	build := func() []domain.Issue {
		return []domain.Issue{domain.NewCredentialIssue("111111111111", domain.CredentialFinding{
			Resource: "arn:aws:iam::111111111111:root", Attribute: "mfa_active", Expected: "true", Actual: "false",
		})}
	}
	first, second := build(), build()
	AssignKeys(first)
	AssignKeys(second)

	assert.Equal(t, "111111111111-arn:aws:iam::111111111111:root-mfa_active-true", first[0].PK)
	assert.Equal(t, first[0].PK, second[0].PK)
}

func TestFormatIssues(t *testing.T) {
	lines := FormatIssues([]domain.Issue{domain.NewCredentialIssue("111111111111", domain.CredentialFinding{
		Resource: "arn:aws:iam::111111111111:root", Attribute: "mfa_active", Expected: "true", Actual: "false",
	})})
	assert.Equal(t, []string{"111111111111: arn:aws:iam::111111111111:root.mfa_active should be 'true' but was 'false'"}, lines)
}

func TestChecker_CheckAccount(t *testing.T) {
	fast := retry.Params{StartingDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 5}

	t.Run("polls until the report is ready", func(t *testing.T) {
		client := new(mockIAM)
		client.On("GenerateCredentialReport", mock.Anything, mock.Anything).
			Return(&iam.GenerateCredentialReportOutput{}, nil)
		client.On("GetCredentialReport", mock.Anything, mock.Anything).
			Return(nil, errors.New("ReportInProgress")).Twice()
		client.On("GetCredentialReport", mock.Anything, mock.Anything).
			Return(&iam.GetCredentialReportOutput{Content: report(healthyRoot)}, nil).Once()

		checker, err := NewChecker(Options{
			Configs:   accounts.Static{},
			RoleName:  "ParentAccountCliRole",
			Limits:    limits,
			Poll:      fast,
			Clock:     clock.Fixed(now),
			NewClient: func(aws.Config) API { return client },
		})
		require.NoError(t, err)

		issues, err := checker.CheckAccount(context.Background(), domain.Account{ID: "111111111111"})
		require.NoError(t, err)
		assert.Empty(t, issues)
		client.AssertNumberOfCalls(t, "GetCredentialReport", 3)
	})

	t.Run("gives up after the poll budget", func(t *testing.T) {
		client := new(mockIAM)
		client.On("GenerateCredentialReport", mock.Anything, mock.Anything).
			Return(&iam.GenerateCredentialReportOutput{}, nil)
		client.On("GetCredentialReport", mock.Anything, mock.Anything).
			Return(nil, errors.New("ReportInProgress"))

		checker, err := NewChecker(Options{
			Configs:   accounts.Static{},
			Limits:    limits,
			Poll:      fast,
			NewClient: func(aws.Config) API { return client },
		})
		require.NoError(t, err)

		_, err = checker.CheckAccount(context.Background(), domain.Account{ID: "111111111111"})
		assert.ErrorIs(t, err, retry.ErrExhausted)
	})
}

func TestNewChecker(t *testing.T) {
	_, err := NewChecker(Options{Limits: limits})
	assert.Error(t, err)

	_, err = NewChecker(Options{Configs: accounts.Static{}})
	assert.Error(t, err)
}
