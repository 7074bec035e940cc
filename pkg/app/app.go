package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"slices"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/notify"
	"github.com/de-tools/account-monitor/pkg/notify/sns"
	"github.com/de-tools/account-monitor/pkg/services/accounts"
	"github.com/de-tools/account-monitor/pkg/services/checkers/drift"
	"github.com/de-tools/account-monitor/pkg/services/checkers/edgestate"
	"github.com/de-tools/account-monitor/pkg/services/checkers/iam"
	"github.com/de-tools/account-monitor/pkg/services/checkers/login"
	"github.com/de-tools/account-monitor/pkg/services/checkers/spend"
	"github.com/de-tools/account-monitor/pkg/services/checkers/uptime"
	"github.com/de-tools/account-monitor/pkg/services/checkers/usage"
	"github.com/de-tools/account-monitor/pkg/services/checks"
	"github.com/de-tools/account-monitor/pkg/services/config"
	"github.com/de-tools/account-monitor/pkg/services/monitor"
	"github.com/de-tools/account-monitor/pkg/services/retry"
	"github.com/de-tools/account-monitor/pkg/services/runner"
	dynamostore "github.com/de-tools/account-monitor/pkg/store/dynamodb"
	duckstore "github.com/de-tools/account-monitor/pkg/store/duckdb"
	"github.com/de-tools/account-monitor/pkg/store/duckdb/records"
	"github.com/rs/zerolog"
)

// Dependencies are the collaborators every job shares.
type Dependencies struct {
	AWS      aws.Config
	Accounts []domain.Account
	Configs  accounts.ConfigProvider
	Notifier notify.Notifier
	// Table may be nil when no issue-tracking job is run.
	Table monitor.Table
}

type App struct {
	settings config.Settings
	deps     Dependencies
	jobs     checks.Registry
	db       *sql.DB
}

// New wires the application from settings, loading the parent AWS config from the
// default credential chain.
func New(ctx context.Context, settings config.Settings) (*App, error) {
	logger := zerolog.Ctx(ctx)

	base, err := accounts.LoadConfig(ctx, settings.Profile, settings.Region)
	if err != nil {
		return nil, err
	}

	accountList, err := config.LoadAccounts(settings)
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier
	if settings.DryRun {
		notifier = notify.NewLogNotifier()
	} else {
		notifier, err = sns.NewPublisherFromConfig(base, settings.AlertsTopic, sns.LogLocation{
			Region: base.Region,
			Group:  settings.LambdaLogGroup,
			Stream: settings.LambdaLogStream,
		})
		if err != nil {
			return nil, err
		}
	}

	deps := Dependencies{
		AWS:      base,
		Accounts: accountList,
		Configs:  accounts.NewAssumer(base, settings.RoleSessionName),
		Notifier: notifier,
	}

	var db *sql.DB
	switch settings.MonitorStore {
	case config.StoreDuckDB:
		db, err = duckstore.NewDB(duckstore.Settings{DbPath: settings.DuckDBPath})
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", settings.DuckDBPath, err)
		}
		deps.Table, err = records.NewTable(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
	default:
		if settings.MonitorTableName != "" {
			deps.Table, err = dynamostore.NewTableFromConfig(base, settings.MonitorTableName)
			if err != nil {
				return nil, err
			}
		}
	}

	a, err := Assemble(settings, deps)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, err
	}
	a.db = db

	logger.Debug().
		Int("accounts", len(accountList)).
		Str("store", settings.MonitorStore).
		Bool("dry_run", settings.DryRun).
		Msg("application wired")
	return a, nil
}

// Assemble registers every job against the given dependencies.
func Assemble(settings config.Settings, deps Dependencies) (*App, error) {
	if deps.Notifier == nil {
		return nil, fmt.Errorf("notifier is nil")
	}
	if deps.Configs == nil {
		deps.Configs = accounts.Static{Config: deps.AWS}
	}

	a := &App{
		settings: settings,
		deps:     deps,
		jobs:     checks.NewRegistry(),
	}

	factories := map[string]checks.Factory{
		iam.MonitorType:       a.iamJob,
		drift.MonitorType:     a.driftJob,
		uptime.MonitorType:    a.uptimeJob,
		usage.MonitorType:     a.usageJob,
		spend.MonitorType:     a.spendJob,
		edgestate.MonitorType: a.edgeStateJob,
	}
	for name, factory := range factories {
		if err := a.jobs.Register(name, factory); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *App) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *App) Settings() config.Settings {
	return a.settings
}

// Jobs lists the scheduled jobs. The login checker is event driven and not listed.
func (a *App) Jobs() []string {
	return a.jobs.List()
}

func (a *App) HasJob(name string) bool {
	return slices.Contains(a.jobs.List(), name)
}

// Run builds and runs the named job. Failures, including ones building the job,
// are reported through the notifier.
func (a *App) Run(ctx context.Context, name, invocationID string) error {
	return runner.Guard(a.deps.Notifier, func(ctx context.Context, invocationID string) error {
		job, err := a.jobs.Create(ctx, name)
		if err != nil {
			return err
		}
		return job(ctx, invocationID)
	})(ctx, invocationID)
}

// HandleLoginEvent checks the CloudTrail files named in an S3 delivery event.
func (a *App) HandleLoginEvent(ctx context.Context, invocationID string, event events.S3Event) error {
	return runner.Guard(a.deps.Notifier, func(ctx context.Context, invocationID string) error {
		checker, err := a.loginChecker()
		if err != nil {
			return err
		}
		return checker.HandleS3Event(ctx, invocationID, event)
	})(ctx, invocationID)
}

// CheckLoginObject checks one CloudTrail file in S3.
func (a *App) CheckLoginObject(ctx context.Context, invocationID, bucket, key string) error {
	return runner.Guard(a.deps.Notifier, func(ctx context.Context, invocationID string) error {
		checker, err := a.loginChecker()
		if err != nil {
			return err
		}
		return checker.CheckObject(ctx, invocationID, bucket, key)
	})(ctx, invocationID)
}

// CheckLoginFile checks a CloudTrail file on local disk, gzipped or not.
func (a *App) CheckLoginFile(ctx context.Context, invocationID, path string) error {
	return runner.Guard(a.deps.Notifier, func(ctx context.Context, invocationID string) error {
		checker, err := a.loginChecker()
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		return checker.CheckReader(ctx, invocationID, f)
	})(ctx, invocationID)
}

func (a *App) loginChecker() (*login.Checker, error) {
	return login.NewChecker(a.settings.IPRanges, a.deps.Notifier, s3.NewFromConfig(a.deps.AWS))
}

func (a *App) poll(params retry.Params) retry.Params {
	params.MaxAttempts = a.settings.PollMaxAttempts
	return params
}

func (a *App) store(def monitor.Definition) (*monitor.Store, error) {
	day, err := a.settings.ReminderDay()
	if err != nil {
		return nil, err
	}
	return monitor.NewStore(a.deps.Table, a.deps.Notifier, def, monitor.WithReminderDay(day))
}

func (a *App) iamJob(context.Context) (runner.Job, error) {
	checker, err := iam.NewChecker(iam.Options{
		Configs:  a.deps.Configs,
		RoleName: a.settings.CrossAccountRole,
		Limits: iam.Limits{
			MaxCredentialAge: a.settings.MaxCredentialAge,
			MaxUnusedDays:    a.settings.MaxUnusedCredentialDays,
		},
		Poll: a.poll(iam.DefaultPoll),
	})
	if err != nil {
		return nil, err
	}
	store, err := a.store(iam.Definition())
	if err != nil {
		return nil, err
	}
	return iam.NewJob(a.deps.Accounts, checker, store), nil
}

func (a *App) driftJob(context.Context) (runner.Job, error) {
	checker, err := drift.NewChecker(drift.Options{
		Configs:       a.deps.Configs,
		RoleName:      a.settings.CrossAccountRole,
		Poll:          a.poll(drift.DefaultPoll),
		RetryCooldown: a.settings.DriftRetryCooldown,
	})
	if err != nil {
		return nil, err
	}
	store, err := a.store(drift.Definition())
	if err != nil {
		return nil, err
	}
	return drift.NewJob(a.deps.Accounts, checker, store), nil
}

func (a *App) uptimeJob(context.Context) (runner.Job, error) {
	checker, err := uptime.NewCheckerFromConfig(a.deps.AWS, a.settings.UptimeThingGroup)
	if err != nil {
		return nil, err
	}
	store, err := a.store(uptime.Definition())
	if err != nil {
		return nil, err
	}
	return uptime.NewJob(checker, store), nil
}

func (a *App) usageJob(context.Context) (runner.Job, error) {
	lookup, err := usage.NewIPInfoClient(a.settings.IPInfoURL, a.settings.IPInfoToken, usage.Countries{
		HighRisk: a.settings.UsageHighRiskCountries,
		Mine:     a.settings.UsageMyCountryCodes,
	})
	if err != nil {
		return nil, err
	}
	m, err := usage.NewMonitor(usage.Options{
		Configs:   a.deps.Configs,
		RoleName:  a.settings.UsageChildRole,
		Days:      a.settings.UsageEventAgeDays,
		Workgroup: a.settings.AthenaWorkgroup,
		Database:  a.settings.AthenaDatabase,
		Poll:      a.poll(usage.DefaultPoll),
		Lookup:    lookup,
		Notifier:  a.deps.Notifier,
	})
	if err != nil {
		return nil, err
	}
	return usage.NewJob(a.deps.Accounts, m), nil
}

func (a *App) spendJob(context.Context) (runner.Job, error) {
	checker, err := spend.NewChecker(spend.Options{
		Configs:  a.deps.Configs,
		RoleName: a.settings.CrossAccountRole,
		Budget:   a.settings.Budget,
	})
	if err != nil {
		return nil, err
	}
	store, err := a.store(spend.Definition())
	if err != nil {
		return nil, err
	}
	return spend.NewJob(a.deps.Accounts, checker, store), nil
}

func (a *App) edgeStateJob(context.Context) (runner.Job, error) {
	checker, err := edgestate.NewChecker(edgestate.Options{
		Client: dynamodb.NewFromConfig(a.deps.AWS),
		Table:  a.settings.TrackingTableName,
		Schema: edgestate.Schema{
			KeyAttribute:     a.settings.TrackingKeyAttribute,
			CheckInAttribute: a.settings.TrackingCheckInAttribute,
		},
		Notifier: a.deps.Notifier,
	})
	if err != nil {
		return nil, err
	}
	return edgestate.NewJob(checker), nil
}
