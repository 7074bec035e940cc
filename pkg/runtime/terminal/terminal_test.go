package terminal

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/de-tools/account-monitor/pkg/runtime/terminal/commands"
	"github.com/de-tools/account-monitor/pkg/services/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockApp struct {
	mock.Mock
}

func (m *mockApp) Jobs() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *mockApp) HasJob(name string) bool {
	args := m.Called(name)
	return args.Bool(0)
}

func (m *mockApp) Run(ctx context.Context, name, invocationID string) error {
	args := m.Called(ctx, name, invocationID)
	return args.Error(0)
}

func (m *mockApp) CheckLoginFile(ctx context.Context, invocationID, path string) error {
	args := m.Called(ctx, invocationID, path)
	return args.Error(0)
}

func (m *mockApp) CheckLoginObject(ctx context.Context, invocationID, bucket, key string) error {
	args := m.Called(ctx, invocationID, bucket, key)
	return args.Error(0)
}

func (m *mockApp) Close() error {
	return nil
}

type fixture struct {
	app      *mockApp
	out      *bytes.Buffer
	settings *config.Settings
	path     *string
}

func setupFixture(t *testing.T, args ...string) (*CLI, fixture) {
	t.Helper()
	f := fixture{
		app:      new(mockApp),
		out:      new(bytes.Buffer),
		settings: new(config.Settings),
		path:     new(string),
	}
	cli := NewCLI(Options{
		NewApp: func(_ context.Context, settings config.Settings) (commands.Application, error) {
			*f.settings = settings
			return f.app, nil
		},
		LoadSettings: func(path string) (config.Settings, error) {
			*f.path = path
			return config.Settings{Region: "eu-west-2"}, nil
		},
		Output: f.out,
		Args:   args,
	})
	return cli, f
}

func TestCLI_Run(t *testing.T) {
	cli, f := setupFixture(t, "run", "iam-checker", "--invocation-id", "inv-1", "--dry-run", "--config", "monitor.yaml")
	f.app.On("HasJob", "iam-checker").Return(true)
	f.app.On("Run", mock.Anything, "iam-checker", "inv-1").Return(nil)

	require.NoError(t, cli.Execute(context.Background()))

	assert.Equal(t, "monitor.yaml", *f.path)
	assert.True(t, f.settings.DryRun)
	assert.Equal(t, "iam-checker finished (invocation inv-1)\n", f.out.String())
	f.app.AssertExpectations(t)
}

func TestCLI_RunGeneratesInvocationID(t *testing.T) {
	cli, f := setupFixture(t, "run", "uptime-checker")
	f.app.On("HasJob", "uptime-checker").Return(true)
	f.app.On("Run", mock.Anything, "uptime-checker", mock.MatchedBy(func(id string) bool {
		return len(id) == 36
	})).Return(nil)

	require.NoError(t, cli.Execute(context.Background()))
	assert.False(t, f.settings.DryRun)
	f.app.AssertExpectations(t)
}

func TestCLI_RunUnknownJob(t *testing.T) {
	cli, f := setupFixture(t, "run", "nope")
	f.app.On("HasJob", "nope").Return(false)
	f.app.On("Jobs").Return([]string{"iam-checker"})

	err := cli.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown job "nope"`)
	f.app.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestCLI_RunFailure(t *testing.T) {
	cli, f := setupFixture(t, "run", "iam-checker", "--invocation-id", "inv-2")
	f.app.On("HasJob", "iam-checker").Return(true)
	f.app.On("Run", mock.Anything, "iam-checker", "inv-2").Return(errors.New("denied"))

	assert.EqualError(t, cli.Execute(context.Background()), "denied")
}

func TestCLI_Jobs(t *testing.T) {
	cli, f := setupFixture(t, "jobs")
	f.app.On("Jobs").Return([]string{"cfn-drift-checker", "iam-checker"})

	require.NoError(t, cli.Execute(context.Background()))
	assert.Equal(t, "Available jobs:\ncfn-drift-checker\niam-checker\n", f.out.String())
}

func TestCLI_Login(t *testing.T) {
	t.Run("local file", func(t *testing.T) {
		cli, f := setupFixture(t, "login", "--file", "trail.json.gz", "--invocation-id", "inv-3")
		f.app.On("CheckLoginFile", mock.Anything, "inv-3", "trail.json.gz").Return(nil)

		require.NoError(t, cli.Execute(context.Background()))
		f.app.AssertExpectations(t)
	})

	t.Run("s3 object", func(t *testing.T) {
		cli, f := setupFixture(t, "login", "--bucket", "trail", "--key", "a.json.gz", "--invocation-id", "inv-4")
		f.app.On("CheckLoginObject", mock.Anything, "inv-4", "trail", "a.json.gz").Return(nil)

		require.NoError(t, cli.Execute(context.Background()))
		f.app.AssertExpectations(t)
	})

	t.Run("no source", func(t *testing.T) {
		cli, _ := setupFixture(t, "login")
		assert.Error(t, cli.Execute(context.Background()))
	})
}
