package commands

import (
	"context"

	"github.com/de-tools/account-monitor/pkg/services/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Application is what the commands drive.
type Application interface {
	Jobs() []string
	HasJob(name string) bool
	Run(ctx context.Context, name, invocationID string) error
	CheckLoginFile(ctx context.Context, invocationID, path string) error
	CheckLoginObject(ctx context.Context, invocationID, bucket, key string) error
	Close() error
}

type AppFactory func(ctx context.Context, settings config.Settings) (Application, error)

// SettingsLoader reads settings, optionally from the file at path.
type SettingsLoader func(path string) (config.Settings, error)

// Globals are the persistent flags shared by every command.
type Globals struct {
	ConfigPath string
	DryRun     bool
}

func (g *Globals) settings(cmd *cobra.Command, load SettingsLoader) (config.Settings, error) {
	settings, err := load(g.ConfigPath)
	if err != nil {
		return config.Settings{}, err
	}
	if cmd.Flags().Changed("dry-run") {
		settings.DryRun = g.DryRun
	}
	return settings, nil
}

func newInvocationID(given string) string {
	if given != "" {
		return given
	}
	return uuid.NewString()
}
