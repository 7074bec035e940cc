package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

type RunCmd struct {
	globals      *Globals
	load         SettingsLoader
	newApp       AppFactory
	invocationID string
}

func NewRunCmd(globals *Globals, load SettingsLoader, newApp AppFactory) *cobra.Command {
	rc := &RunCmd{globals: globals, load: load, newApp: newApp}
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Run one monitoring job",
		Args:  cobra.ExactArgs(1),
		RunE:  rc.run,
	}

	cmd.Flags().StringVar(&rc.invocationID, "invocation-id", "", "Invocation id used in alerts (default is a random UUID)")

	return cmd
}

func (rc *RunCmd) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	settings, err := rc.globals.settings(cmd, rc.load)
	if err != nil {
		return err
	}

	app, err := rc.newApp(ctx, settings)
	if err != nil {
		return fmt.Errorf("failed to initialise: %w", err)
	}
	defer app.Close()

	name := args[0]
	if !app.HasJob(name) {
		return fmt.Errorf("unknown job %q. Available jobs: %v", name, app.Jobs())
	}

	id := newInvocationID(rc.invocationID)
	if err := app.Run(ctx, name, id); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s finished (invocation %s)\n", name, id)
	return nil
}
