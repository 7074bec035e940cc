package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type JobsCmd struct {
	globals *Globals
	load    SettingsLoader
	newApp  AppFactory
}

func NewJobsCmd(globals *Globals, load SettingsLoader, newApp AppFactory) *cobra.Command {
	jc := &JobsCmd{globals: globals, load: load, newApp: newApp}
	return &cobra.Command{
		Use:   "jobs",
		Short: "List the scheduled monitoring jobs",
		Args:  cobra.NoArgs,
		RunE:  jc.run,
	}
}

func (jc *JobsCmd) run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	settings, err := jc.globals.settings(cmd, jc.load)
	if err != nil {
		return err
	}

	app, err := jc.newApp(ctx, settings)
	if err != nil {
		return fmt.Errorf("failed to initialise: %w", err)
	}
	defer app.Close()

	jobs := app.Jobs()
	if len(jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No jobs registered")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Available jobs:\n%s\n", strings.Join(jobs, "\n"))
	return nil
}
