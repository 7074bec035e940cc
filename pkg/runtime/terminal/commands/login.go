package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

type LoginCmd struct {
	globals      *Globals
	load         SettingsLoader
	newApp       AppFactory
	file         string
	bucket       string
	key          string
	invocationID string
}

func NewLoginCmd(globals *Globals, load SettingsLoader, newApp AppFactory) *cobra.Command {
	lc := &LoginCmd{globals: globals, load: load, newApp: newApp}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check a CloudTrail log file for console logins from unexpected addresses",
		Args:  cobra.NoArgs,
		RunE:  lc.run,
	}

	cmd.Flags().StringVar(&lc.file, "file", "", "Local CloudTrail log file, gzipped or plain JSON")
	cmd.Flags().StringVar(&lc.bucket, "bucket", "", "S3 bucket holding the log file")
	cmd.Flags().StringVar(&lc.key, "key", "", "S3 key of the log file")
	cmd.Flags().StringVar(&lc.invocationID, "invocation-id", "", "Invocation id used in alerts (default is a random UUID)")

	cmd.MarkFlagsMutuallyExclusive("file", "bucket")
	cmd.MarkFlagsRequiredTogether("bucket", "key")

	return cmd
}

func (lc *LoginCmd) run(cmd *cobra.Command, _ []string) error {
	if lc.file == "" && lc.bucket == "" {
		return errors.New("either --file or --bucket and --key are required")
	}

	ctx := cmd.Context()

	settings, err := lc.globals.settings(cmd, lc.load)
	if err != nil {
		return err
	}

	app, err := lc.newApp(ctx, settings)
	if err != nil {
		return fmt.Errorf("failed to initialise: %w", err)
	}
	defer app.Close()

	id := newInvocationID(lc.invocationID)
	if lc.file != "" {
		return app.CheckLoginFile(ctx, id, lc.file)
	}
	return app.CheckLoginObject(ctx, id, lc.bucket, lc.key)
}
