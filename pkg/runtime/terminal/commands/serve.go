package commands

import (
	"fmt"

	"github.com/de-tools/account-monitor/pkg/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type ServeCmd struct {
	globals *Globals
	load    SettingsLoader
	newApp  AppFactory
	addr    string
}

func NewServeCmd(globals *Globals, load SettingsLoader, newApp AppFactory) *cobra.Command {
	sc := &ServeCmd{globals: globals, load: load, newApp: newApp}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job API over HTTP",
		Args:  cobra.NoArgs,
		RunE:  sc.run,
	}

	cmd.Flags().StringVar(&sc.addr, "addr", "", "Listen address (default is SERVER_ADDR or :8080)")

	return cmd
}

func (sc *ServeCmd) run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := zerolog.Ctx(ctx)

	settings, err := sc.globals.settings(cmd, sc.load)
	if err != nil {
		return err
	}
	if sc.addr != "" {
		settings.ServerAddr = sc.addr
	}

	app, err := sc.newApp(ctx, settings)
	if err != nil {
		return fmt.Errorf("failed to initialise: %w", err)
	}
	defer app.Close()

	api := server.NewWebAPI(server.Config{
		Addr: settings.ServerAddr,
		Dependencies: server.Dependencies{
			Jobs:   app,
			Logins: app,
			Logger: *logger,
		},
	})
	return api.Start()
}
