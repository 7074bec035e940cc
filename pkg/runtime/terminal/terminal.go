package terminal

import (
	"context"
	"io"
	"os"

	"github.com/de-tools/account-monitor/pkg/runtime/terminal/commands"
	"github.com/de-tools/account-monitor/pkg/services/config"
	"github.com/spf13/cobra"
)

// CLI represents the command-line interface
type CLI struct {
	globals *commands.Globals
	load    commands.SettingsLoader
	newApp  commands.AppFactory
	rootCmd *cobra.Command
}

// Options contain configuration for the CLI
type Options struct {
	NewApp       commands.AppFactory
	LoadSettings commands.SettingsLoader
	Output       io.Writer
	Args         []string
}

// NewCLI creates a new CLI instance
func NewCLI(opts Options) *CLI {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.LoadSettings == nil {
		opts.LoadSettings = config.Load
	}

	cli := &CLI{
		globals: &commands.Globals{},
		load:    opts.LoadSettings,
		newApp:  opts.NewApp,
	}

	cli.rootCmd = cli.newRootCmd()
	cli.rootCmd.SetOut(opts.Output)
	if opts.Args != nil {
		cli.rootCmd.SetArgs(opts.Args)
	}
	return cli
}

func (cli *CLI) Execute(ctx context.Context) error {
	return cli.rootCmd.ExecuteContext(ctx)
}

func (cli *CLI) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "monitor",
		Short:         "Cross-account AWS monitoring",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&cli.globals.ConfigPath, "config", "c", "",
		"Optional YAML or JSON settings file; environment variables take precedence")
	cmd.PersistentFlags().BoolVar(&cli.globals.DryRun, "dry-run", false,
		"Log alerts instead of publishing them to SNS")

	cmd.AddCommand(commands.NewJobsCmd(cli.globals, cli.load, cli.newApp))
	cmd.AddCommand(commands.NewRunCmd(cli.globals, cli.load, cli.newApp))
	cmd.AddCommand(commands.NewLoginCmd(cli.globals, cli.load, cli.newApp))
	cmd.AddCommand(commands.NewServeCmd(cli.globals, cli.load, cli.newApp))

	return cmd
}
