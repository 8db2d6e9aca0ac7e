// Package cmd provides the command-line interface of cnet.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/pvbeek/componentnetwork/config"
)

type rootOptions struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string
}

// NewRootCommand creates the cnet command with its subcommands.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "cnet",
		Short: "cnet runs networks of components that talk over connections.",
		Long: `cnet runs networks of components that talk over connections. ` +
			`The run command starts a ring that produces, forwards and ` +
			`verifies numbers. The web command answers HTTP clients.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	flags.StringSliceVar(&opts.envFiles, "env", nil, ".env files to load (default ./.env)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format (text, json)")

	rootCmd.AddCommand(newRunCommand(opts), newWebCommand(opts), newTracesCommand())

	return rootCmd
}

// Execute runs the cnet command and exits the process.
func Execute() {
	err := NewRootCommand().ExecuteContext(context.Background())
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadEnv(o.envFiles...); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}

	return cfg, nil
}

type monitorOptions struct {
	enabled bool
	port    int
	open    bool
}

func (o *monitorOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.enabled, "monitor", false, "serve the monitoring page")
	cmd.Flags().IntVar(&o.port, "monitor-port", 0, "port of the monitoring page")
	cmd.Flags().BoolVar(&o.open, "open", false, "open the monitoring page in a browser")
}

func (o *monitorOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("monitor") {
		cfg.Monitor.Enabled = o.enabled
	}
	if cmd.Flags().Changed("monitor-port") {
		cfg.Monitor.Port = o.port
	}
	if cmd.Flags().Changed("open") {
		cfg.Monitor.OpenBrowser = o.open
		cfg.Monitor.Enabled = cfg.Monitor.Enabled || o.open
	}
}
