package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWebCommand(root *rootOptions) *cobra.Command {
	var (
		port    int
		monitor monitorOptions
	)

	cmd := &cobra.Command{
		Use:   "web",
		Short: "Answer HTTP clients with what they send",
		Long: `Web serves POST /api/send and answers every request with its ` +
			`own body, logging what it receives. Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("port") {
				for i := range cfg.Connections {
					if cfg.Connections[i].Name == cfg.Web.Connection {
						cfg.Connections[i].Port = port
					}
				}
			}
			monitor.apply(cmd, cfg)

			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := setupLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

			a, err := newApp(cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			if err := a.buildWeb(); err != nil {
				_ = a.shutdown(cmd.Context())
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.serve(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "port of the web connection (default 5000)")
	monitor.addFlags(cmd)

	return cmd
}
