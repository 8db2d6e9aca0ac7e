package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type runOptions struct {
	interval time.Duration
	limit    int
	capacity int
	record   string
	seqIDs   bool
	monitor  monitorOptions
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the Source, Relay and Terminal ring",
		Long: `Run starts a Source that sends an increasing number every ` +
			`interval through a Relay to a Terminal, which feeds it back to ` +
			`the Source for verification. Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("interval") {
				cfg.Source.Interval = opts.interval
			}
			if flags.Changed("limit") {
				cfg.Source.Limit = opts.limit
			}
			if flags.Changed("capacity") {
				cfg.Source.Capacity = opts.capacity
			}
			if flags.Changed("record") {
				cfg.Log.Record = opts.record
			}
			if flags.Changed("sequential-ids") {
				cfg.Log.SequentialIDs = opts.seqIDs
			}
			opts.monitor.apply(cmd, cfg)

			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := setupLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)

			a, err := newApp(cfg, logger, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			if err := a.buildRing(); err != nil {
				_ = a.shutdown(cmd.Context())
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.serve(ctx)
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&opts.interval, "interval", 0, "time between two values (default 3s)")
	flags.IntVar(&opts.limit, "limit", 0, "stop producing after this many values")
	flags.IntVar(&opts.capacity, "capacity", 0, "bound on values awaiting verification")
	flags.StringVar(&opts.record, "record", "", "store trace lines in <record>.sqlite3")
	flags.BoolVar(&opts.seqIDs, "sequential-ids", false, "number recorded entries 1, 2, 3 instead of using unique ids")
	opts.monitor.addFlags(cmd)

	return cmd
}
