package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pvbeek/componentnetwork/datarecording"
	cnerrors "github.com/pvbeek/componentnetwork/errors"
)

func newTracesCommand() *cobra.Command {
	var (
		component string
		limit     int
		offset    int
	)

	cmd := &cobra.Command{
		Use:   "traces <recording>",
		Short: "Print the trace lines stored by run --record",
		Long: `Traces prints the trace lines of a recording made with ` +
			`run --record, oldest first. The .sqlite3 suffix may be left out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filename := args[0]
			if !strings.HasSuffix(filename, ".sqlite3") {
				filename += ".sqlite3"
			}

			// Opening a missing file would create an empty database.
			if _, err := os.Stat(filename); err != nil {
				return cnerrors.WrapInvalid(err, "cnet", "traces", "open "+filename)
			}

			reader, err := datarecording.OpenTraceReader(filename)
			if err != nil {
				return err
			}
			defer reader.Close()

			params := datarecording.QueryParams{Limit: limit, Offset: offset}
			if component != "" {
				params.Where, params.Args = datarecording.ComponentFilter(component)
			}

			entries, total, err := reader.Query(cmd.Context(), params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintln(out, e.Line())
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d entries\n", len(entries), total)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&component, "component", "", "only show lines of this component")
	flags.IntVar(&limit, "limit", 0, "show at most this many lines")
	flags.IntVar(&offset, "offset", 0, "skip this many lines")

	return cmd
}
