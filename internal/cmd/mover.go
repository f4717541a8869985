package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/streamstop/internal/mover"
)

var moverCmd = &cobra.Command{
	Use:   "mover",
	Short: "Run the file mover until interrupted",
	Long: `Watch every stream's temp directory and move finished recordings into
the dated archive as they appear. A periodic sweep catches anything the
watcher missed.

This is the service normally hosted by the rtsp_file_mover screen session.`,
	Args: cobra.NoArgs,
	RunE: runMover,
}

func init() {
	rootCmd.AddCommand(moverCmd)
}

func runMover(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	svc := mover.New(a.relocator, a.streams.All(a.cfg.NumStreams), mover.Options{
		Debounce: a.cfg.Mover.Debounce(),
		Interval: a.cfg.Mover.Interval(),
		Prefix:   a.cfg.Finalize.Prefix,
	}, a.logger)

	if err := svc.Run(cmd.Context()); err != nil {
		return err
	}
	st := svc.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "File mover stopped: %d %s moved in %d %s\n",
		st.Moved, plural(st.Moved, "file"), st.Passes, plural(st.Passes, "sweep"))
	return nil
}
