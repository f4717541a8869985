package cmd

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/streamstop/internal/finalize"
	"github.com/Iron-Ham/streamstop/internal/stream"
	"github.com/Iron-Ham/streamstop/internal/sweep"
)

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Promote stable in-progress files without stopping anything",
	Long: `Rename temp_<name> recordings to <name> once their size has stopped
changing and no process holds them open. Unstable, open or conflicting
files are left in place.`,
	Args: cobra.NoArgs,
	RunE: runFinalize,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Move finished files into the dated archive",
	Long: `Move finished recordings from each stream's temp directory into
<final>/YYYY/MM/DD/HH, derived from the _YYMMDD_HHMMSS part of the name.
Passes repeat until one moves nothing or --passes is reached.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

var (
	fileStream  int
	sweepPasses int
)

func init() {
	finalizeCmd.Flags().IntVar(&fileStream, "stream", 0, "only this stream index (default all)")
	sweepCmd.Flags().IntVar(&fileStream, "stream", 0, "only this stream index (default all)")
	sweepCmd.Flags().IntVar(&sweepPasses, "passes", 0, "maximum sweep passes (default sweep.max_passes)")
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(sweepCmd)
}

// selectStreams returns every configured stream, or only the one requested.
func selectStreams(loader *stream.Loader, n, only int) ([]stream.Config, error) {
	if only == 0 {
		return loader.All(n), nil
	}
	if only < 0 || only > n {
		return nil, fmt.Errorf("stream %d is outside 1..%d", only, n)
	}
	return []stream.Config{loader.Get(only)}, nil
}

func runFinalize(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	cfgs, err := selectStreams(a.streams, a.cfg.NumStreams, fileStream)
	if err != nil {
		return err
	}
	lock, err := a.lock(uuid.NewString())
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	results := make([]finalize.Result, 0, len(cfgs))
	skipped := 0
	for _, cfg := range cfgs {
		if cmd.Context().Err() != nil {
			break
		}
		r := a.finalizer.ProcessTempFiles(cmd.Context(), cfg)
		skipped += len(r.Skipped)
		results = append(results, r)
	}

	out := cmd.OutOrStdout()
	if format != formatText {
		if err := writeStructured(out, format, results); err != nil {
			return err
		}
	} else {
		renderFinalize(out, newPalette(out), results)
	}
	if skipped > 0 || cmd.Context().Err() != nil {
		return &ExitError{Code: 1}
	}
	return nil
}

func renderFinalize(w io.Writer, p palette, results []finalize.Result) {
	total := 0
	for _, r := range results {
		total += r.Processed
		for _, name := range r.Renamed {
			fmt.Fprintf(w, "  stream %d  %s\n", r.StreamID, p.ok.Render(name))
		}
		for _, s := range r.Skipped {
			fmt.Fprintf(w, "  stream %d  %s %s\n", r.StreamID, p.warn.Render(s.Name), p.muted.Render("("+string(s.Reason)+")"))
		}
		if r.Err != nil {
			fmt.Fprintf(w, "  stream %d  %s\n", r.StreamID, p.muted.Render(truncate(r.Err.Error(), p.width-12)))
		}
	}
	fmt.Fprintf(w, "%d %s finalized\n", total, plural(total, "file"))
}

func runSweep(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	cfgs, err := selectStreams(a.streams, a.cfg.NumStreams, fileStream)
	if err != nil {
		return err
	}
	lock, err := a.lock(uuid.NewString())
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	passes := sweepPasses
	if passes <= 0 {
		passes = a.cfg.Sweep.MaxPasses
	}
	drain := a.relocator.SweepUntilQuiescent(cmd.Context(), cfgs, passes)

	out := cmd.OutOrStdout()
	if format != formatText {
		if err := writeStructured(out, format, drainView{Drain: drain, Results: drain.Results}); err != nil {
			return err
		}
	} else {
		renderDrain(out, newPalette(out), drain)
	}
	if !drain.Quiescent || leftovers(drain, len(cfgs)) > 0 {
		return &ExitError{Code: 1}
	}
	return nil
}

// drainView exposes the per-pass results that Drain hides from encoders.
type drainView struct {
	sweep.Drain `yaml:",inline"`
	Results     []sweep.Result `json:"results" yaml:"results"`
}

// leftovers counts conflicts and failures in the last pass.
func leftovers(d sweep.Drain, streams int) int {
	last := d.Results
	if len(last) > streams {
		last = last[len(last)-streams:]
	}
	n := 0
	for _, r := range last {
		n += len(r.Conflicts) + len(r.Failed)
	}
	return n
}

func renderDrain(w io.Writer, p palette, d sweep.Drain) {
	for _, r := range d.Results {
		for _, m := range r.Moved {
			fmt.Fprintf(w, "  stream %d  %s -> %s\n", r.StreamID, m.Name, p.muted.Render(m.Dest))
		}
	}
	status := p.ok.Render("quiescent")
	if !d.Quiescent {
		status = p.warn.Render("still moving")
	}
	passes := "passes"
	if d.Passes == 1 {
		passes = "pass"
	}
	fmt.Fprintf(w, "%d %s moved in %d %s, %s\n", d.Moved, plural(d.Moved, "file"), d.Passes, passes, status)
}
