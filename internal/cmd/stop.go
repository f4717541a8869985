package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/streamstop/internal/orchestrator"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop all streams and archive their files",
	Long: `Stop every running stream and leave its files archived.

The run discovers the rtsp_streamN screen sessions, stops the worker inside
each one (SIGTERM, then SIGKILL after the grace period), promotes stable
temp_ recordings, moves finished files into <final>/YYYY/MM/DD/HH and then
stops the file mover, media server and companion daemon.

Exit status is 0 when no stream sessions remain and every file was handed
off, 1 otherwise, and 2 when the run could not start.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

var alwaysFinalize bool

func init() {
	stopCmd.Flags().BoolVar(&alwaysFinalize, "always-finalize", false, "finalize and sweep files even when no worker was stopped")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	runID := uuid.NewString()
	lock, err := a.lock(runID)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	summary := a.orchestrator(runID, alwaysFinalize).Run(cmd.Context())

	out := cmd.OutOrStdout()
	if format == formatText {
		renderSummary(out, newPalette(out), summary)
	} else if err := writeStructured(out, format, summary); err != nil {
		return err
	}

	if code := summary.ExitCode(); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

func renderSummary(w io.Writer, p palette, s *orchestrator.Summary) {
	fmt.Fprintln(w, p.title.Render("Shutdown summary"))
	row := func(label, value string) {
		fmt.Fprintf(w, "  %s %s\n", p.label.Render(fmt.Sprintf("%-20s", label+":")), value)
	}
	row("run", p.muted.Render(s.RunID))
	row("stopped", p.count(s.StoppedCount, false))
	if s.FileStagesRun {
		row("files finalized", fmt.Sprintf("%d", s.FilesFinalized))
		row("files relocated", fmt.Sprintf("%d", s.FilesRelocated))
		row("unresolved files", p.count(s.UnresolvedFiles, true))
	} else {
		row("file stages", p.muted.Render("skipped"))
	}
	row("temp files removed", fmt.Sprintf("%d", s.TempFilesRemoved))
	if pids := s.Auxiliary.MediaServerPIDs; len(pids) > 0 {
		state := p.ok.Render("stopped")
		if !s.Auxiliary.MediaServerStopped {
			state = p.fail.Render("still running")
		}
		row("media server", fmt.Sprintf("%s (%s %s)", state, plural(len(pids), "pid"), joinInts(pids)))
	}
	row("remaining sessions", p.count(s.RemainingSessions, true))
	row("duration", s.Duration.Round(time.Millisecond).String())

	if len(s.Targets) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, p.title.Render("Targets"))
		for _, t := range s.Targets {
			note := ""
			if t.Candidate.Fallback {
				note = p.warn.Render(" (fallback)")
			}
			line := fmt.Sprintf("  %-16s pid %-7d score %-4d %s", t.Session, t.Candidate.PID, t.Candidate.Score, t.Candidate.Command)
			fmt.Fprintln(w, truncate(line, p.width-len(" (fallback)"))+note)
		}
	}

	if len(s.Auxiliary.Logs) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, p.title.Render("Stream logs"))
		for _, l := range s.Auxiliary.Logs {
			fmt.Fprintf(w, "  %-20s %s\n", l.Name, humanize.Bytes(uint64(l.Size)))
		}
	}

	if len(s.Failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, p.title.Render("Problems"))
		for _, f := range s.Failures {
			style := p.fail
			if f.Expected {
				style = p.warn
			}
			fmt.Fprintln(w, "  "+style.Render(truncate("["+f.Stage+"] "+f.Message, p.width-2)))
		}
	}

	fmt.Fprintln(w)
	switch {
	case s.Interrupted:
		fmt.Fprintln(w, p.warn.Render("Interrupted: the run stopped early."))
	case s.RemainingSessions > 0:
		fmt.Fprintln(w, p.fail.Render(fmt.Sprintf("%d stream session(s) still running.", s.RemainingSessions)))
		fmt.Fprintln(w, p.muted.Render("  Clean up with: screen -wipe; pkill -f run.py"))
	case s.UnresolvedFiles > 0:
		fmt.Fprintln(w, p.warn.Render(fmt.Sprintf("%d file(s) left in the temp directories.", s.UnresolvedFiles)))
	default:
		fmt.Fprintln(w, p.ok.Render("All streams stopped."))
	}
}

// plural returns word with an "s" unless n is one.
func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// joinInts renders a PID list.
func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ", ")
}
