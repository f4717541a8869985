package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/streamstop/internal/orchestrator"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what a shutdown would act on",
	Long: `Display the screen sessions, the worker each stream session would have
stopped, and the files waiting in each stream's temp directory.

Nothing is signaled, renamed or moved.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	defer a.close()

	st := a.inspector(cmd.Context()).Inspect(cmd.Context(), a.cfg.NumStreams)

	out := cmd.OutOrStdout()
	if format != formatText {
		return writeStructured(out, format, st)
	}
	renderStatus(out, newPalette(out), st)
	return nil
}

func renderStatus(w io.Writer, p palette, st orchestrator.Status) {
	fmt.Fprintf(w, "%s %s\n\n", p.title.Render("Sessions"),
		p.muted.Render(fmt.Sprintf("(%d streams, %d mover, %d total)", st.Counts.Streams, st.Counts.Mover, st.Counts.Total)))

	rows := make([][]string, 0, len(st.Streams)+len(st.Extra))
	for _, s := range append(append([]orchestrator.StreamStatus(nil), st.Streams...), st.Extra...) {
		rows = append(rows, statusRow(s))
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.muted).
		Headers("STREAM", "CAMERA", "SESSION", "TARGET", "SCORE", "PENDING", "SWEEPABLE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.label.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	fmt.Fprintln(w, t.String())

	for _, s := range st.Streams {
		if s.DirError != "" {
			fmt.Fprintln(w, p.warn.Render(truncate(fmt.Sprintf("stream %d: %s", s.StreamID, s.DirError), p.width)))
		}
	}
}

func statusRow(s orchestrator.StreamStatus) []string {
	session, targetPID, score := "-", "-", "-"
	if s.Session != "" {
		session = s.Session
		if s.Attached {
			session += " *"
		}
	}
	if s.Target != nil {
		targetPID = fmt.Sprintf("%d", s.Target.PID)
		score = fmt.Sprintf("%d", s.Target.Score)
		if s.Target.Fallback {
			targetPID += " (fallback)"
		}
	} else if s.Session != "" {
		targetPID = "none"
	}
	camera := s.Camera
	if camera == "" {
		camera = "-"
	}
	pending := "-"
	if s.DirError == "" {
		pending = fmt.Sprintf("%d", len(s.Pending))
	}
	return []string{
		fmt.Sprintf("%d", s.StreamID),
		camera,
		session,
		targetPID,
		score,
		pending,
		fmt.Sprintf("%d", len(s.Sweepable)),
	}
}
