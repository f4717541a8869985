package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/streamstop/internal/target"
)

var treeCmd = &cobra.Command{
	Use:   "tree <session|pid>",
	Short: "Show how the processes under a session are scored",
	Long: `Show every descendant of a screen session (or of any PID) with its depth
and score, in the order the target selector ranks them. The process marked
with > is the one a shutdown would signal.`,
	Args: cobra.ExactArgs(1),
	RunE: runTree,
}

func init() {
	rootCmd.AddCommand(treeCmd)
}

// treeView is the structured form of the tree command's output.
type treeView struct {
	Root       int                `json:"root" yaml:"root"`
	Session    string             `json:"session,omitempty" yaml:"session,omitempty"`
	Selected   *target.Candidate  `json:"selected,omitempty" yaml:"selected,omitempty"`
	Candidates []target.Candidate `json:"candidates" yaml:"candidates"`
}

func runTree(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	defer a.close()

	view := treeView{}
	if pid, err := strconv.Atoi(args[0]); err == nil {
		view.Root = pid
	} else {
		sess, ok := a.sessions.Find(cmd.Context(), args[0])
		if !ok {
			return &ExitError{Code: 1, Err: fmt.Errorf("no screen session named %s", args[0])}
		}
		view.Root = sess.PID
		view.Session = sess.Name
	}

	tree := a.indexer.Build(cmd.Context())
	view.Candidates = target.Rank(tree, view.Root, scoringTable(a.cfg.Selector.Rules))
	if cand, ok := a.selector.SelectIn(tree, view.Root); ok {
		view.Selected = &cand
	}

	out := cmd.OutOrStdout()
	if format != formatText {
		return writeStructured(out, format, view)
	}
	renderTree(out, newPalette(out), view)
	return nil
}

func renderTree(w io.Writer, p palette, v treeView) {
	title := fmt.Sprintf("Descendants of %d", v.Root)
	if v.Session != "" {
		title += " (" + v.Session + ")"
	}
	fmt.Fprintln(w, p.title.Render(title))
	if len(v.Candidates) == 0 {
		fmt.Fprintln(w, p.muted.Render("  no descendant processes"))
		return
	}

	fmt.Fprintln(w, p.label.Render(fmt.Sprintf("  %-8s %-6s %-6s %s", "PID", "DEPTH", "SCORE", "COMMAND")))
	for _, c := range v.Candidates {
		marker := " "
		if v.Selected != nil && v.Selected.PID == c.PID {
			marker = ">"
		}
		line := fmt.Sprintf("%s %-8d %-6d %-6d %s", marker, c.PID, c.Depth, c.Score, c.Command)
		line = truncate(line, p.width)
		switch {
		case marker == ">":
			line = p.ok.Render(line)
		case c.Score < 0:
			line = p.muted.Render(line)
		}
		fmt.Fprintln(w, line)
	}
	if v.Selected != nil && v.Selected.Fallback {
		fmt.Fprintln(w, p.warn.Render("  no process scored positively; the deepest one was chosen"))
	}
	if v.Selected == nil {
		fmt.Fprintln(w, p.warn.Render("  no target would be chosen"))
	}
}
