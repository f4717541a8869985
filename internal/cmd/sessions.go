package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List screen sessions",
	Long: `List the screen sessions with their kind: stream sessions are named
<prefix><N>, the file mover has its own name, everything else is "other".`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

var sessionsQuitCmd = &cobra.Command{
	Use:   "quit <name>",
	Short: "Quit one screen session",
	Long: `Send quit to the named screen session and wait for it to disappear.
A session that is already gone counts as quit.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsQuit,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsQuitCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	defer a.close()

	sessions := a.sessions.List(cmd.Context())
	out := cmd.OutOrStdout()
	if format != formatText {
		return writeStructured(out, format, sessions)
	}

	p := newPalette(out)
	if len(sessions) == 0 {
		fmt.Fprintln(out, p.muted.Render("No screen sessions."))
		return nil
	}
	for _, s := range sessions {
		attached := ""
		switch {
		case s.Dead:
			attached = p.fail.Render(" (dead)")
		case s.Attached:
			attached = p.warn.Render(" (attached)")
		}
		fmt.Fprintf(out, "  %-8d %-24s %s%s\n", s.PID, s.Name, p.label.Render(s.Kind.String()), attached)
	}
	fmt.Fprintf(out, "\n%d %s\n", len(sessions), plural(len(sessions), "session"))
	return nil
}

func runSessionsQuit(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	name := args[0]
	if !a.sessions.StopSession(cmd.Context(), name) {
		return &ExitError{Code: 1, Err: fmt.Errorf("session %s is still running", name)}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s stopped\n", name)
	return nil
}
