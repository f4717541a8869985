package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --output.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// defaultWidth is used when stdout is not a terminal.
const defaultWidth = 120

// ExitError carries a process exit status out of a command. A nil Err means
// the command already reported the problem.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error to a process exit status: 0 on success, the
// carried code for an ExitError, and 2 for anything unexpected.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*ExitError); ok {
		return exitErr.Code
	}
	return 2
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "", formatText:
		return formatText, nil
	case formatJSON, formatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("invalid output format %q: expected text, json or yaml", format)
	}
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

// palette holds the styles used for text output.
type palette struct {
	title lipgloss.Style
	label lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	fail  lipgloss.Style
	muted lipgloss.Style
	width int
}

// newPalette styles output for w. Colors are dropped unless w is a terminal.
func newPalette(w io.Writer) palette {
	r := lipgloss.NewRenderer(w)
	width := defaultWidth
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if tw, _, err := term.GetSize(int(f.Fd())); err == nil && tw > 0 {
			width = tw
		}
	} else {
		r.SetColorProfile(termenv.Ascii)
	}
	return palette{
		title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA")),
		label: r.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
		ok:    r.NewStyle().Foreground(lipgloss.Color("#10B981")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		fail:  r.NewStyle().Foreground(lipgloss.Color("#F87171")),
		muted: r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		width: width,
	}
}

// truncate shortens s to width visible columns.
func truncate(s string, width int) string {
	if width <= 3 {
		return "..."
	}
	return ansi.Truncate(s, width, "...")
}

// count renders n with the ok style when zero is good, else warn.
func (p palette) count(n int, zeroIsGood bool) string {
	s := fmt.Sprintf("%d", n)
	if (n == 0) == zeroIsGood {
		return p.ok.Render(s)
	}
	return p.warn.Render(s)
}
