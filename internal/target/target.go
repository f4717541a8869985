// Package target picks the process to signal for a stream session.
//
// A screen session's own PID is never the worker: the recorder runs a few
// generations below it, usually behind a shell and a runner tool. Every
// descendant of the session PID is scored against a table of command-line
// markers and the best one is chosen.
package target

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Iron-Ham/streamstop/internal/logging"
	"github.com/Iron-Ham/streamstop/internal/proctree"
)

// MatchMode controls how a Rule's token is compared with a command line.
type MatchMode string

const (
	// MatchSubstring matches the token anywhere in the command line.
	MatchSubstring MatchMode = "substring"
	// MatchWord matches a whitespace-separated argument equal to the token,
	// or whose path basename equals the token.
	MatchWord MatchMode = "word"
)

// Rule assigns Weight to command lines containing Token.
type Rule struct {
	Token  string    `mapstructure:"token" json:"token" yaml:"token"`
	Weight int       `mapstructure:"weight" json:"weight" yaml:"weight"`
	Mode   MatchMode `mapstructure:"mode" json:"mode" yaml:"mode"`
}

// Matches reports whether cmd contains the rule's token.
func (r Rule) Matches(cmd string) bool {
	if r.Token == "" {
		return false
	}
	if r.Mode == MatchWord {
		for _, f := range strings.Fields(cmd) {
			if f == r.Token || filepath.Base(f) == r.Token {
				return true
			}
		}
		return false
	}
	return strings.Contains(cmd, r.Token)
}

// Table is an ordered set of scoring rules. Each rule contributes at most once.
type Table []Rule

// DefaultTable returns the scoring rules for the RTSP recorder:
// the worker entry point, its interpreter and runner tool score positively;
// shells, screen and process inspection tools are penalized.
func DefaultTable() Table {
	return Table{
		{Token: "run.py", Weight: 100, Mode: MatchSubstring},
		{Token: "python", Weight: 60, Mode: MatchSubstring},
		{Token: "uv", Weight: 50, Mode: MatchWord},
		{Token: "bash", Weight: -100, Mode: MatchWord},
		{Token: "sh", Weight: -100, Mode: MatchWord},
		{Token: "screen", Weight: -100, Mode: MatchWord},
		{Token: "SCREEN", Weight: -100, Mode: MatchWord},
		{Token: "pstree", Weight: -100, Mode: MatchWord},
		{Token: "ps", Weight: -100, Mode: MatchWord},
	}
}

// Score sums the weights of every rule matching cmd.
func (t Table) Score(cmd string) int {
	score := 0
	for _, r := range t {
		if r.Matches(cmd) {
			score += r.Weight
		}
	}
	return score
}

// Validate checks that every rule has a token and a known mode.
func (t Table) Validate() error {
	for i, r := range t {
		if strings.TrimSpace(r.Token) == "" {
			return fmt.Errorf("rule %d: token is empty", i)
		}
		switch r.Mode {
		case MatchSubstring, MatchWord:
		default:
			return fmt.Errorf("rule %d (%s): unknown mode %q", i, r.Token, r.Mode)
		}
	}
	return nil
}

// Candidate is one scored descendant of a session PID.
type Candidate struct {
	PID     int    `json:"pid" yaml:"pid"`
	Score   int    `json:"score" yaml:"score"`
	Depth   int    `json:"depth" yaml:"depth"`
	Command string `json:"command" yaml:"command"`
	// Fallback is set when no candidate scored positively and this one was
	// chosen for being the deepest.
	Fallback bool `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// Options configures a Selector.
type Options struct {
	Table Table
	// RefuseBlocklistedFallback stops the deepest-process fallback from
	// choosing a process that scored negatively.
	RefuseBlocklistedFallback bool
}

// Snapshotter provides fresh process table snapshots.
type Snapshotter interface {
	Build(ctx context.Context) *proctree.Tree
}

// Selector chooses the process to terminate for a session.
type Selector struct {
	snap   Snapshotter
	opts   Options
	logger *logging.Logger
}

// NewSelector creates a Selector. A nil table uses DefaultTable.
func NewSelector(snap Snapshotter, opts Options, logger *logging.Logger) *Selector {
	if opts.Table == nil {
		opts.Table = DefaultTable()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Selector{snap: snap, opts: opts, logger: logger}
}

// Select takes a fresh process snapshot and picks the target under rootPID.
func (s *Selector) Select(ctx context.Context, rootPID int) (Candidate, bool) {
	return s.SelectIn(s.snap.Build(ctx), rootPID)
}

// SelectIn picks the target under rootPID in tree. It returns false only
// when rootPID has no descendants, or when the fallback was refused.
func (s *Selector) SelectIn(tree *proctree.Tree, rootPID int) (Candidate, bool) {
	candidates := Rank(tree, rootPID, s.opts.Table)
	if len(candidates) == 0 {
		s.logger.Debug("session has no descendants", "screen_pid", rootPID)
		return Candidate{}, false
	}

	if best := candidates[0]; best.Score > 0 {
		s.logger.Debug("selected target",
			"screen_pid", rootPID, "pid", best.PID, "score", best.Score,
			"depth", best.Depth, "cmd", best.Command)
		return best, true
	}

	fb, ok := deepest(candidates, s.opts.RefuseBlocklistedFallback)
	if !ok {
		s.logger.Warn("no safe fallback target", "screen_pid", rootPID, "candidates", len(candidates))
		return Candidate{}, false
	}
	fb.Fallback = true
	s.logger.Warn("no positively scored target, using deepest process",
		"screen_pid", rootPID, "pid", fb.PID, "score", fb.Score,
		"depth", fb.Depth, "cmd", fb.Command)
	return fb, true
}

// Rank scores every descendant of rootPID and orders them by score
// descending, then depth descending, then PID ascending.
func Rank(tree *proctree.Tree, rootPID int, table Table) []Candidate {
	depths := tree.DescendantsWithDepth(rootPID)
	candidates := make([]Candidate, 0, len(depths))
	for pid, depth := range depths {
		cmd, _ := tree.Command(pid)
		candidates = append(candidates, Candidate{
			PID:     pid,
			Score:   table.Score(cmd),
			Depth:   depth,
			Command: cmd,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Depth != b.Depth {
			return a.Depth > b.Depth
		}
		return a.PID < b.PID
	})
	return candidates
}

// deepest returns the deepest candidate, preferring higher scores and then
// lower PIDs among equally deep ones. With refuseNegative set, candidates
// with a negative score are never returned.
func deepest(candidates []Candidate, refuseNegative bool) (Candidate, bool) {
	var best Candidate
	found := false
	for _, c := range candidates {
		if refuseNegative && c.Score < 0 {
			continue
		}
		if !found || c.Depth > best.Depth ||
			(c.Depth == best.Depth && (c.Score > best.Score ||
				(c.Score == best.Score && c.PID < best.PID))) {
			best = c
			found = true
		}
	}
	return best, found
}
