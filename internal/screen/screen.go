// Package screen inventories GNU screen sessions and stops them by name.
//
// Sessions are discovered from `screen -list`, whose output is a loose
// human-readable report:
//
//	There are screens on:
//		50214.rtsp_stream6	(Detached)
//		50188.rtsp_file_mover	(01/31/2025 11:59:01 PM)	(Attached)
//	2 Sockets in /run/screen/S-cam.
//
// Every failure to query screen degrades to an empty inventory.
package screen

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/streamstop/internal/errors"
	"github.com/Iron-Ham/streamstop/internal/logging"
	"github.com/Iron-Ham/streamstop/internal/sysexec"
)

// Default session naming conventions.
const (
	DefaultStreamPrefix  = "rtsp_stream"
	DefaultFileMoverName = "rtsp_file_mover"
	DefaultSettleDelay   = time.Second
	noSessionsExitCode   = 1
	screenBinary         = "screen"
)

// Kind classifies a session by its name.
type Kind int

const (
	KindOther Kind = iota
	KindStream
	KindFileMover
)

func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindFileMover:
		return "file_mover"
	default:
		return "other"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Session is one entry of the screen listing. PID is the screen process
// itself, never the worker running inside it.
type Session struct {
	Name     string `json:"name" yaml:"name"`
	PID      int    `json:"pid" yaml:"pid"`
	Kind     Kind   `json:"kind" yaml:"kind"`
	Attached bool   `json:"attached" yaml:"attached"`
	// Dead marks a "(Dead ???)" socket left by a session that crashed. It is
	// listed but not running.
	Dead bool `json:"dead,omitempty" yaml:"dead,omitempty"`
	// StreamID is the numeric suffix of a stream session name, or 0.
	StreamID int `json:"stream_id,omitempty" yaml:"stream_id,omitempty"`
}

// Counts summarizes a listing.
type Counts struct {
	Streams int `json:"streams" yaml:"streams"`
	Mover   int `json:"mover" yaml:"mover"`
	Total   int `json:"total" yaml:"total"`
}

// Options configures an Inventory.
type Options struct {
	StreamPrefix  string
	FileMoverName string
	// SettleDelay is how long StopSession waits before re-listing.
	SettleDelay time.Duration
}

// Inventory lists and stops screen sessions.
type Inventory struct {
	runner sysexec.Runner
	opts   Options
	logger *logging.Logger
	sleep  func(context.Context, time.Duration) error
}

// New creates an Inventory. Empty option fields take their defaults.
func New(runner sysexec.Runner, opts Options, logger *logging.Logger) *Inventory {
	if opts.StreamPrefix == "" {
		opts.StreamPrefix = DefaultStreamPrefix
	}
	if opts.FileMoverName == "" {
		opts.FileMoverName = DefaultFileMoverName
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Inventory{runner: runner, opts: opts, logger: logger, sleep: sleepCtx}
}

// List returns the current sessions. It never fails: a missing screen binary
// or an unexpected exit status yields whatever could be parsed, usually nothing.
func (i *Inventory) List(ctx context.Context) []Session {
	res, err := i.runner.Run(ctx, screenBinary, "-list")
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrToolUnavailable):
			i.logger.Warn("screen is not installed", "error", err)
			return nil
		case sysexec.ExitCode(err) == noSessionsExitCode:
			i.logger.Debug("screen reported exit 1", "stdout", strings.TrimSpace(res.Stdout))
		default:
			i.logger.Warn("screen -list failed", "error", err)
		}
	}
	sessions := Parse(res.Stdout, i.opts.StreamPrefix, i.opts.FileMoverName)
	i.logger.Debug("listed screen sessions", "count", len(sessions))
	return sessions
}

// Counts lists sessions and tallies them by kind.
func (i *Inventory) Counts(ctx context.Context) Counts {
	return Count(i.List(ctx))
}

// Find returns the running session named name. Dead sockets are skipped.
func (i *Inventory) Find(ctx context.Context, name string) (Session, bool) {
	for _, s := range i.List(ctx) {
		if s.Name == name && !s.Dead {
			return s, true
		}
	}
	return Session{}, false
}

// StopSession asks screen to quit the named session, waits the settle delay
// and re-lists to confirm it is gone. A session that is not running counts
// as stopped. Failures are logged and reported as false.
func (i *Inventory) StopSession(ctx context.Context, name string) bool {
	if _, ok := i.Find(ctx, name); !ok {
		i.logger.Debug("session not running", "session", name)
		return true
	}

	i.logger.Info("stopping session", "session", name)
	if _, err := i.runner.Run(ctx, screenBinary, "-S", name, "-X", "quit"); err != nil {
		i.logger.Warn("screen quit failed", "session", name, "error", err)
		return false
	}
	if err := i.sleep(ctx, i.opts.SettleDelay); err != nil {
		return false
	}
	if _, ok := i.Find(ctx, name); ok {
		i.logger.Error("session still running after quit", "session", name)
		return false
	}
	i.logger.Info("session stopped", "session", name)
	return true
}

// FileMoverName returns the configured file-mover session name.
func (i *Inventory) FileMoverName() string {
	return i.opts.FileMoverName
}

// Parse extracts sessions from `screen -list` output. The first field of a
// line must be "<pid>.<name>"; the status may follow after tabs or spaces.
// Other lines are ignored.
func Parse(output, streamPrefix, moverName string) []Session {
	var sessions []Session
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		pidStr, name, ok := strings.Cut(fields[0], ".")
		if !ok || name == "" {
			continue
		}
		pid, err := strconv.Atoi(pidStr)
		if err != nil || pid <= 0 {
			continue
		}

		status := strings.Join(fields[1:], " ")
		s := Session{
			Name:     name,
			PID:      pid,
			Kind:     classify(name, streamPrefix, moverName),
			Attached: strings.Contains(status, "(Attached)"),
			Dead:     strings.Contains(status, "(Dead"),
		}
		if s.Kind == KindStream {
			s.StreamID = streamID(name, streamPrefix)
		}
		sessions = append(sessions, s)
	}
	return sessions
}

// Count tallies running sessions by kind. Dead sockets are not counted.
func Count(sessions []Session) Counts {
	var c Counts
	for _, s := range sessions {
		if s.Dead {
			continue
		}
		switch s.Kind {
		case KindStream:
			c.Streams++
		case KindFileMover:
			c.Mover++
		}
	}
	c.Total = c.Streams + c.Mover
	return c
}

// StreamSessionName returns the session name for stream n.
func StreamSessionName(prefix string, n int) string {
	return fmt.Sprintf("%s%d", prefix, n)
}

func classify(name, streamPrefix, moverName string) Kind {
	switch {
	case strings.Contains(name, moverName):
		return KindFileMover
	case strings.Contains(name, streamPrefix):
		return KindStream
	default:
		return KindOther
	}
}

func streamID(name, prefix string) int {
	idx := strings.Index(name, prefix)
	if idx < 0 {
		return 0
	}
	digits := name[idx+len(prefix):]
	end := 0
	for end < len(digits) && digits[end] >= '0' && digits[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(digits[:end])
	if err != nil {
		return 0
	}
	return n
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
