// Package auxiliary runs the cleanup that follows the stream shutdown: the
// file-mover session, the media server, the companion daemon, the temporary
// env files written at start-up, and a report of the preserved stream logs.
package auxiliary

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/streamstop/internal/errors"
	"github.com/Iron-Ham/streamstop/internal/logging"
	"github.com/Iron-Ham/streamstop/internal/proctree"
	"github.com/Iron-Ham/streamstop/internal/terminate"
)

// Defaults.
const (
	DefaultMediaServerMatch = "mediamtx"
	DefaultDaemonMatch      = "run_daemon.py"
	DefaultMediaGrace       = 3 * time.Second
	DefaultEnvTempFiles     = 6
)

// SessionStopper quits a screen session by name.
type SessionStopper interface {
	StopSession(ctx context.Context, name string) bool
}

// Snapshotter returns a fresh process table.
type Snapshotter interface {
	Build(ctx context.Context) *proctree.Tree
}

// ProcessKiller is the subset of the terminator used here.
type ProcessKiller interface {
	Terminate(pids []int, grace time.Duration) terminate.Report
	Signal(pids []int, sig unix.Signal) ([]int, []error)
}

// Options configures a Cleaner.
type Options struct {
	BaseDir string
	// FileMoverName is quit when StopFileMover is set.
	FileMoverName string
	StopFileMover bool
	// MediaServerMatch and DaemonMatch are command-line substrings. Empty skips the step.
	MediaServerMatch string
	MediaGrace       time.Duration
	DaemonMatch      string
	// EnvTempFiles is how many .env.tempN files to remove.
	EnvTempFiles  int
	RemoveEnvFile bool
	// NumStreams and StreamPrefix name the per-stream logs in the report.
	NumStreams   int
	StreamPrefix string
}

// LogFile is one preserved stream log.
type LogFile struct {
	Name string `json:"name" yaml:"name"`
	Size int64  `json:"size" yaml:"size"`
}

// Report is the outcome of Run.
type Report struct {
	FileMoverStopped   bool      `json:"file_mover_stopped" yaml:"file_mover_stopped"`
	MediaServerPIDs    []int     `json:"media_server_pids,omitempty" yaml:"media_server_pids,omitempty"`
	MediaServerStopped bool      `json:"media_server_stopped" yaml:"media_server_stopped"`
	DaemonPIDs         []int     `json:"daemon_pids,omitempty" yaml:"daemon_pids,omitempty"`
	TempFilesRemoved   int       `json:"temp_files_removed" yaml:"temp_files_removed"`
	RemovedFiles       []string  `json:"removed_files,omitempty" yaml:"removed_files,omitempty"`
	Logs               []LogFile `json:"logs,omitempty" yaml:"logs,omitempty"`
	Failures           []error   `json:"-" yaml:"-"`
}

// Cleaner performs the auxiliary cleanup steps.
type Cleaner struct {
	fs       afero.Fs
	sessions SessionStopper
	snap     Snapshotter
	killer   ProcessKiller
	opts     Options
	logger   *logging.Logger
	self     int
}

// New creates a Cleaner. sessions may be nil when the file-mover step is unused.
func New(fs afero.Fs, sessions SessionStopper, snap Snapshotter, killer ProcessKiller, opts Options, logger *logging.Logger) *Cleaner {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	if opts.MediaGrace < 0 {
		opts.MediaGrace = 0
	}
	return &Cleaner{
		fs:       fs,
		sessions: sessions,
		snap:     snap,
		killer:   killer,
		opts:     opts,
		logger:   logger,
		self:     os.Getpid(),
	}
}

// Run executes every step in order. Steps are independent; a failure in one
// is recorded and the rest still run. A canceled ctx skips the remaining
// process steps but file cleanup and the log report still happen.
func (c *Cleaner) Run(ctx context.Context) Report {
	var report Report

	if c.opts.StopFileMover && c.sessions != nil && c.opts.FileMoverName != "" {
		report.FileMoverStopped = c.StopFileMover(ctx)
	}

	if ctx.Err() == nil {
		pids, stopped, failures := c.StopMediaServer(ctx)
		report.MediaServerPIDs = pids
		report.MediaServerStopped = stopped
		report.Failures = append(report.Failures, failures...)
	}

	if ctx.Err() == nil {
		pids, failures := c.StopDaemon(ctx)
		report.DaemonPIDs = pids
		report.Failures = append(report.Failures, failures...)
	}

	removed, failures := c.RemoveTempFiles()
	report.TempFilesRemoved = len(removed)
	report.RemovedFiles = removed
	report.Failures = append(report.Failures, failures...)

	report.Logs = c.LogReport()
	return report
}

// StopFileMover quits the file-mover session and confirms it is gone.
func (c *Cleaner) StopFileMover(ctx context.Context) bool {
	c.logger.Info("stopping file mover session", "session", c.opts.FileMoverName)
	if c.sessions.StopSession(ctx, c.opts.FileMoverName) {
		c.logger.Info("file mover session stopped")
		return true
	}
	c.logger.Warn("file mover session still present", "session", c.opts.FileMoverName)
	return false
}

// StopMediaServer sends SIGTERM to every media server process, waits up to
// the media grace period and kills survivors. It reports true when nothing
// matching is left, including when nothing was running.
func (c *Cleaner) StopMediaServer(ctx context.Context) ([]int, bool, []error) {
	if c.opts.MediaServerMatch == "" {
		return nil, true, nil
	}
	pids := c.matching(ctx, c.opts.MediaServerMatch)
	if len(pids) == 0 {
		c.logger.Info("no media server running", "match", c.opts.MediaServerMatch)
		return nil, true, nil
	}

	c.logger.Info("stopping media server", "pids", pids)
	report := c.killer.Terminate(pids, c.opts.MediaGrace)
	if len(report.Escalated) > 0 {
		c.logger.Warn("media server ignored SIGTERM, killed", "pids", report.Escalated)
	}
	if !report.Stopped {
		c.logger.Error("media server still running", "pids", report.Remaining)
	}
	return report.PIDs, report.Stopped, report.Failures
}

// StopDaemon sends SIGTERM to the companion daemon without escalation.
func (c *Cleaner) StopDaemon(ctx context.Context) ([]int, []error) {
	if c.opts.DaemonMatch == "" {
		return nil, nil
	}
	pids := c.matching(ctx, c.opts.DaemonMatch)
	if len(pids) == 0 {
		c.logger.Debug("no companion daemon running", "match", c.opts.DaemonMatch)
		return nil, nil
	}
	delivered, errs := c.killer.Signal(pids, unix.SIGTERM)
	c.logger.Debug("companion daemon signaled", "pids", delivered)

	for _, err := range errs {
		c.logger.Warn("failed to signal companion daemon", "error", err)
	}
	return pids, errs
}

// matching returns PIDs whose command line contains substr, excluding this
// process and its ancestors.
func (c *Cleaner) matching(ctx context.Context, substr string) []int {
	tree := c.snap.Build(ctx)
	skip := map[int]bool{c.self: true}
	for _, pid := range tree.Ancestors(c.self) {
		skip[pid] = true
	}
	var out []int
	for _, pid := range tree.Match(substr) {
		if !skip[pid] {
			out = append(out, pid)
		}
	}
	return out
}

// RemoveTempFiles deletes <base>/.env.temp1..N and, when configured,
// <base>/.env. It returns the names removed.
func (c *Cleaner) RemoveTempFiles() ([]string, []error) {
	names := make([]string, 0, c.opts.EnvTempFiles+1)
	for i := 1; i <= c.opts.EnvTempFiles; i++ {
		names = append(names, fmt.Sprintf(".env.temp%d", i))
	}
	if c.opts.RemoveEnvFile {
		names = append(names, ".env")
	}

	var removed []string
	var failures []error
	for _, name := range names {
		path := filepath.Join(c.opts.BaseDir, name)
		info, err := c.fs.Stat(path)
		if err != nil || info.IsDir() {
			c.logger.Debug("temp file not present", "file", name)
			continue
		}
		if err := c.fs.Remove(path); err != nil {
			c.logger.Warn("failed to remove temp file", "file", name, "error", err)
			failures = append(failures, errors.NewFileError(path, err))
			continue
		}
		c.logger.Info("removed temp file", "file", name)
		removed = append(removed, name)
	}
	return removed, failures
}

// LogReport lists the per-stream logs that exist. They are never removed.
func (c *Cleaner) LogReport() []LogFile {
	var logs []LogFile
	for i := 1; i <= c.opts.NumStreams; i++ {
		name := fmt.Sprintf("%s%d.log", c.opts.StreamPrefix, i)
		info, err := c.fs.Stat(filepath.Join(c.opts.BaseDir, name))
		if err != nil || info.IsDir() {
			continue
		}
		logs = append(logs, LogFile{Name: name, Size: info.Size()})
		c.logger.Info("stream log preserved", "file", name, "bytes", info.Size())
	}
	return logs
}
