// Package sweep moves finished recordings from a stream's temp directory
// into the dated archive.
//
// A finished file is named <anything>_YYMMDD_HHMMSS.<ext> and lands at
// <final_root>/YYYY/MM/DD/HH/<name>. Files still carrying the in-progress
// prefix, or whose name does not encode a valid timestamp, are left alone.
package sweep

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/streamstop/internal/errors"
	"github.com/Iron-Ham/streamstop/internal/logging"
	"github.com/Iron-Ham/streamstop/internal/stream"
)

// Defaults.
const (
	DefaultPrefix    = "temp_"
	DefaultMaxPasses = 20
	DefaultPause     = time.Second
)

// DefaultExtensions are the archived file types.
var DefaultExtensions = []string{"mp4", "srt"}

// Slot is the archive partition a file belongs to.
type Slot struct {
	Year  int
	Month int
	Day   int
	Hour  int
}

// Dir returns the slot's directory under root.
func (s Slot) Dir(root string) string {
	return filepath.Join(root,
		strconv.Itoa(s.Year),
		fmt.Sprintf("%02d", s.Month),
		fmt.Sprintf("%02d", s.Day),
		fmt.Sprintf("%02d", s.Hour))
}

// Move records one relocated file.
type Move struct {
	Name string `json:"name" yaml:"name"`
	Dest string `json:"dest" yaml:"dest"`
	// Copied is set when the move crossed filesystems.
	Copied bool `json:"copied,omitempty" yaml:"copied,omitempty"`
}

// Result is the outcome of one pass over one stream.
type Result struct {
	StreamID int    `json:"stream_id" yaml:"stream_id"`
	Moved    []Move `json:"moved,omitempty" yaml:"moved,omitempty"`
	// Conflicts lists files left in place because the destination exists.
	Conflicts []string `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	// Failed lists files whose move failed.
	Failed []string `json:"failed,omitempty" yaml:"failed,omitempty"`
	Err    error    `json:"-" yaml:"-"`
}

// Count returns the number of files moved.
func (r Result) Count() int {
	return len(r.Moved)
}

// Drain is the outcome of SweepUntilQuiescent.
type Drain struct {
	Passes    int      `json:"passes" yaml:"passes"`
	Moved     int      `json:"moved" yaml:"moved"`
	Quiescent bool     `json:"quiescent" yaml:"quiescent"`
	Results   []Result `json:"-" yaml:"-"`
}

// Options configures a Relocator.
type Options struct {
	Prefix     string
	Extensions []string
	// Pause is the wait between drain passes that moved files.
	Pause time.Duration
}

// Relocator moves finished files into the archive.
type Relocator struct {
	fs      afero.Fs
	opts    Options
	pattern *regexp.Regexp
	logger  *logging.Logger
	sleep   func(context.Context, time.Duration) error
}

// New creates a Relocator. Empty options take the defaults.
func New(fs afero.Fs, opts Options, logger *logging.Logger) *Relocator {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Relocator{
		fs:      fs,
		opts:    opts,
		pattern: Pattern(opts.Extensions),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Pattern compiles the finished-file pattern for exts.
func Pattern(exts []string) *regexp.Regexp {
	quoted := make([]string, len(exts))
	for i, e := range exts {
		quoted[i] = regexp.QuoteMeta(e)
	}
	return regexp.MustCompile(`_(\d{6})_(\d{6})\.(` + strings.Join(quoted, "|") + `)$`)
}

// ParseName extracts the archive slot from a finished filename. The year is
// two digits offset by 2000. Names without a valid timestamp return
// errors.ErrPatternMismatch.
func (r *Relocator) ParseName(name string) (Slot, error) {
	return parseName(r.pattern, name)
}

func parseName(pattern *regexp.Regexp, name string) (Slot, error) {
	m := pattern.FindStringSubmatch(name)
	if m == nil {
		return Slot{}, errors.ErrPatternMismatch
	}
	date, clock := m[1], m[2]
	yy, _ := strconv.Atoi(date[0:2])
	mm, _ := strconv.Atoi(date[2:4])
	dd, _ := strconv.Atoi(date[4:6])
	hh, _ := strconv.Atoi(clock[0:2])

	if mm < 1 || mm > 12 || dd < 1 || dd > 31 || hh > 23 {
		return Slot{}, fmt.Errorf("%w: %s_%s", errors.ErrPatternMismatch, date, clock)
	}
	return Slot{Year: 2000 + yy, Month: mm, Day: dd, Hour: hh}, nil
}

// Sweepable lists the files in dir that SweepOnce would move.
func (r *Relocator) Sweepable(dir string) ([]string, error) {
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return nil, errors.NewFileError(dir, errors.ErrPathUnavailable).WithMessage(err.Error())
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !e.Mode().IsRegular() || strings.HasPrefix(name, r.opts.Prefix) {
			continue
		}
		if _, err := r.ParseName(name); err != nil {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// SweepOnce moves every finished file in cfg's temp directory to its slot
// under cfg's final root. It never overwrites an existing archive file.
func (r *Relocator) SweepOnce(cfg stream.Config) Result {
	log := r.logger.WithStream(cfg.StreamID)
	res := Result{StreamID: cfg.StreamID}

	names, err := r.Sweepable(cfg.TempDir)
	if err != nil {
		var ferr *errors.FileError
		if errors.As(err, &ferr) {
			ferr.WithStream(cfg.StreamID)
		}
		log.Debug("temp directory unavailable", "dir", cfg.TempDir, "error", err)
		res.Err = err
		return res
	}

	for _, name := range names {
		slot, _ := r.ParseName(name)
		dir := slot.Dir(cfg.FinalRoot)
		dst := filepath.Join(dir, name)
		src := filepath.Join(cfg.TempDir, name)

		if err := r.fs.MkdirAll(dir, 0755); err != nil {
			log.Error("cannot create archive directory", "dir", dir, "error", err)
			res.Failed = append(res.Failed, name)
			continue
		}
		if _, err := r.fs.Stat(dst); err == nil {
			log.Warn("archive file exists, leaving in place", "file", name, "dest", dst)
			res.Conflicts = append(res.Conflicts, name)
			continue
		}

		copied, err := r.move(src, dst)
		if err != nil {
			log.Error("move failed", "file", name, "error", errors.NewFileError(src, err).WithStream(cfg.StreamID))
			res.Failed = append(res.Failed, name)
			continue
		}
		log.Info("archived", "file", name, "dest", dir, "copied", copied)
		res.Moved = append(res.Moved, Move{Name: name, Dest: dst, Copied: copied})
	}
	return res
}

// SweepUntilQuiescent runs SweepOnce over every stream until a pass moves
// nothing or maxPasses passes have run. It pauses between passes that moved
// files, and stops early if ctx is canceled between passes.
func (r *Relocator) SweepUntilQuiescent(ctx context.Context, cfgs []stream.Config, maxPasses int) Drain {
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}
	var d Drain
	for pass := 1; pass <= maxPasses; pass++ {
		d.Passes = pass
		moved := 0
		for _, cfg := range cfgs {
			res := r.SweepOnce(cfg)
			moved += res.Count()
			d.Results = append(d.Results, res)
		}
		d.Moved += moved

		if moved == 0 {
			r.logger.Info("sweep pass moved nothing", "pass", pass, "max_passes", maxPasses)
			d.Quiescent = true
			return d
		}
		r.logger.Info("sweep pass", "pass", pass, "max_passes", maxPasses, "moved", moved)
		if pass < maxPasses {
			if err := r.sleep(ctx, r.opts.Pause); err != nil {
				r.logger.Warn("sweep interrupted", "pass", pass, "error", err)
				return d
			}
		}
	}
	return d
}

// move renames src to dst, copying across filesystems when rename reports
// EXDEV. The copy is created exclusively so an existing dst is never clobbered.
func (r *Relocator) move(src, dst string) (bool, error) {
	err := r.fs.Rename(src, dst)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return false, err
	}
	if err := r.copyFile(src, dst); err != nil {
		return false, err
	}
	return true, r.fs.Remove(src)
}

func (r *Relocator) copyFile(src, dst string) (err error) {
	in, err := r.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := r.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = r.fs.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err = out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}
	return r.fs.Chtimes(dst, info.ModTime(), info.ModTime())
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
