// Package finalize promotes a stream's in-progress recordings once the
// recorder has let go of them.
//
// The recorder writes to "temp_<name>.mp4" / "temp_<name>.srt" and renames on
// a clean exit. After a forced stop those files are left behind; a file is
// promoted here only when its size has stopped changing and no process holds
// it open. Anything else is left for the next run.
package finalize

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/streamstop/internal/errors"
	"github.com/Iron-Ham/streamstop/internal/logging"
	"github.com/Iron-Ham/streamstop/internal/stream"
)

// Filename conventions.
const (
	DefaultPrefix = "temp_"
)

// DefaultExtensions are processed in this order: media before subtitles.
var DefaultExtensions = []string{"mp4", "srt"}

// Options configures a Finalizer.
type Options struct {
	Prefix          string
	Extensions      []string
	RequiredSamples int
	MaxSamples      int
	SampleInterval  time.Duration
}

// SkipReason explains why a temp file was not promoted.
type SkipReason string

const (
	SkipUnstable          SkipReason = "unstable"
	SkipInUse             SkipReason = "in_use"
	SkipDestinationExists SkipReason = "destination_exists"
	SkipRenameFailed      SkipReason = "rename_failed"
)

// Skip records a temp file left in place.
type Skip struct {
	Name   string     `json:"name" yaml:"name"`
	Reason SkipReason `json:"reason" yaml:"reason"`
}

// Result is the outcome of processing one stream.
type Result struct {
	StreamID  int      `json:"stream_id" yaml:"stream_id"`
	Processed int      `json:"processed" yaml:"processed"`
	Renamed   []string `json:"renamed,omitempty" yaml:"renamed,omitempty"`
	Skipped   []Skip   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	// Err is set when the temp directory could not be read.
	Err error `json:"-" yaml:"-"`
}

type matcher struct {
	ext  string
	glob glob.Glob
}

// Finalizer renames stable temp files in place.
type Finalizer struct {
	fs       afero.Fs
	opts     Options
	sampler  *Sampler
	inUse    InUseChecker
	matchers []matcher
	logger   *logging.Logger
}

// New creates a Finalizer. Empty options take the defaults.
func New(fs afero.Fs, inUse InUseChecker, opts Options, logger *logging.Logger) (*Finalizer, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.RequiredSamples <= 0 {
		opts.RequiredSamples = DefaultRequiredSamples
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultMaxSamples
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	f := &Finalizer{
		fs:      fs,
		opts:    opts,
		sampler: NewSampler(fs, opts.SampleInterval),
		inUse:   inUse,
		logger:  logger,
	}
	for _, ext := range opts.Extensions {
		g, err := glob.Compile(glob.QuoteMeta(opts.Prefix) + "*." + glob.QuoteMeta(ext))
		if err != nil {
			return nil, errors.NewValidationError("finalize.extensions", ext, err.Error())
		}
		f.matchers = append(f.matchers, matcher{ext: ext, glob: g})
	}
	return f, nil
}

// Pending lists the temp files in dir that ProcessTempFiles would consider,
// in processing order.
func (f *Finalizer) Pending(dir string) ([]string, error) {
	entries, err := afero.ReadDir(f.fs, dir)
	if err != nil {
		return nil, errors.NewFileError(dir, errors.ErrPathUnavailable).WithMessage(err.Error())
	}
	var out []string
	for _, m := range f.matchers {
		var names []string
		for _, e := range entries {
			if e.Mode().IsRegular() && m.glob.Match(e.Name()) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		out = append(out, names...)
	}
	return out, nil
}

// ProcessTempFiles promotes every stable, closed temp file in cfg's temp
// directory by stripping the prefix. A missing directory yields zero files
// and Result.Err; individual file failures are recorded as skips.
func (f *Finalizer) ProcessTempFiles(ctx context.Context, cfg stream.Config) Result {
	log := f.logger.WithStream(cfg.StreamID)
	res := Result{StreamID: cfg.StreamID}

	names, err := f.Pending(cfg.TempDir)
	if err != nil {
		var ferr *errors.FileError
		if errors.As(err, &ferr) {
			ferr.WithStream(cfg.StreamID)
		}
		log.Debug("temp directory unavailable", "dir", cfg.TempDir, "error", err)
		res.Err = err
		return res
	}
	if len(names) > 0 {
		log.Info("processing temp files", "dir", cfg.TempDir, "count", len(names))
	}

	for _, name := range names {
		final, reason := f.processOne(ctx, cfg.TempDir, name, log)
		if reason != "" {
			res.Skipped = append(res.Skipped, Skip{Name: name, Reason: reason})
			continue
		}
		res.Processed++
		res.Renamed = append(res.Renamed, final)
	}
	return res
}

func (f *Finalizer) processOne(ctx context.Context, dir, name string, log *logging.Logger) (string, SkipReason) {
	src := filepath.Join(dir, name)
	finalName := name[len(f.opts.Prefix):]
	dst := filepath.Join(dir, finalName)

	if v, n := f.sampler.Check(src, f.opts.RequiredSamples, f.opts.MaxSamples); v != Stable {
		log.Warn("file size not stable, rename deferred", "file", name, "verdict", v.String(), "samples", n)
		return "", SkipUnstable
	}
	if f.inUse != nil && f.inUse.InUse(ctx, src) {
		log.Warn("file still open, rename deferred", "file", name)
		return "", SkipInUse
	}
	if _, err := f.fs.Stat(dst); err == nil {
		log.Warn("destination exists, rename skipped", "file", name, "dest", finalName)
		return "", SkipDestinationExists
	} else if !os.IsNotExist(err) {
		log.Error("cannot check destination", "file", name, "error", err)
		return "", SkipRenameFailed
	}
	if err := f.fs.Rename(src, dst); err != nil {
		log.Error("rename failed", "file", name, "error", errors.NewFileError(src, err))
		return "", SkipRenameFailed
	}
	log.Info("finalized", "from", name, "to", finalName)
	return finalName, ""
}
