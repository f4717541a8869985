// Package mover is the long-running file-mover: it watches every stream's
// temp directory and sweeps finished files into the archive as they appear.
//
// Filesystem events only trigger a sweep; the sweep itself decides what is
// finished. A periodic tick covers missed events and directories that did
// not exist when the watch started.
package mover

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/streamstop/internal/logging"
	"github.com/Iron-Ham/streamstop/internal/stream"
	"github.com/Iron-Ham/streamstop/internal/sweep"
)

// Defaults.
const (
	DefaultDebounce = 2 * time.Second
	DefaultInterval = 30 * time.Second
)

// Sweeper runs one sweep pass over a stream.
type Sweeper interface {
	SweepOnce(cfg stream.Config) sweep.Result
}

// Options configures a Service.
type Options struct {
	// Debounce coalesces event bursts into one pass.
	Debounce time.Duration
	// Interval is the fallback sweep period.
	Interval time.Duration
	// Prefix marks in-progress files, whose creation does not trigger a pass.
	Prefix string
}

// Stats counts what the service has done.
type Stats struct {
	Passes   int `json:"passes" yaml:"passes"`
	Moved    int `json:"moved" yaml:"moved"`
	Triggers int `json:"triggers" yaml:"triggers"`
}

// Service watches temp directories and sweeps them.
type Service struct {
	sweeper Sweeper
	cfgs    []stream.Config
	opts    Options
	logger  *logging.Logger

	mu      sync.Mutex
	stats   Stats
	watched map[string]bool
}

// New creates a Service for cfgs.
func New(sweeper Sweeper, cfgs []stream.Config, opts Options, logger *logging.Logger) *Service {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Prefix == "" {
		opts.Prefix = sweep.DefaultPrefix
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Service{
		sweeper: sweeper,
		cfgs:    cfgs,
		opts:    opts,
		logger:  logger.WithStage("mover"),
		watched: make(map[string]bool),
	}
}

// Stats returns a snapshot of the counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Pass sweeps every stream once and returns the number of files moved.
func (s *Service) Pass() int {
	moved := 0
	for _, cfg := range s.cfgs {
		moved += s.sweeper.SweepOnce(cfg).Count()
	}
	s.mu.Lock()
	s.stats.Passes++
	s.stats.Moved += moved
	s.mu.Unlock()
	if moved > 0 {
		s.logger.Info("mover pass", "moved", moved)
	}
	return moved
}

// Run sweeps once, then watches until ctx is canceled. It returns nil on
// cancellation and an error only if the watcher cannot be created.
func (s *Service) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	s.watchAll(watcher)
	s.Pass()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info("file mover running", "streams", len(s.cfgs), "interval", s.opts.Interval.String())
	s.loop(ctx, watcher.Events, watcher.Errors, ticker.C, func() { s.watchAll(watcher) })
	s.logger.Info("file mover stopped", "passes", s.Stats().Passes, "moved", s.Stats().Moved)
	return nil
}

// loop is the event loop behind Run. rewatch is called on every tick.
func (s *Service) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, tick <-chan time.Time, rewatch func()) {
	debounce := time.NewTimer(0)
	<-debounce.C
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if !s.triggers(event) {
				continue
			}
			s.mu.Lock()
			s.stats.Triggers++
			s.mu.Unlock()
			debounce.Reset(s.opts.Debounce)

		case <-debounce.C:
			s.Pass()

		case <-tick:
			if rewatch != nil {
				rewatch()
			}
			s.Pass()

		case err, ok := <-errs:
			if !ok {
				return
			}
			s.logger.Warn("watch error", "error", err)
		}
	}
}

// triggers reports whether event may have produced a sweepable file.
func (s *Service) triggers(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	return !(event.Has(fsnotify.Create) && strings.HasPrefix(base, s.opts.Prefix))
}

// watchAll adds every temp directory not yet watched. Missing directories
// are retried on the next tick.
func (s *Service) watchAll(w *fsnotify.Watcher) {
	for _, cfg := range s.cfgs {
		dir := filepath.Clean(cfg.TempDir)
		s.mu.Lock()
		done := s.watched[dir]
		s.mu.Unlock()
		if done {
			continue
		}
		if err := w.Add(dir); err != nil {
			s.logger.Debug("cannot watch temp directory yet", "stream", cfg.StreamID, "dir", dir, "error", err)
			continue
		}
		s.mu.Lock()
		s.watched[dir] = true
		s.mu.Unlock()
		s.logger.Info("watching temp directory", "stream", cfg.StreamID, "dir", dir)
	}
}
