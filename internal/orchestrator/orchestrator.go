// Package orchestrator drives a shutdown run through its stages: discover
// the stream sessions, stop their workers, finalize and archive the files
// they left behind, then clean up the auxiliary services.
//
// Every stage absorbs its own expected failures and reports them in the
// Summary. A stage that cannot make progress still hands over to the next.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/iter"

	"github.com/Iron-Ham/streamstop/internal/auxiliary"
	"github.com/Iron-Ham/streamstop/internal/errors"
	"github.com/Iron-Ham/streamstop/internal/finalize"
	"github.com/Iron-Ham/streamstop/internal/logging"
	"github.com/Iron-Ham/streamstop/internal/proctree"
	"github.com/Iron-Ham/streamstop/internal/screen"
	"github.com/Iron-Ham/streamstop/internal/stream"
	"github.com/Iron-Ham/streamstop/internal/sweep"
	"github.com/Iron-Ham/streamstop/internal/target"
	"github.com/Iron-Ham/streamstop/internal/terminate"
)

// SessionLister enumerates screen sessions.
type SessionLister interface {
	List(ctx context.Context) []screen.Session
}

// Snapshotter takes a process table snapshot.
type Snapshotter interface {
	Build(ctx context.Context) *proctree.Tree
}

// TargetSelector picks the worker under a session root.
type TargetSelector interface {
	SelectIn(tree *proctree.Tree, rootPID int) (target.Candidate, bool)
}

// ProcessTerminator stops a batch of PIDs.
type ProcessTerminator interface {
	Terminate(pids []int, grace time.Duration) terminate.Report
}

// StreamConfigs resolves per-stream paths.
type StreamConfigs interface {
	All(n int) []stream.Config
}

// FileFinalizer promotes stable temp files for one stream.
type FileFinalizer interface {
	ProcessTempFiles(ctx context.Context, cfg stream.Config) finalize.Result
}

// SweepDrainer relocates finished files until nothing moves.
type SweepDrainer interface {
	SweepUntilQuiescent(ctx context.Context, cfgs []stream.Config, maxPasses int) sweep.Drain
}

// AuxiliaryCleaner runs the post-shutdown cleanup.
type AuxiliaryCleaner interface {
	Run(ctx context.Context) auxiliary.Report
}

// Deps are the stage implementations.
type Deps struct {
	Sessions   SessionLister
	Snapshot   Snapshotter
	Selector   TargetSelector
	Terminator ProcessTerminator
	Streams    StreamConfigs
	Finalizer  FileFinalizer
	Sweeper    SweepDrainer
	Auxiliary  AuxiliaryCleaner
}

// Options controls a run.
type Options struct {
	NumStreams int
	Grace      time.Duration
	// AlwaysFinalize runs the file stages even when no worker was stopped.
	AlwaysFinalize bool
	// ParallelFinalize processes streams concurrently.
	ParallelFinalize bool
	// MoverSettle is the pause between finalize and sweep.
	MoverSettle    time.Duration
	MaxSweepPasses int
	// InterruptBudget bounds the auxiliary cleanup after cancellation.
	InterruptBudget time.Duration
	// RunID names the run in logs and the summary. Empty generates one.
	RunID string
}

// Orchestrator runs shutdowns.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *logging.Logger
	sleep  func(context.Context, time.Duration) error
	newID  func() string
}

// New creates an Orchestrator.
func New(deps Deps, opts Options, logger *logging.Logger) *Orchestrator {
	if opts.NumStreams <= 0 {
		opts.NumStreams = 6
	}
	if opts.InterruptBudget <= 0 {
		opts.InterruptBudget = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	o := &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: logger,
		sleep:  sleepCtx,
		newID:  uuid.NewString,
	}
	if opts.RunID != "" {
		o.newID = func() string { return opts.RunID }
	}
	return o
}

// Run performs one shutdown. It always returns a summary. Cancelling ctx
// stops the run at the next stage boundary; auxiliary cleanup still runs
// within the interrupt budget and the summary is marked interrupted.
func (o *Orchestrator) Run(ctx context.Context) *Summary {
	start := time.Now()
	s := &Summary{RunID: o.newID(), State: StateIdle}
	log := o.logger.WithRun(s.RunID)
	log.Info("shutdown started", "streams", o.opts.NumStreams)

	defer func() {
		s.Duration = time.Since(start)
	}()

	// Discover
	sessions := o.deps.Sessions.List(ctx)
	s.SessionsBefore = screen.Count(sessions)
	if s.SessionsBefore.Total == 0 {
		log.Info("no screen sessions running")
	} else {
		log.Info("sessions found", "streams", s.SessionsBefore.Streams, "mover", s.SessionsBefore.Mover, "total", s.SessionsBefore.Total)
	}
	o.resolveTargets(ctx, log.WithStage(StageDiscover), sessions, s)
	s.State = StateSessionsDiscovered

	cfgs := o.deps.Streams.All(o.opts.NumStreams)

	if o.interrupted(ctx, log, s) {
		return o.finish(ctx, log, s)
	}

	// Terminate
	o.terminate(log.WithStage(StageTerminate), s)
	s.State = StateProcessesTerminated

	s.FileStagesRun = s.StoppedCount > 0 || o.opts.AlwaysFinalize
	if !s.FileStagesRun {
		log.Info("no workers stopped, skipping file stages")
	}

	if o.interrupted(ctx, log, s) {
		return o.finish(ctx, log, s)
	}

	// Finalize
	if s.FileStagesRun {
		o.finalize(ctx, log.WithStage(StageFinalize), cfgs, s)
	}
	s.State = StateFilesFinalized

	if o.interrupted(ctx, log, s) {
		return o.finish(ctx, log, s)
	}

	// Sweep
	if s.FileStagesRun {
		if o.opts.MoverSettle > 0 {
			log.Info("waiting for the file mover", "delay", o.opts.MoverSettle.String())
			if err := o.sleep(ctx, o.opts.MoverSettle); err != nil {
				o.interrupted(ctx, log, s)
				return o.finish(ctx, log, s)
			}
		}
		o.sweep(ctx, log.WithStage(StageSweep), cfgs, s)
	}
	s.State = StateSweepComplete

	o.interrupted(ctx, log, s)
	return o.finish(ctx, log, s)
}

// interrupted records a cancellation once and reports whether ctx is done.
func (o *Orchestrator) interrupted(ctx context.Context, log *logging.Logger, s *Summary) bool {
	if ctx.Err() == nil {
		return false
	}
	if !s.Interrupted {
		s.Interrupted = true
		log.Warn("shutdown interrupted", "state", s.State.String())
		s.fail(s.State.String(), 0, "interrupted", errors.ErrCanceled)
	}
	return true
}

// finish runs auxiliary cleanup and the final session count. After an
// interrupt both run under a fresh context bounded by the interrupt budget.
func (o *Orchestrator) finish(ctx context.Context, log *logging.Logger, s *Summary) *Summary {
	if s.Interrupted {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), o.opts.InterruptBudget)
		defer cancel()
	}

	auxLog := log.WithStage(StageAuxiliary)
	s.Auxiliary = o.deps.Auxiliary.Run(ctx)
	s.TempFilesRemoved = s.Auxiliary.TempFilesRemoved
	for _, err := range s.Auxiliary.Failures {
		s.fail(StageAuxiliary, 0, "auxiliary cleanup step failed", err)
	}
	if !s.Auxiliary.MediaServerStopped && len(s.Auxiliary.MediaServerPIDs) > 0 {
		s.fail(StageAuxiliary, 0, fmt.Sprintf("media server still running (pids %v)", s.Auxiliary.MediaServerPIDs), nil)
	}
	auxLog.Debug("auxiliary cleanup done", "temp_files_removed", s.TempFilesRemoved)
	s.State = StateAuxiliaryCleaned

	s.SessionsAfter = screen.Count(o.deps.Sessions.List(ctx))
	s.RemainingSessions = s.SessionsAfter.Streams
	s.State = StateDone

	log.Info("shutdown summary",
		"stopped", s.StoppedCount,
		"targets", len(s.Targets),
		"files_finalized", s.FilesFinalized,
		"files_relocated", s.FilesRelocated,
		"unresolved_files", s.UnresolvedFiles,
		"temp_files_removed", s.TempFilesRemoved,
		"remaining_sessions", s.RemainingSessions,
		"failures", len(s.Failures),
		"interrupted", s.Interrupted)
	if s.RemainingSessions > 0 {
		log.Warn("stream sessions still running; clean up with 'screen -wipe' and 'pkill -f run.py'",
			"remaining", s.RemainingSessions)
	} else {
		log.Info("all stream sessions stopped")
	}
	return s
}

// resolveTargets picks one worker per stream session from a single snapshot.
func (o *Orchestrator) resolveTargets(ctx context.Context, log *logging.Logger, sessions []screen.Session, s *Summary) {
	var streams []screen.Session
	for _, sess := range sessions {
		switch {
		case sess.Kind != screen.KindStream:
		case sess.Dead:
			log.Debug("skipping dead session", "session", sess.Name, "pid", sess.PID)
		default:
			streams = append(streams, sess)
		}
	}
	if len(streams) == 0 {
		return
	}

	tree := o.deps.Snapshot.Build(ctx)
	for _, sess := range streams {
		cand, ok := o.deps.Selector.SelectIn(tree, sess.PID)
		if !ok {
			log.Warn("no target process under session", "session", sess.Name, "pid", sess.PID)
			s.Unresolved = append(s.Unresolved, sess.Name)
			s.fail(StageDiscover, sess.StreamID, fmt.Sprintf("no target process under session %s", sess.Name), errors.ErrNoSuchProcess)
			continue
		}
		log.Info("target selected",
			"session", sess.Name, "session_pid", sess.PID,
			"pid", cand.PID, "score", cand.Score, "depth", cand.Depth, "fallback", cand.Fallback)
		s.Targets = append(s.Targets, Target{
			StreamID:   sess.StreamID,
			Session:    sess.Name,
			SessionPID: sess.PID,
			Candidate:  cand,
		})
	}
}

func (o *Orchestrator) terminate(log *logging.Logger, s *Summary) {
	if len(s.Targets) == 0 {
		log.Info("no stream workers to stop")
		return
	}
	pids := make([]int, 0, len(s.Targets))
	for _, t := range s.Targets {
		pids = append(pids, t.Candidate.PID)
	}

	s.Termination = o.deps.Terminator.Terminate(pids, o.opts.Grace)
	s.StoppedCount = len(s.Termination.Gone())
	for _, err := range s.Termination.Failures {
		s.fail(StageTerminate, 0, "signal failed", err)
	}
	for _, pid := range s.Termination.Remaining {
		s.fail(StageTerminate, o.streamOf(s, pid), fmt.Sprintf("process %d still running", pid), nil)
	}
	log.Info("workers stopped", "stopped", s.StoppedCount, "of", len(s.Termination.PIDs))
}

func (o *Orchestrator) streamOf(s *Summary, pid int) int {
	for _, t := range s.Targets {
		if t.Candidate.PID == pid {
			return t.StreamID
		}
	}
	return 0
}

func (o *Orchestrator) finalize(ctx context.Context, log *logging.Logger, cfgs []stream.Config, s *Summary) {
	log.Info("finalizing temp files", "streams", len(cfgs), "parallel", o.opts.ParallelFinalize)

	process := func(cfg *stream.Config) finalize.Result {
		return o.deps.Finalizer.ProcessTempFiles(ctx, *cfg)
	}
	var results []finalize.Result
	if o.opts.ParallelFinalize {
		results = iter.Map(cfgs, process)
	} else {
		results = make([]finalize.Result, 0, len(cfgs))
		for i := range cfgs {
			results = append(results, process(&cfgs[i]))
		}
	}

	s.Finalized = results
	for _, r := range results {
		s.FilesFinalized += r.Processed
		if r.Err != nil {
			s.fail(StageFinalize, r.StreamID, "temp directory unavailable", r.Err)
		}
		for _, skip := range r.Skipped {
			s.UnresolvedFiles++
			s.fail(StageFinalize, r.StreamID, fmt.Sprintf("%s left in place (%s)", skip.Name, skip.Reason), nil)
		}
	}
	log.Info("temp files finalized", "count", s.FilesFinalized)
}

func (o *Orchestrator) sweep(ctx context.Context, log *logging.Logger, cfgs []stream.Config, s *Summary) {
	log.Info("sweeping finished files", "max_passes", o.opts.MaxSweepPasses)
	s.Sweep = o.deps.Sweeper.SweepUntilQuiescent(ctx, cfgs, o.opts.MaxSweepPasses)
	s.FilesRelocated = s.Sweep.Moved

	// Only the last pass describes what is still left behind.
	last := s.Sweep.Results
	if len(last) > len(cfgs) {
		last = last[len(last)-len(cfgs):]
	}
	for _, r := range last {
		if r.Err != nil && !errors.Is(r.Err, errors.ErrPathUnavailable) {
			s.fail(StageSweep, r.StreamID, "temp directory unreadable", r.Err)
		}
		for _, name := range r.Conflicts {
			s.UnresolvedFiles++
			s.fail(StageSweep, r.StreamID, fmt.Sprintf("%s already archived, left in place", name), errors.ErrDestinationExists)
		}
		for _, name := range r.Failed {
			s.UnresolvedFiles++
			s.fail(StageSweep, r.StreamID, fmt.Sprintf("%s could not be moved", name), nil)
		}
	}
	if !s.Sweep.Quiescent && ctx.Err() == nil {
		s.fail(StageSweep, 0, fmt.Sprintf("files still appearing after %d passes", s.Sweep.Passes), nil)
	}
	log.Info("sweep finished", "moved", s.FilesRelocated, "passes", s.Sweep.Passes, "quiescent", s.Sweep.Quiescent)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
