// Package terminate stops a batch of unrelated processes with a graceful
// signal, a polled grace window, and forced escalation.
//
// The processes are not children of the caller, so there is nothing to wait
// on: liveness is observed with a zero signal at a fixed cadence.
package terminate

import (
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/streamstop/internal/errors"
	"github.com/Iron-Ham/streamstop/internal/logging"
)

// Defaults.
const (
	DefaultGracePeriod  = 5 * time.Second
	DefaultPollInterval = time.Second
)

// Signaler delivers signals to PIDs. Implementations return the raw errno
// (unix.ESRCH, unix.EPERM) so it can be classified.
type Signaler interface {
	Signal(pid int, sig unix.Signal) error
}

// SystemSignaler signals real processes with kill(2).
type SystemSignaler struct{}

// Signal implements Signaler.
func (SystemSignaler) Signal(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

// Options configures a Terminator.
type Options struct {
	PollInterval time.Duration
}

// Report describes the outcome of one batch.
type Report struct {
	// PIDs is the deduplicated batch.
	PIDs []int `json:"pids" yaml:"pids"`
	// Escalated lists PIDs that outlived the grace window and were sent SIGKILL.
	Escalated []int `json:"escalated,omitempty" yaml:"escalated,omitempty"`
	// Remaining lists PIDs still present after verification.
	Remaining []int `json:"remaining,omitempty" yaml:"remaining,omitempty"`
	// Failures holds signal errors other than "no such process".
	Failures []error `json:"-" yaml:"-"`
	// Stopped is true iff none of PIDs remain.
	Stopped bool `json:"stopped" yaml:"stopped"`
}

// Gone returns the PIDs confirmed absent.
func (r Report) Gone() []int {
	remaining := make(map[int]bool, len(r.Remaining))
	for _, pid := range r.Remaining {
		remaining[pid] = true
	}
	var gone []int
	for _, pid := range r.PIDs {
		if !remaining[pid] {
			gone = append(gone, pid)
		}
	}
	return gone
}

// Terminator runs the signal/poll/escalate/verify protocol.
type Terminator struct {
	signaler Signaler
	opts     Options
	logger   *logging.Logger
	sleep    func(time.Duration)
}

// New creates a Terminator. A nil signaler uses SystemSignaler.
func New(signaler Signaler, opts Options, logger *logging.Logger) *Terminator {
	if signaler == nil {
		signaler = SystemSignaler{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Terminator{signaler: signaler, opts: opts, logger: logger, sleep: time.Sleep}
}

// Alive probes pid with signal 0. A permission refusal means the process
// exists, so it counts as alive.
func (t *Terminator) Alive(pid int) bool {
	err := t.signaler.Signal(pid, 0)
	return err == nil || !errors.Is(err, unix.ESRCH)
}

// Terminate sends SIGTERM to every PID, polls once per interval for up to
// grace, sends SIGKILL to whatever is left and verifies. It runs to
// completion once started; a zero grace escalates immediately.
func (t *Terminator) Terminate(pids []int, grace time.Duration) Report {
	report := Report{PIDs: normalize(pids)}
	if len(report.PIDs) == 0 {
		report.Stopped = true
		return report
	}

	t.logger.Info("sending SIGTERM", "pids", report.PIDs, "grace", grace.String())
	for _, pid := range report.PIDs {
		if err := t.send(pid, unix.SIGTERM); err != nil && !errors.Is(err, errors.ErrNoSuchProcess) {
			report.Failures = append(report.Failures, err)
		}
	}

	polls := int((grace + t.opts.PollInterval - 1) / t.opts.PollInterval)
	for i := 1; i <= polls; i++ {
		alive := t.alive(report.PIDs)
		if len(alive) == 0 {
			t.logger.Debug("all processes exited", "after_polls", i-1)
			break
		}
		t.logger.Info("waiting for processes to exit", "poll", i, "of", polls, "alive", alive)
		t.sleep(t.opts.PollInterval)
	}

	report.Escalated = t.alive(report.PIDs)
	if len(report.Escalated) > 0 {
		t.logger.Warn("grace period expired, sending SIGKILL", "pids", report.Escalated)
		for _, pid := range report.Escalated {
			if err := t.send(pid, unix.SIGKILL); err != nil && !errors.Is(err, errors.ErrNoSuchProcess) {
				report.Failures = append(report.Failures, err)
			}
		}
	}

	report.Remaining = t.alive(report.PIDs)
	report.Stopped = len(report.Remaining) == 0
	if report.Stopped {
		t.logger.Info("all processes stopped", "count", len(report.PIDs))
	} else {
		t.logger.Error("processes still running", "pids", report.Remaining)
	}
	return report
}

// Signal sends sig to every PID once without waiting or escalating.
// It returns the PIDs that accepted the signal.
func (t *Terminator) Signal(pids []int, sig unix.Signal) ([]int, []error) {
	var delivered []int
	var errs []error
	for _, pid := range normalize(pids) {
		if err := t.send(pid, sig); err != nil {
			if !errors.Is(err, errors.ErrNoSuchProcess) {
				errs = append(errs, err)
			}
			continue
		}
		delivered = append(delivered, pid)
	}
	return delivered, errs
}

// send delivers sig and classifies the failure. A vanished process is
// logged at debug and returned only to Signal.
func (t *Terminator) send(pid int, sig unix.Signal) error {
	err := t.signaler.Signal(pid, sig)
	if err == nil {
		t.logger.Debug("signal sent", "pid", pid, "signal", unix.SignalName(sig))
		return nil
	}

	name := unix.SignalName(sig)
	switch {
	case errors.Is(err, unix.ESRCH):
		t.logger.Debug("process already gone", "pid", pid, "signal", name)
		return errors.NewProcessError(pid, name, errors.ErrNoSuchProcess)
	case errors.Is(err, unix.EPERM):
		perr := errors.NewProcessError(pid, name, errors.ErrPermissionDenied)
		t.logger.Warn("signal refused", "pid", pid, "signal", name, "error", perr)
		return perr
	default:
		perr := errors.NewProcessError(pid, name, err)
		t.logger.Warn("signal failed", "pid", pid, "signal", name, "error", perr)
		return perr
	}
}

func (t *Terminator) alive(pids []int) []int {
	var out []int
	for _, pid := range pids {
		if t.Alive(pid) {
			out = append(out, pid)
		}
	}
	return out
}

// normalize drops non-positive PIDs and duplicates and sorts the rest.
func normalize(pids []int) []int {
	seen := make(map[int]bool, len(pids))
	var out []int
	for _, pid := range pids {
		if pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}
