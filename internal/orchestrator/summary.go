package orchestrator

import (
	"time"

	"github.com/Iron-Ham/streamstop/internal/auxiliary"
	"github.com/Iron-Ham/streamstop/internal/errors"
	"github.com/Iron-Ham/streamstop/internal/finalize"
	"github.com/Iron-Ham/streamstop/internal/screen"
	"github.com/Iron-Ham/streamstop/internal/sweep"
	"github.com/Iron-Ham/streamstop/internal/target"
	"github.com/Iron-Ham/streamstop/internal/terminate"
)

// Target is the process chosen for one stream session.
type Target struct {
	StreamID   int              `json:"stream_id" yaml:"stream_id"`
	Session    string           `json:"session" yaml:"session"`
	SessionPID int              `json:"session_pid" yaml:"session_pid"`
	Candidate  target.Candidate `json:"candidate" yaml:"candidate"`
}

// Failure is one partial failure recorded during a run.
type Failure struct {
	Stage    string `json:"stage" yaml:"stage"`
	StreamID int    `json:"stream_id,omitempty" yaml:"stream_id,omitempty"`
	Message  string `json:"message" yaml:"message"`
	// Expected marks the absorb-and-continue classes (missing tool, vanished
	// process, missing directory and the like).
	Expected bool `json:"expected" yaml:"expected"`
}

// Summary is the result of a shutdown run.
type Summary struct {
	RunID string `json:"run_id" yaml:"run_id"`
	State State  `json:"state" yaml:"state"`

	StoppedCount      int `json:"stopped_count" yaml:"stopped_count"`
	TempFilesRemoved  int `json:"temp_files_removed" yaml:"temp_files_removed"`
	RemainingSessions int `json:"remaining_sessions" yaml:"remaining_sessions"`

	SessionsBefore screen.Counts `json:"sessions_before" yaml:"sessions_before"`
	SessionsAfter  screen.Counts `json:"sessions_after" yaml:"sessions_after"`
	Targets        []Target      `json:"targets,omitempty" yaml:"targets,omitempty"`
	// Unresolved lists stream sessions for which no process could be chosen.
	Unresolved  []string         `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Termination terminate.Report `json:"termination" yaml:"termination"`

	FileStagesRun   bool              `json:"file_stages_run" yaml:"file_stages_run"`
	Finalized       []finalize.Result `json:"finalized,omitempty" yaml:"finalized,omitempty"`
	FilesFinalized  int               `json:"files_finalized" yaml:"files_finalized"`
	Sweep           sweep.Drain       `json:"sweep" yaml:"sweep"`
	FilesRelocated  int               `json:"files_relocated" yaml:"files_relocated"`
	UnresolvedFiles int               `json:"unresolved_files" yaml:"unresolved_files"`

	Auxiliary auxiliary.Report `json:"auxiliary" yaml:"auxiliary"`

	Failures    []Failure     `json:"failures,omitempty" yaml:"failures,omitempty"`
	Interrupted bool          `json:"interrupted" yaml:"interrupted"`
	Duration    time.Duration `json:"duration" yaml:"duration"`

	errs []error
}

// Errors returns the underlying errors behind Failures.
func (s *Summary) Errors() []error {
	return s.errs
}

// Succeeded reports whether every stream session is gone, every file was
// handed off and the run was not interrupted.
func (s *Summary) Succeeded() bool {
	return s.RemainingSessions == 0 && s.UnresolvedFiles == 0 && !s.Interrupted
}

// ExitCode maps the summary to a process exit status.
func (s *Summary) ExitCode() int {
	if s.Succeeded() {
		return 0
	}
	return 1
}

func (s *Summary) fail(stage string, streamID int, msg string, cause error) error {
	err := errors.NewStageError(stage, msg, cause)
	s.errs = append(s.errs, err)
	s.Failures = append(s.Failures, Failure{
		Stage:    stage,
		StreamID: streamID,
		Message:  err.Error(),
		Expected: errors.IsExpected(cause),
	})
	return err
}
