// Package sysexec runs the OS utilities streamstop depends on (screen, ps,
// lsof) and classifies their failures.
//
// A missing binary is reported as errors.ErrToolUnavailable; a non-zero exit
// status is reported as errors.ErrToolFailed with the exit code attached. The
// captured output is returned in both cases so that callers can decide which
// exit codes are meaningful for the tool they ran.
package sysexec

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/streamstop/internal/errors"
)

// DefaultTimeout bounds a single tool invocation.
const DefaultTimeout = 10 * time.Second

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes an external command.
// Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Timeout bounds each invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

// NewExecRunner returns an ExecRunner with the default timeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Timeout: DefaultTimeout}
}

// Run executes name with args and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	return res, classify(name, err, &res)
}

func classify(name string, err error, res *Result) error {
	if errors.Is(err, exec.ErrNotFound) {
		res.ExitCode = -1
		return errors.NewToolError(name, errors.ErrToolUnavailable)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return errors.NewToolError(name, errors.ErrToolFailed).
			WithExitCode(res.ExitCode).
			WithStderr(res.Stderr)
	}
	res.ExitCode = -1
	return errors.NewToolError(name, errors.Join(errors.ErrToolFailed, err)).
		WithMessage(strings.TrimSpace(err.Error()))
}

// ExitCode extracts the tool exit status from an error returned by a Runner.
// It returns -1 when err carries no exit status.
func ExitCode(err error) int {
	var toolErr *errors.ToolError
	if errors.As(err, &toolErr) {
		return toolErr.ExitCode
	}
	return -1
}
