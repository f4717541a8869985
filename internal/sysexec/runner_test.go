package sysexec

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/streamstop/internal/errors"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestExecRunner_Success(t *testing.T) {
	requireBinary(t, "sh")

	res, err := NewExecRunner().Run(context.Background(), "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	requireBinary(t, "sh")

	res, err := NewExecRunner().Run(context.Background(), "sh", "-c", "echo partial; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !errors.Is(err, errors.ErrToolFailed) {
		t.Errorf("error should wrap ErrToolFailed: %v", err)
	}
	if errors.Is(err, errors.ErrToolUnavailable) {
		t.Error("non-zero exit must not be reported as tool unavailable")
	}
	if res.ExitCode != 3 || ExitCode(err) != 3 {
		t.Errorf("exit code = %d / %d, want 3", res.ExitCode, ExitCode(err))
	}
	if !strings.Contains(res.Stdout, "partial") {
		t.Errorf("stdout should be captured on failure, got %q", res.Stdout)
	}
}

func TestExecRunner_MissingTool(t *testing.T) {
	_, err := NewExecRunner().Run(context.Background(), "streamstop-no-such-binary-x1")
	if !errors.Is(err, errors.ErrToolUnavailable) {
		t.Fatalf("expected ErrToolUnavailable, got %v", err)
	}
	if ExitCode(err) != -1 {
		t.Errorf("ExitCode = %d, want -1", ExitCode(err))
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	requireBinary(t, "sleep")

	r := &ExecRunner{Timeout: 100 * time.Millisecond}
	start := time.Now()
	_, err := r.Run(context.Background(), "sleep", "5")
	if err == nil {
		t.Fatal("expected error when the command outlives the timeout")
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestExitCode_NonToolError(t *testing.T) {
	if got := ExitCode(errors.New("plain")); got != -1 {
		t.Errorf("ExitCode(plain) = %d, want -1", got)
	}
	if got := ExitCode(nil); got != -1 {
		t.Errorf("ExitCode(nil) = %d, want -1", got)
	}
}
