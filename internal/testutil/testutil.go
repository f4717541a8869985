// Package testutil provides testing utilities for streamstop tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/streamstop/internal/errors"
	"github.com/Iron-Ham/streamstop/internal/sysexec"
)

// Response is a scripted reply for FakeRunner.
type Response struct {
	Result sysexec.Result
	Err    error
}

// Output returns a successful Response with the given stdout.
func Output(stdout string) Response {
	return Response{Result: sysexec.Result{Stdout: stdout}}
}

// ExitStatus returns a Response for a tool that exited with code.
func ExitStatus(tool string, code int, stdout string) Response {
	return Response{
		Result: sysexec.Result{Stdout: stdout, ExitCode: code},
		Err:    errors.NewToolError(tool, errors.ErrToolFailed).WithExitCode(code),
	}
}

// Missing returns a Response for a tool that is not installed.
func Missing(tool string) Response {
	return Response{
		Result: sysexec.Result{ExitCode: -1},
		Err:    errors.NewToolError(tool, errors.ErrToolUnavailable),
	}
}

// FakeRunner is a sysexec.Runner that replays scripted responses.
//
// Responses are keyed by the full command line ("screen -list"). Several
// responses registered for the same command are returned in order; the last
// one repeats once the queue is drained. Commands with no script return
// Fallback.
type FakeRunner struct {
	mu       sync.Mutex
	scripts  map[string][]Response
	calls    []string
	Fallback Response
}

// NewFakeRunner creates an empty FakeRunner whose fallback reports a missing tool.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		scripts:  make(map[string][]Response),
		Fallback: Missing("unknown"),
	}
}

// On appends resp to the queue for cmdline.
func (f *FakeRunner) On(cmdline string, resp ...Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[cmdline] = append(f.scripts[cmdline], resp...)
	return f
}

// Run implements sysexec.Runner.
func (f *FakeRunner) Run(_ context.Context, name string, args ...string) (sysexec.Result, error) {
	cmdline := strings.Join(append([]string{name}, args...), " ")

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmdline)

	queue, ok := f.scripts[cmdline]
	if !ok || len(queue) == 0 {
		return f.Fallback.Result, f.Fallback.Err
	}
	resp := queue[0]
	if len(queue) > 1 {
		f.scripts[cmdline] = queue[1:]
	}
	return resp.Result, resp.Err
}

// Calls returns every command line run so far.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns how many times cmdline was run.
func (f *FakeRunner) CallCount(cmdline string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == cmdline {
			n++
		}
	}
	return n
}

// WriteFiles creates files on fs. The files map contains paths to contents.
func WriteFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for path, content := range files {
		if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", path, err)
		}
		if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write file %s: %v", path, err)
		}
	}
}

// AssertExists fails the test if path does not exist on fs.
func AssertExists(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	if ok, err := afero.Exists(fs, path); err != nil || !ok {
		t.Errorf("expected %s to exist", path)
	}
}

// AssertMissing fails the test if path exists on fs.
func AssertMissing(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	if ok, _ := afero.Exists(fs, path); ok {
		t.Errorf("expected %s to be absent", path)
	}
}

// ListFiles returns every regular file under root on fs, relative to root.
func ListFiles(t *testing.T, fs afero.Fs, root string) []string {
	t.Helper()
	var out []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(root, path)
			out = append(out, rel)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("failed to walk %s: %v", root, err)
	}
	return out
}

// PSLine formats one row of `ps -e -o pid= -o ppid= -o args=` output.
func PSLine(pid, ppid int, args string) string {
	return fmt.Sprintf("%7d %7d %s\n", pid, ppid, args)
}
