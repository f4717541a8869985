// Package runlock keeps two shutdown runs from working the same base
// directory at once.
package runlock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"github.com/Iron-Ham/streamstop/internal/errors"
)

// DefaultFile is the lock file name inside the base directory.
const DefaultFile = ".streamstop.lock"

// Lock is a held run lock.
type Lock struct {
	fl   *flock.Flock
	path string
}

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID   int
	RunID string
}

// Acquire takes the lock at path without blocking. When another process
// holds it the error wraps errors.ErrLockHeld and names the holder if known.
func Acquire(path, runID string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.NewFileError(path, err).WithMessage("creating lock directory")
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, errors.NewFileError(path, err).WithMessage("acquiring run lock")
	}
	if !ok {
		msg := "another run holds the lock"
		if h, err := ReadHolder(path); err == nil {
			msg = fmt.Sprintf("run %s (pid %d) holds the lock", h.RunID, h.PID)
		}
		return nil, errors.NewFileError(path, errors.ErrLockHeld).WithMessage(msg)
	}

	content := fmt.Sprintf("%d %s\n", os.Getpid(), runID)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		_ = fl.Unlock()
		return nil, errors.NewFileError(path, err).WithMessage("writing run lock")
	}
	return &Lock{fl: fl, path: path}, nil
}

// ReadHolder parses the "<pid> <run-id>" line written by Acquire.
func ReadHolder(path string) (Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Holder{}, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return Holder{}, fmt.Errorf("empty lock file")
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return Holder{}, fmt.Errorf("invalid lock file: %w", err)
	}
	h := Holder{PID: pid}
	if len(fields) > 1 {
		h.RunID = fields[1]
	}
	return h, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks. The file is left in place so the next run reuses it.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
