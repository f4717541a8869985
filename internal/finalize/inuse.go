package finalize

import (
	"context"
	"sync"

	"github.com/Iron-Ham/streamstop/internal/errors"
	"github.com/Iron-Ham/streamstop/internal/logging"
	"github.com/Iron-Ham/streamstop/internal/sysexec"
)

// InUseChecker reports whether any process holds a file open.
type InUseChecker interface {
	InUse(ctx context.Context, path string) bool
}

// LsofChecker asks lsof. Exit 0 means some process has the file open; a
// missing lsof or any other status means nobody does. It is safe for
// concurrent use.
type LsofChecker struct {
	runner sysexec.Runner
	logger *logging.Logger
	warned sync.Once
}

// NewLsofChecker creates a LsofChecker.
func NewLsofChecker(runner sysexec.Runner, logger *logging.Logger) *LsofChecker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &LsofChecker{runner: runner, logger: logger}
}

// InUse implements InUseChecker.
func (c *LsofChecker) InUse(ctx context.Context, path string) bool {
	_, err := c.runner.Run(ctx, "lsof", path)
	if err == nil {
		return true
	}
	if errors.Is(err, errors.ErrToolUnavailable) {
		c.warned.Do(func() {
			c.logger.Warn("lsof is not installed, assuming files are closed")
		})
	}
	return false
}
