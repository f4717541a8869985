// Package logging provides structured logging for streamstop runs.
// It wraps Go's log/slog package to write JSON entries to a rotating log
// file, human-readable lines to the console, and optionally to syslog.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// SyslogTag is the program tag used for syslog entries.
const SyslogTag = "stream_stop"

// Options configures a Logger.
type Options struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string
	// File is the path of the JSON log file. Empty disables file logging.
	File string
	// Rotation controls size-based rotation of File.
	Rotation RotationConfig
	// Console receives human-readable text lines. Nil disables console output.
	Console io.Writer
	// Syslog also sends entries to the local syslog daemon when available.
	Syslog bool
}

// Logger provides structured logging with persistent context attributes.
// It is safe for concurrent use.
type Logger struct {
	logger  *slog.Logger
	closers *closerSet
}

// closerSet is shared between a root Logger and all of its children so that
// closing any of them releases the underlying sinks exactly once.
type closerSet struct {
	mu      sync.Mutex
	closers []io.Closer
}

func (c *closerSet) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// New creates a Logger from opts. Sinks that cannot be opened are reported
// as an error, except syslog which is skipped with a console warning when
// the local daemon is unreachable.
func New(opts Options) (*Logger, error) {
	level := parseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}
	set := &closerSet{}

	var handlers []slog.Handler
	if opts.File != "" {
		rw, err := NewRotatingWriter(opts.File, opts.Rotation)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		set.closers = append(set.closers, rw)
		handlers = append(handlers, slog.NewJSONHandler(rw, handlerOpts))
	}
	if opts.Console != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.Console, handlerOpts))
	}
	if opts.Syslog {
		w, err := openSyslog(SyslogTag)
		if err != nil {
			if opts.Console != nil {
				fmt.Fprintf(opts.Console, "Warning: syslog unavailable: %v\n", err)
			}
		} else {
			set.closers = append(set.closers, w)
			handlers = append(handlers, slog.NewTextHandler(w, handlerOpts))
		}
	}

	var h slog.Handler
	switch len(handlers) {
	case 0:
		h = slog.NewJSONHandler(io.Discard, handlerOpts)
	case 1:
		h = handlers[0]
	default:
		h = fanout(handlers)
	}

	return &Logger{logger: slog.New(h), closers: set}, nil
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRun returns a child Logger tagged with the run ID.
func (l *Logger) WithRun(runID string) *Logger {
	return l.With("run_id", runID)
}

// WithStream returns a child Logger tagged with a stream index.
func (l *Logger) WithStream(streamID int) *Logger {
	return l.With("stream", streamID)
}

// WithStage returns a child Logger tagged with an orchestrator stage.
func (l *Logger) WithStage(stage string) *Logger {
	return l.With("stage", stage)
}

// With returns a child Logger with arbitrary key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(args...), closers: l.closers}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Log(context.Background(), slog.LevelError, msg, args...)
}

// Enabled reports whether level would be emitted.
func (l *Logger) Enabled(level string) bool {
	return l.logger.Enabled(context.Background(), parseLevel(level))
}

// Close flushes and closes every sink. Closing a child closes the root's sinks.
func (l *Logger) Close() error {
	if l.closers == nil {
		return nil
	}
	return l.closers.close()
}

// NopLogger returns a Logger that discards all log output.
// Useful for testing or when logging is disabled.
func NopLogger() *Logger {
	return &Logger{
		logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
		closers: &closerSet{},
	}
}

// ParseLevel normalizes a level string to one of the Level constants.
// Returns LevelInfo if the level string is not recognized.
func ParseLevel(level string) string {
	switch strings.ToUpper(level) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return strings.ToUpper(level)
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}

// fanoutHandler duplicates every record to each wrapped handler.
type fanoutHandler []slog.Handler

func fanout(hs []slog.Handler) slog.Handler { return fanoutHandler(hs) }

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
