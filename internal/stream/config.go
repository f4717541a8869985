// Package stream resolves per-stream output locations from the recorder's
// environment files.
//
// Stream N is configured by <base>/profiles/<profile>/.env.streamN, falling
// back to <base>/.env.streamN. Only TEMP_OUTPUT_PATH and FINAL_OUTPUT_PATH
// are read; anything missing takes the configured default.
package stream

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/subosito/gotenv"

	"github.com/Iron-Ham/streamstop/internal/logging"
)

// Environment keys read from a stream env file.
const (
	KeyTempOutput  = "TEMP_OUTPUT_PATH"
	KeyFinalOutput = "FINAL_OUTPUT_PATH"
)

// Defaults used when no env file provides a value.
const (
	DefaultTempDir   = "./output/temp/"
	DefaultFinalRoot = "/mnt/nas/cam"
	DefaultProfile   = "sim"
)

// Config is the resolved, immutable configuration of one stream.
type Config struct {
	StreamID  int    `json:"stream_id" yaml:"stream_id"`
	TempDir   string `json:"temp_dir" yaml:"temp_dir"`
	FinalRoot string `json:"final_root" yaml:"final_root"`
	// EnvFile is the file consulted, whether or not it exists.
	EnvFile string `json:"env_file" yaml:"env_file"`
	// FromDefaults is set when EnvFile was missing.
	FromDefaults bool `json:"from_defaults,omitempty" yaml:"from_defaults,omitempty"`
}

// Options configures a Loader.
type Options struct {
	BaseDir          string
	Profile          string
	DefaultTempDir   string
	DefaultFinalRoot string
}

// Loader builds stream Configs.
type Loader struct {
	fs     afero.Fs
	opts   Options
	logger *logging.Logger
}

// NewLoader creates a Loader. Empty options take package defaults.
func NewLoader(fs afero.Fs, opts Options, logger *logging.Logger) *Loader {
	if opts.Profile == "" {
		opts.Profile = DefaultProfile
	}
	if opts.DefaultTempDir == "" {
		opts.DefaultTempDir = DefaultTempDir
	}
	if opts.DefaultFinalRoot == "" {
		opts.DefaultFinalRoot = DefaultFinalRoot
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Loader{fs: fs, opts: opts, logger: logger}
}

// Get resolves stream id. A missing or unreadable env file is not an error.
// Relative paths are resolved against the base directory.
func (l *Loader) Get(id int) Config {
	envFile := l.envFile(id)
	cfg := Config{
		StreamID:  id,
		TempDir:   l.opts.DefaultTempDir,
		FinalRoot: l.opts.DefaultFinalRoot,
		EnvFile:   envFile,
	}

	values, err := l.readEnv(envFile, KeyTempOutput, KeyFinalOutput)
	if err != nil {
		l.logger.Warn("stream env file not found, using defaults", "stream", id, "env_file", envFile)
		cfg.FromDefaults = true
	}
	if v := values[KeyTempOutput]; v != "" {
		cfg.TempDir = v
	}
	if v := values[KeyFinalOutput]; v != "" {
		cfg.FinalRoot = v
	}

	cfg.TempDir = l.resolve(cfg.TempDir)
	cfg.FinalRoot = l.resolve(cfg.FinalRoot)
	l.logger.Debug("stream config", "stream", id, "temp_dir", cfg.TempDir,
		"final_root", cfg.FinalRoot, "env_file", envFile)
	return cfg
}

// All resolves streams 1..n.
func (l *Loader) All(n int) []Config {
	out := make([]Config, 0, n)
	for id := 1; id <= n; id++ {
		out = append(out, l.Get(id))
	}
	return out
}

func (l *Loader) envFile(id int) string {
	name := fmt.Sprintf(".env.stream%d", id)
	primary := filepath.Join(l.opts.BaseDir, "profiles", l.opts.Profile, name)
	if ok, _ := afero.Exists(l.fs, primary); ok {
		return primary
	}
	return filepath.Join(l.opts.BaseDir, name)
}

func (l *Loader) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(l.opts.BaseDir, p)
}

// readEnv returns the first value of each wanted key in path.
func (l *Loader) readEnv(path string, keys ...string) (map[string]string, error) {
	f, err := l.fs.Open(path)
	if err != nil {
		return map[string]string{}, err
	}
	defer f.Close()

	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	return ParseFirst(bufio.NewScanner(f), want, l.logger), nil
}

// ParseFirst parses KEY=value lines and keeps the first occurrence of each
// key in want. A nil want keeps every key.
func ParseFirst(sc *bufio.Scanner, want map[string]bool, logger *logging.Logger) map[string]string {
	out := make(map[string]string)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		env, err := gotenv.StrictParse(strings.NewReader(line))
		if err != nil {
			if logger != nil {
				logger.Debug("skipping malformed env line", "line", lineNo, "error", err)
			}
			continue
		}
		for k, v := range env {
			if want != nil && !want[k] {
				continue
			}
			if _, seen := out[k]; !seen {
				out[k] = v
			}
		}
	}
	return out
}
