package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete streamstop configuration
type Config struct {
	// BaseDir is the recorder installation directory holding profiles/,
	// the .env files and the per-stream logs. Empty means the working directory.
	BaseDir string `mapstructure:"base_dir"`
	// Profile selects profiles/<profile>/.env.streamN (default: "sim")
	Profile string `mapstructure:"profile"`
	// NumStreams is how many stream indices (1..N) are handled (default: 6)
	NumStreams int `mapstructure:"num_streams"`

	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Selector  SelectorConfig  `mapstructure:"selector"`
	Terminate TerminateConfig `mapstructure:"terminate"`
	Finalize  FinalizeConfig  `mapstructure:"finalize"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Auxiliary AuxiliaryConfig `mapstructure:"auxiliary"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	API       APIConfig       `mapstructure:"api"`
	Lock      LockConfig      `mapstructure:"lock"`
	Mover     MoverConfig     `mapstructure:"mover"`
}

// SessionsConfig controls how screen sessions are recognized
type SessionsConfig struct {
	// StreamPrefix identifies stream sessions: <prefix><N> (default: "rtsp_stream")
	StreamPrefix string `mapstructure:"stream_prefix"`
	// FileMoverName is the file-mover session name (default: "rtsp_file_mover")
	FileMoverName string `mapstructure:"file_mover_name"`
	// SettleSeconds is the wait after quitting a session before re-listing (default: 1)
	SettleSeconds int `mapstructure:"settle_seconds"`
}

// ScoreRule is one entry of the target scoring table
type ScoreRule struct {
	Token  string `mapstructure:"token"`
	Weight int    `mapstructure:"weight"`
	// Mode is "substring" or "word"
	Mode string `mapstructure:"mode"`
}

// SelectorConfig controls which descendant of a stream session is signaled
type SelectorConfig struct {
	// Rules replaces the built-in scoring table when non-empty
	Rules []ScoreRule `mapstructure:"rules"`
	// RefuseBlocklistedFallback prevents the deepest-process fallback from
	// picking a shell or other negatively scored process (default: false)
	RefuseBlocklistedFallback bool `mapstructure:"refuse_blocklisted_fallback"`
}

// TerminateConfig controls the graceful-then-forced stop protocol
type TerminateConfig struct {
	// GraceSeconds is how long signaled workers get to exit before SIGKILL (default: 5)
	GraceSeconds int `mapstructure:"grace_seconds"`
	// PollIntervalMs is the liveness polling cadence (default: 1000)
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
}

// FinalizeConfig controls promotion of in-progress files
type FinalizeConfig struct {
	// Prefix marks in-progress files (default: "temp_")
	Prefix string `mapstructure:"prefix"`
	// Extensions are processed in order (default: mp4, srt)
	Extensions []string `mapstructure:"extensions"`
	// RequiredSamples is the number of unchanged samples after the first that make a file stable (default: 3)
	RequiredSamples int `mapstructure:"required_samples"`
	// MaxSamples bounds the stability check (default: 15)
	MaxSamples int `mapstructure:"max_samples"`
	// SampleIntervalMs is the time between size samples (default: 1000)
	SampleIntervalMs int `mapstructure:"sample_interval_ms"`
	// Always runs the file stages even when no worker was stopped (default: false)
	Always bool `mapstructure:"always"`
	// Parallel finalizes streams concurrently (default: true)
	Parallel bool `mapstructure:"parallel"`
}

// SweepConfig controls relocation into the dated archive
type SweepConfig struct {
	// MaxPasses bounds the drain loop (default: 20, or FINAL_SWEEP_SECONDS)
	MaxPasses int `mapstructure:"max_passes"`
	// PauseMs is the wait between passes that moved files (default: 1000)
	PauseMs int `mapstructure:"pause_ms"`
	// MoverSettleSeconds gives the file-mover a head start before the sweep (default: 3)
	MoverSettleSeconds int `mapstructure:"mover_settle_seconds"`
}

// AuxiliaryConfig controls the cleanup that runs after the streams are down
type AuxiliaryConfig struct {
	StopFileMover bool `mapstructure:"stop_file_mover"`
	// MediaServerMatch is matched against command lines (default: "mediamtx"). Empty disables.
	MediaServerMatch string `mapstructure:"media_server_match"`
	// MediaGraceSeconds is the wait before the media server is killed (default: 3)
	MediaGraceSeconds int `mapstructure:"media_grace_seconds"`
	// DaemonMatch is the companion daemon, sent SIGTERM only (default: "run_daemon.py"). Empty disables.
	DaemonMatch string `mapstructure:"daemon_match"`
	// EnvTempFiles is how many .env.tempN files are removed (default: 6)
	EnvTempFiles int `mapstructure:"env_temp_files"`
	// RemoveEnvFile also removes <base>/.env (default: true)
	RemoveEnvFile bool `mapstructure:"remove_env_file"`
	// InterruptBudgetSeconds bounds cleanup after an interrupt (default: 10)
	InterruptBudgetSeconds int `mapstructure:"interrupt_budget_seconds"`
}

// DefaultsConfig holds the stream paths used when no env file sets them
type DefaultsConfig struct {
	TempOutputPath  string `mapstructure:"temp_output_path"`
	FinalOutputPath string `mapstructure:"final_output_path"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// File is the JSON log file. Relative paths are resolved against base_dir. (default: "stop_streams.log")
	File string `mapstructure:"file"`
	// MaxSizeMB is the maximum size of a log file before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress"`
	// Syslog also sends entries to the local syslog daemon (default: true)
	Syslog bool `mapstructure:"syslog"`
}

// APIConfig points at the vessel device API used to label streams
type APIConfig struct {
	// BaseURL of the device API. Empty disables camera lookups.
	BaseURL string `mapstructure:"base_url"`
	// TimeoutSeconds bounds each request (default: 5)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// LockConfig controls the run lock
type LockConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// File is relative to base_dir unless absolute (default: ".streamstop.lock")
	File string `mapstructure:"file"`
}

// MoverConfig controls the file-mover service
type MoverConfig struct {
	// DebounceMs coalesces bursts of filesystem events (default: 2000)
	DebounceMs int `mapstructure:"debounce_ms"`
	// IntervalSeconds is the periodic sweep when no events arrive (default: 30)
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// LegacySweepEnv is the recorder's environment variable for the sweep pass budget.
const LegacySweepEnv = "FINAL_SWEEP_SECONDS"

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Profile:    "sim",
		NumStreams: 6,
		Sessions: SessionsConfig{
			StreamPrefix:  "rtsp_stream",
			FileMoverName: "rtsp_file_mover",
			SettleSeconds: 1,
		},
		Selector: SelectorConfig{
			Rules:                     nil,
			RefuseBlocklistedFallback: false,
		},
		Terminate: TerminateConfig{
			GraceSeconds:   5,
			PollIntervalMs: 1000,
		},
		Finalize: FinalizeConfig{
			Prefix:           "temp_",
			Extensions:       []string{"mp4", "srt"},
			RequiredSamples:  3,
			MaxSamples:       15,
			SampleIntervalMs: 1000,
			Always:           false,
			Parallel:         true,
		},
		Sweep: SweepConfig{
			MaxPasses:          20,
			PauseMs:            1000,
			MoverSettleSeconds: 3,
		},
		Auxiliary: AuxiliaryConfig{
			StopFileMover:          true,
			MediaServerMatch:       "mediamtx",
			MediaGraceSeconds:      3,
			DaemonMatch:            "run_daemon.py",
			EnvTempFiles:           6,
			RemoveEnvFile:          true,
			InterruptBudgetSeconds: 10,
		},
		Defaults: DefaultsConfig{
			TempOutputPath:  "./output/temp/",
			FinalOutputPath: "/mnt/nas/cam",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "stop_streams.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
			Syslog:     true,
		},
		API: APIConfig{
			BaseURL:        "",
			TimeoutSeconds: 5,
		},
		Lock: LockConfig{
			Enabled: true,
			File:    ".streamstop.lock",
		},
		Mover: MoverConfig{
			DebounceMs:      2000,
			IntervalSeconds: 30,
		},
	}
}

// SettleDelay returns the session settle delay as a time.Duration
func (c *SessionsConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleSeconds) * time.Second
}

// GracePeriod returns the termination grace period as a time.Duration
func (c *TerminateConfig) GracePeriod() time.Duration {
	return time.Duration(c.GraceSeconds) * time.Second
}

// PollInterval returns the liveness polling interval as a time.Duration
func (c *TerminateConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// SampleInterval returns the stability sampling interval as a time.Duration
func (c *FinalizeConfig) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMs) * time.Millisecond
}

// Pause returns the pause between sweep passes as a time.Duration
func (c *SweepConfig) Pause() time.Duration {
	return time.Duration(c.PauseMs) * time.Millisecond
}

// MoverSettle returns the file-mover head start as a time.Duration
func (c *SweepConfig) MoverSettle() time.Duration {
	return time.Duration(c.MoverSettleSeconds) * time.Second
}

// MediaGrace returns the media server grace period as a time.Duration
func (c *AuxiliaryConfig) MediaGrace() time.Duration {
	return time.Duration(c.MediaGraceSeconds) * time.Second
}

// InterruptBudget returns the post-interrupt cleanup budget as a time.Duration
func (c *AuxiliaryConfig) InterruptBudget() time.Duration {
	return time.Duration(c.InterruptBudgetSeconds) * time.Second
}

// Timeout returns the API request timeout as a time.Duration
func (c *APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Debounce returns the mover debounce window as a time.Duration
func (c *MoverConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// Interval returns the mover fallback interval as a time.Duration
func (c *MoverConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ResolveBaseDir returns BaseDir as an absolute path, defaulting to the
// working directory. A leading ~ expands to the user's home directory.
func (c *Config) ResolveBaseDir() string {
	path := expandHome(c.BaseDir)
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
		return "."
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// ResolvePath resolves p against the base directory unless it is absolute.
func (c *Config) ResolvePath(p string) string {
	if p == "" {
		return ""
	}
	p = expandHome(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ResolveBaseDir(), p)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("base_dir", defaults.BaseDir)
	viper.SetDefault("profile", defaults.Profile)
	viper.SetDefault("num_streams", defaults.NumStreams)

	// Sessions defaults
	viper.SetDefault("sessions.stream_prefix", defaults.Sessions.StreamPrefix)
	viper.SetDefault("sessions.file_mover_name", defaults.Sessions.FileMoverName)
	viper.SetDefault("sessions.settle_seconds", defaults.Sessions.SettleSeconds)

	// Selector defaults
	viper.SetDefault("selector.rules", defaults.Selector.Rules)
	viper.SetDefault("selector.refuse_blocklisted_fallback", defaults.Selector.RefuseBlocklistedFallback)

	// Terminate defaults
	viper.SetDefault("terminate.grace_seconds", defaults.Terminate.GraceSeconds)
	viper.SetDefault("terminate.poll_interval_ms", defaults.Terminate.PollIntervalMs)

	// Finalize defaults
	viper.SetDefault("finalize.prefix", defaults.Finalize.Prefix)
	viper.SetDefault("finalize.extensions", defaults.Finalize.Extensions)
	viper.SetDefault("finalize.required_samples", defaults.Finalize.RequiredSamples)
	viper.SetDefault("finalize.max_samples", defaults.Finalize.MaxSamples)
	viper.SetDefault("finalize.sample_interval_ms", defaults.Finalize.SampleIntervalMs)
	viper.SetDefault("finalize.always", defaults.Finalize.Always)
	viper.SetDefault("finalize.parallel", defaults.Finalize.Parallel)

	// Sweep defaults. The recorder's legacy variable wins over the built-in default.
	maxPasses := defaults.Sweep.MaxPasses
	if v, err := strconv.Atoi(os.Getenv(LegacySweepEnv)); err == nil && v > 0 {
		maxPasses = v
	}
	viper.SetDefault("sweep.max_passes", maxPasses)
	viper.SetDefault("sweep.pause_ms", defaults.Sweep.PauseMs)
	viper.SetDefault("sweep.mover_settle_seconds", defaults.Sweep.MoverSettleSeconds)

	// Auxiliary defaults
	viper.SetDefault("auxiliary.stop_file_mover", defaults.Auxiliary.StopFileMover)
	viper.SetDefault("auxiliary.media_server_match", defaults.Auxiliary.MediaServerMatch)
	viper.SetDefault("auxiliary.media_grace_seconds", defaults.Auxiliary.MediaGraceSeconds)
	viper.SetDefault("auxiliary.daemon_match", defaults.Auxiliary.DaemonMatch)
	viper.SetDefault("auxiliary.env_temp_files", defaults.Auxiliary.EnvTempFiles)
	viper.SetDefault("auxiliary.remove_env_file", defaults.Auxiliary.RemoveEnvFile)
	viper.SetDefault("auxiliary.interrupt_budget_seconds", defaults.Auxiliary.InterruptBudgetSeconds)

	// Stream path defaults
	viper.SetDefault("defaults.temp_output_path", defaults.Defaults.TempOutputPath)
	viper.SetDefault("defaults.final_output_path", defaults.Defaults.FinalOutputPath)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
	viper.SetDefault("logging.syslog", defaults.Logging.Syslog)

	// API defaults
	viper.SetDefault("api.base_url", defaults.API.BaseURL)
	viper.SetDefault("api.timeout_seconds", defaults.API.TimeoutSeconds)

	// Lock defaults
	viper.SetDefault("lock.enabled", defaults.Lock.Enabled)
	viper.SetDefault("lock.file", defaults.Lock.File)

	// Mover defaults
	viper.SetDefault("mover.debounce_ms", defaults.Mover.DebounceMs)
	viper.SetDefault("mover.interval_seconds", defaults.Mover.IntervalSeconds)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded values do not unmarshal or validate
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "streamstop")
	}
	// Fall back to ~/.config/streamstop
	home, err := os.UserHomeDir()
	if err != nil {
		return ".streamstop"
	}
	return filepath.Join(home, ".config", "streamstop")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidMatchModes returns the accepted selector rule modes
func ValidMatchModes() []string {
	return []string{"substring", "word"}
}
