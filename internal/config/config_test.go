package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Profile != "sim" {
		t.Errorf("Profile = %q, want %q", cfg.Profile, "sim")
	}
	if cfg.NumStreams != 6 {
		t.Errorf("NumStreams = %d, want 6", cfg.NumStreams)
	}

	// Verify default session naming
	if cfg.Sessions.StreamPrefix != "rtsp_stream" {
		t.Errorf("Sessions.StreamPrefix = %q", cfg.Sessions.StreamPrefix)
	}
	if cfg.Sessions.FileMoverName != "rtsp_file_mover" {
		t.Errorf("Sessions.FileMoverName = %q", cfg.Sessions.FileMoverName)
	}

	// Verify default terminate config
	if cfg.Terminate.GraceSeconds != 5 {
		t.Errorf("Terminate.GraceSeconds = %d, want 5", cfg.Terminate.GraceSeconds)
	}

	// Verify default finalize config
	if cfg.Finalize.RequiredSamples != 3 || cfg.Finalize.MaxSamples != 15 {
		t.Errorf("Finalize samples = %d/%d, want 3/15", cfg.Finalize.RequiredSamples, cfg.Finalize.MaxSamples)
	}
	if len(cfg.Finalize.Extensions) != 2 || cfg.Finalize.Extensions[0] != "mp4" || cfg.Finalize.Extensions[1] != "srt" {
		t.Errorf("Finalize.Extensions = %v, want [mp4 srt]", cfg.Finalize.Extensions)
	}
	if cfg.Finalize.Always {
		t.Error("Finalize.Always should be false by default")
	}

	// Verify default sweep config
	if cfg.Sweep.MaxPasses != 20 {
		t.Errorf("Sweep.MaxPasses = %d, want 20", cfg.Sweep.MaxPasses)
	}
	if cfg.Sweep.MoverSettleSeconds != 3 {
		t.Errorf("Sweep.MoverSettleSeconds = %d, want 3", cfg.Sweep.MoverSettleSeconds)
	}

	// Verify default auxiliary config
	if cfg.Auxiliary.MediaServerMatch != "mediamtx" {
		t.Errorf("Auxiliary.MediaServerMatch = %q", cfg.Auxiliary.MediaServerMatch)
	}
	if cfg.Auxiliary.DaemonMatch != "run_daemon.py" {
		t.Errorf("Auxiliary.DaemonMatch = %q", cfg.Auxiliary.DaemonMatch)
	}
	if cfg.Auxiliary.EnvTempFiles != 6 || !cfg.Auxiliary.RemoveEnvFile {
		t.Errorf("Auxiliary env cleanup = %d/%v", cfg.Auxiliary.EnvTempFiles, cfg.Auxiliary.RemoveEnvFile)
	}

	// Verify default stream paths
	if cfg.Defaults.TempOutputPath != "./output/temp/" {
		t.Errorf("Defaults.TempOutputPath = %q", cfg.Defaults.TempOutputPath)
	}
	if cfg.Defaults.FinalOutputPath != "/mnt/nas/cam" {
		t.Errorf("Defaults.FinalOutputPath = %q", cfg.Defaults.FinalOutputPath)
	}

	// Verify default logging config
	if cfg.Logging.File != "stop_streams.log" {
		t.Errorf("Logging.File = %q", cfg.Logging.File)
	}
	if !cfg.Logging.Syslog {
		t.Error("Logging.Syslog should be true by default")
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("default config should validate, got %v", errs)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"settle", cfg.Sessions.SettleDelay(), time.Second},
		{"grace", cfg.Terminate.GracePeriod(), 5 * time.Second},
		{"poll", cfg.Terminate.PollInterval(), time.Second},
		{"sample", cfg.Finalize.SampleInterval(), time.Second},
		{"pause", cfg.Sweep.Pause(), time.Second},
		{"mover settle", cfg.Sweep.MoverSettle(), 3 * time.Second},
		{"media grace", cfg.Auxiliary.MediaGrace(), 3 * time.Second},
		{"interrupt budget", cfg.Auxiliary.InterruptBudget(), 10 * time.Second},
		{"api timeout", cfg.API.Timeout(), 5 * time.Second},
		{"debounce", cfg.Mover.Debounce(), 2 * time.Second},
		{"interval", cfg.Mover.Interval(), 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	base := t.TempDir()
	cfg := Default()
	cfg.BaseDir = base

	if got := cfg.ResolveBaseDir(); got != base {
		t.Errorf("ResolveBaseDir() = %q, want %q", got, base)
	}
	if got := cfg.ResolvePath("stop_streams.log"); got != filepath.Join(base, "stop_streams.log") {
		t.Errorf("ResolvePath(relative) = %q", got)
	}
	if got := cfg.ResolvePath("/var/log/x.log"); got != "/var/log/x.log" {
		t.Errorf("ResolvePath(absolute) = %q", got)
	}
	if got := cfg.ResolvePath(""); got != "" {
		t.Errorf("ResolvePath(empty) = %q", got)
	}
}

func TestResolveBaseDir_DefaultsToWorkingDir(t *testing.T) {
	cfg := Default()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.ResolveBaseDir(); got != wd {
		t.Errorf("ResolveBaseDir() = %q, want %q", got, wd)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/streamstop" {
			t.Errorf("ConfigDir() = %q", got)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "streamstop")
		if got := ConfigDir(); got != expected {
			t.Errorf("ConfigDir() = %q, want %q", got, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/streamstop/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Sessions.StreamPrefix != "rtsp_stream" {
		t.Errorf("Get().Sessions.StreamPrefix = %q", cfg.Sessions.StreamPrefix)
	}
}

func TestLoad_Overrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	viper.Set("num_streams", 4)
	viper.Set("terminate.grace_seconds", 8)
	viper.Set("selector.rules", []map[string]any{
		{"token": "ffmpeg", "weight": 90, "mode": "word"},
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NumStreams != 4 {
		t.Errorf("NumStreams = %d, want 4", cfg.NumStreams)
	}
	if cfg.Terminate.GraceSeconds != 8 {
		t.Errorf("GraceSeconds = %d, want 8", cfg.Terminate.GraceSeconds)
	}
	if len(cfg.Selector.Rules) != 1 || cfg.Selector.Rules[0].Token != "ffmpeg" || cfg.Selector.Rules[0].Weight != 90 {
		t.Errorf("Selector.Rules = %+v", cfg.Selector.Rules)
	}
}

func TestLoad_InvalidReturnsValidationErrors(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("num_streams", 0)

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 1 || verrs[0].Field != "num_streams" {
		t.Errorf("errors = %v", verrs)
	}

	// Get falls back to defaults on invalid configuration
	if cfg := Get(); cfg.NumStreams != 6 {
		t.Errorf("Get().NumStreams = %d, want default 6", cfg.NumStreams)
	}
}

func TestSetDefaults_LegacySweepEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv(LegacySweepEnv, "7")
	SetDefaults()

	if got := viper.GetInt("sweep.max_passes"); got != 7 {
		t.Errorf("sweep.max_passes = %d, want 7", got)
	}
}

func TestSetDefaults_LegacySweepEnvIgnoresGarbage(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv(LegacySweepEnv, "soon")
	SetDefaults()

	if got := viper.GetInt("sweep.max_passes"); got != 20 {
		t.Errorf("sweep.max_passes = %d, want 20", got)
	}
}
