package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "terminate.grace_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateGeneral()...)
	errors = append(errors, c.validateSessions()...)
	errors = append(errors, c.validateSelector()...)
	errors = append(errors, c.validateTerminate()...)
	errors = append(errors, c.validateFinalize()...)
	errors = append(errors, c.validateSweep()...)
	errors = append(errors, c.validateAuxiliary()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateAPI()...)

	return errors
}

func (c *Config) validateGeneral() []ValidationError {
	var errors []ValidationError

	const maxStreams = 64
	if c.NumStreams < 1 || c.NumStreams > maxStreams {
		errors = append(errors, ValidationError{
			Field:   "num_streams",
			Value:   c.NumStreams,
			Message: fmt.Sprintf("must be between 1 and %d", maxStreams),
		})
	}

	if c.Profile == "" || strings.ContainsAny(c.Profile, `/\`) || c.Profile == ".." {
		errors = append(errors, ValidationError{
			Field:   "profile",
			Value:   c.Profile,
			Message: "must be a plain directory name",
		})
	}

	return errors
}

func (c *Config) validateSessions() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Sessions.StreamPrefix) == "" {
		errors = append(errors, ValidationError{
			Field:   "sessions.stream_prefix",
			Value:   c.Sessions.StreamPrefix,
			Message: "must not be empty",
		})
	}
	if strings.TrimSpace(c.Sessions.FileMoverName) == "" {
		errors = append(errors, ValidationError{
			Field:   "sessions.file_mover_name",
			Value:   c.Sessions.FileMoverName,
			Message: "must not be empty",
		})
	}
	if c.Sessions.StreamPrefix != "" && c.Sessions.StreamPrefix == c.Sessions.FileMoverName {
		errors = append(errors, ValidationError{
			Field:   "sessions.file_mover_name",
			Value:   c.Sessions.FileMoverName,
			Message: "must differ from sessions.stream_prefix",
		})
	}
	if c.Sessions.SettleSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "sessions.settle_seconds",
			Value:   c.Sessions.SettleSeconds,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateSelector() []ValidationError {
	var errors []ValidationError

	for i, r := range c.Selector.Rules {
		field := fmt.Sprintf("selector.rules[%d]", i)
		if strings.TrimSpace(r.Token) == "" {
			errors = append(errors, ValidationError{
				Field:   field + ".token",
				Value:   r.Token,
				Message: "must not be empty",
			})
		}
		if !slices.Contains(ValidMatchModes(), r.Mode) {
			errors = append(errors, ValidationError{
				Field:   field + ".mode",
				Value:   r.Mode,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidMatchModes(), ", ")),
			})
		}
		if r.Weight == 0 {
			errors = append(errors, ValidationError{
				Field:   field + ".weight",
				Value:   r.Weight,
				Message: "must be non-zero",
			})
		}
	}

	return errors
}

func (c *Config) validateTerminate() []ValidationError {
	var errors []ValidationError

	if c.Terminate.GraceSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "terminate.grace_seconds",
			Value:   c.Terminate.GraceSeconds,
			Message: "must be non-negative",
		})
	}
	if c.Terminate.PollIntervalMs < 10 {
		errors = append(errors, ValidationError{
			Field:   "terminate.poll_interval_ms",
			Value:   c.Terminate.PollIntervalMs,
			Message: "must be at least 10",
		})
	}

	return errors
}

func (c *Config) validateFinalize() []ValidationError {
	var errors []ValidationError

	if c.Finalize.Prefix == "" {
		errors = append(errors, ValidationError{
			Field:   "finalize.prefix",
			Value:   c.Finalize.Prefix,
			Message: "must not be empty",
		})
	}
	if len(c.Finalize.Extensions) == 0 {
		errors = append(errors, ValidationError{
			Field:   "finalize.extensions",
			Value:   c.Finalize.Extensions,
			Message: "must list at least one extension",
		})
	}
	for i, ext := range c.Finalize.Extensions {
		if ext == "" || strings.ContainsAny(ext, `./\`) {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("finalize.extensions[%d]", i),
				Value:   ext,
				Message: "must be a bare extension without dots or separators",
			})
		}
	}
	if c.Finalize.RequiredSamples < 1 {
		errors = append(errors, ValidationError{
			Field:   "finalize.required_samples",
			Value:   c.Finalize.RequiredSamples,
			Message: "must be at least 1",
		})
	}
	if c.Finalize.MaxSamples <= c.Finalize.RequiredSamples {
		errors = append(errors, ValidationError{
			Field:   "finalize.max_samples",
			Value:   c.Finalize.MaxSamples,
			Message: "must exceed finalize.required_samples (the first sample is the baseline)",
		})
	}
	if c.Finalize.SampleIntervalMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "finalize.sample_interval_ms",
			Value:   c.Finalize.SampleIntervalMs,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateSweep() []ValidationError {
	var errors []ValidationError

	if c.Sweep.MaxPasses < 1 {
		errors = append(errors, ValidationError{
			Field:   "sweep.max_passes",
			Value:   c.Sweep.MaxPasses,
			Message: "must be at least 1",
		})
	}
	if c.Sweep.PauseMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "sweep.pause_ms",
			Value:   c.Sweep.PauseMs,
			Message: "must be non-negative",
		})
	}
	if c.Sweep.MoverSettleSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "sweep.mover_settle_seconds",
			Value:   c.Sweep.MoverSettleSeconds,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateAuxiliary() []ValidationError {
	var errors []ValidationError

	if c.Auxiliary.MediaGraceSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "auxiliary.media_grace_seconds",
			Value:   c.Auxiliary.MediaGraceSeconds,
			Message: "must be non-negative",
		})
	}
	if c.Auxiliary.EnvTempFiles < 0 {
		errors = append(errors, ValidationError{
			Field:   "auxiliary.env_temp_files",
			Value:   c.Auxiliary.EnvTempFiles,
			Message: "must be non-negative",
		})
	}
	if c.Auxiliary.InterruptBudgetSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "auxiliary.interrupt_budget_seconds",
			Value:   c.Auxiliary.InterruptBudgetSeconds,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateAPI() []ValidationError {
	var errors []ValidationError

	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "api.base_url",
				Value:   c.API.BaseURL,
				Message: "must be an http(s) URL",
			})
		}
	}
	if c.API.TimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "api.timeout_seconds",
			Value:   c.API.TimeoutSeconds,
			Message: "must be at least 1",
		})
	}

	return errors
}
