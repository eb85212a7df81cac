// Package config provides the configuration schema and loader for the
// voxcal pipeline server.
package config

import (
	"fmt"
	"time"
)

// LogLevel controls log verbosity for the voxcal server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxcal.
// It is typically loaded with [Load], which applies built-in defaults,
// environment variable overrides, and finally the YAML file, in
// increasing order of precedence.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Notify    NotifyConfig    `yaml:"notify"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the health/metrics endpoint listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection settings for the event store.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// PoolMin and PoolMax bound the pgx connection pool.
	PoolMin int `yaml:"pool_min"`
	PoolMax int `yaml:"pool_max"`

	// SSLMode is passed through to the connection string ("disable",
	// "require", ...). Empty means the driver default.
	SSLMode string `yaml:"ssl_mode"`
}

// DSN renders the pool connection string.
func (d DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.Name)
	if d.SSLMode != "" {
		dsn += "?sslmode=" + d.SSLMode
	}
	return dsn
}

// PipelineConfig tunes the orchestrator's scheduling and retry behaviour.
type PipelineConfig struct {
	// MaxRetries is the number of retry attempts allowed per external call
	// on transient failures.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelayBaseSeconds is the first retry delay; subsequent delays
	// double per attempt.
	RetryDelayBaseSeconds int `yaml:"retry_delay_base_seconds"`

	// ScheduleIntervalMinutes is the period between pipeline runs.
	ScheduleIntervalMinutes int `yaml:"schedule_interval_minutes"`

	// Workers bounds how many recordings are processed in parallel within
	// one run.
	Workers int `yaml:"workers"`

	// CallTimeoutSeconds caps each individual external call (download,
	// transcription, model completion, publish).
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`

	// AudioFormat is the expected recording container/extension, e.g.
	// "ogg" or "wav". Used to filter the file source listing.
	AudioFormat string `yaml:"audio_format"`

	// WorkDir is the scratch directory for downloaded audio. Empty means
	// the OS temp dir.
	WorkDir string `yaml:"work_dir"`
}

// RetryDelayBase returns the configured base delay as a duration.
func (p PipelineConfig) RetryDelayBase() time.Duration {
	return time.Duration(p.RetryDelayBaseSeconds) * time.Second
}

// ScheduleInterval returns the configured run period as a duration.
func (p PipelineConfig) ScheduleInterval() time.Duration {
	return time.Duration(p.ScheduleIntervalMinutes) * time.Minute
}

// CallTimeout returns the per-call timeout as a duration.
func (p PipelineConfig) CallTimeout() time.Duration {
	return time.Duration(p.CallTimeoutSeconds) * time.Second
}

// NotifyConfig controls the e-mail digest of newly stored events.
type NotifyConfig struct {
	// BatchSize is the maximum number of events included in one digest.
	BatchSize int `yaml:"batch_size"`

	// IntervalMinutes is the period between digest sends. The default of
	// one day matches a daily summary.
	IntervalMinutes int `yaml:"interval_minutes"`

	// From is the sender address.
	From string `yaml:"from"`

	// Recipients lists the digest's destination addresses.
	Recipients []string `yaml:"recipients"`
}

// Interval returns the digest period as a duration.
func (n NotifyConfig) Interval() time.Duration {
	return time.Duration(n.IntervalMinutes) * time.Minute
}

// ProvidersConfig declares which provider implementation to use for each
// external dependency of the pipeline.
type ProvidersConfig struct {
	LLM         ProviderEntry `yaml:"llm"`
	Transcriber ProviderEntry `yaml:"transcriber"`

	// TranscriberFallback, when named, is tried after the primary
	// transcriber fails terminally.
	TranscriberFallback ProviderEntry `yaml:"transcriber_fallback"`

	Filestore ProviderEntry `yaml:"filestore"`
	Calendar  ProviderEntry `yaml:"calendar"`
	Mailer    ProviderEntry `yaml:"mailer"`
}

// ProviderEntry is the common configuration block shared by all provider
// types.
type ProviderEntry struct {
	// Name selects the implementation (e.g., "openai", "whisper", "gdrive").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o",
	// "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above (e.g., gdrive folder id, smtp host).
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] as a string, or def when absent or
// not a string.
func (p ProviderEntry) StringOption(key, def string) string {
	if v, ok := p.Options[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// IntOption returns Options[key] as an int, or def when absent or not an
// integer. YAML decodes whole numbers as int.
func (p ProviderEntry) IntOption(key string, def int) int {
	if v, ok := p.Options[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return def
}
