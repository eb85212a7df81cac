package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"transcriber": {"openai", "whisper"},
	"filestore":   {"gdrive", "local"},
	"calendar":    {"google"},
	"mailer":      {"smtp"},
}

// Default returns the built-in configuration. Every loaded config starts
// from these values; file and environment settings overlay them.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			Name:    "voxcal",
			PoolMin: 2,
			PoolMax: 20,
		},
		Pipeline: PipelineConfig{
			MaxRetries:              3,
			RetryDelayBaseSeconds:   2,
			ScheduleIntervalMinutes: 30,
			Workers:                 4,
			CallTimeoutSeconds:      120,
			AudioFormat:             "ogg",
		},
		Notify: NotifyConfig{
			BatchSize:       100,
			IntervalMinutes: 24 * 60,
		},
	}
}

// Load builds the configuration in precedence order: built-in defaults,
// then VOXCAL_* environment variables, then the YAML file at path (the
// file wins). An empty path skips the file layer. The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	applyEnv(cfg)

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeInto(cfg, f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// environment, then validates the result. Useful in tests where configs
// are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	applyEnv(cfg)
	if err := decodeInto(cfg, r); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeInto overlays the YAML document in r onto cfg. Unknown fields
// are rejected so typos surface at startup.
func decodeInto(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// applyEnv overlays VOXCAL_* environment variables onto cfg. Only the
// operationally interesting knobs are exposed; everything else belongs
// in the file.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "VOXCAL_LISTEN_ADDR")
	if v := os.Getenv("VOXCAL_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}

	setString(&cfg.Database.Host, "VOXCAL_DB_HOST")
	setInt(&cfg.Database.Port, "VOXCAL_DB_PORT")
	setString(&cfg.Database.Name, "VOXCAL_DB_NAME")
	setString(&cfg.Database.User, "VOXCAL_DB_USER")
	setString(&cfg.Database.Password, "VOXCAL_DB_PASSWORD")
	setInt(&cfg.Database.PoolMin, "VOXCAL_DB_POOL_MIN")
	setInt(&cfg.Database.PoolMax, "VOXCAL_DB_POOL_MAX")

	setInt(&cfg.Pipeline.MaxRetries, "VOXCAL_MAX_RETRIES")
	setInt(&cfg.Pipeline.RetryDelayBaseSeconds, "VOXCAL_RETRY_DELAY_BASE_SECONDS")
	setInt(&cfg.Pipeline.ScheduleIntervalMinutes, "VOXCAL_SCHEDULE_INTERVAL_MINUTES")
	setInt(&cfg.Notify.BatchSize, "VOXCAL_NOTIFY_BATCH_SIZE")

	setString(&cfg.Providers.LLM.APIKey, "VOXCAL_LLM_API_KEY")
	setString(&cfg.Providers.Transcriber.APIKey, "VOXCAL_TRANSCRIBER_API_KEY")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-integer environment override", "key", key, "value", v)
		return
	}
	*dst = n
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Database — credentials are required at startup.
	if cfg.Database.Host == "" {
		errs = append(errs, errors.New("database.host is required"))
	}
	if cfg.Database.Name == "" {
		errs = append(errs, errors.New("database.name is required"))
	}
	if cfg.Database.User == "" {
		errs = append(errs, errors.New("database.user is required (set database.user or VOXCAL_DB_USER)"))
	}
	if cfg.Database.PoolMin < 0 {
		errs = append(errs, fmt.Errorf("database.pool_min %d must not be negative", cfg.Database.PoolMin))
	}
	if cfg.Database.PoolMax > 0 && cfg.Database.PoolMin > cfg.Database.PoolMax {
		errs = append(errs, fmt.Errorf("database.pool_min %d exceeds database.pool_max %d", cfg.Database.PoolMin, cfg.Database.PoolMax))
	}

	// Pipeline
	if cfg.Pipeline.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_retries %d must not be negative", cfg.Pipeline.MaxRetries))
	}
	if cfg.Pipeline.ScheduleIntervalMinutes <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.schedule_interval_minutes %d must be positive", cfg.Pipeline.ScheduleIntervalMinutes))
	}
	if cfg.Pipeline.Workers <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.workers %d must be positive", cfg.Pipeline.Workers))
	}

	// Notify
	if cfg.Notify.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("notify.batch_size %d must be positive", cfg.Notify.BatchSize))
	}
	if cfg.Providers.Mailer.Name != "" && cfg.Notify.From == "" {
		errs = append(errs, errors.New("notify.from is required when a mailer is configured"))
	}
	if cfg.Providers.Mailer.Name != "" && len(cfg.Notify.Recipients) == 0 {
		errs = append(errs, errors.New("notify.recipients must not be empty when a mailer is configured"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("transcriber", cfg.Providers.Transcriber.Name)
	validateProviderName("transcriber", cfg.Providers.TranscriberFallback.Name)
	validateProviderName("filestore", cfg.Providers.Filestore.Name)
	validateProviderName("calendar", cfg.Providers.Calendar.Name)
	validateProviderName("mailer", cfg.Providers.Mailer.Name)

	// Credentials for providers that need them. A configured remote
	// provider with no key fails closed rather than at the first run.
	if cfg.Providers.LLM.Name != "" && cfg.Providers.LLM.Name != "ollama" && cfg.Providers.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.llm.api_key is required for provider %q", cfg.Providers.LLM.Name))
	}
	if cfg.Providers.Transcriber.Name == "openai" && cfg.Providers.Transcriber.APIKey == "" {
		errs = append(errs, errors.New("providers.transcriber.api_key is required for provider \"openai\""))
	}

	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; transcripts cannot be parsed into events")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found
// in the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
