// Command voxcal is the main entry point for the voice-to-calendar
// pipeline server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxcal/internal/app"
	"github.com/MrWong99/voxcal/internal/config"
	"github.com/MrWong99/voxcal/internal/observe"
	calgoogle "github.com/MrWong99/voxcal/pkg/provider/calendar/google"
	"github.com/MrWong99/voxcal/pkg/provider/filestore/gdrive"
	fslocal "github.com/MrWong99/voxcal/pkg/provider/filestore/local"
	"github.com/MrWong99/voxcal/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/voxcal/pkg/provider/llm/openai"
	smtpmailer "github.com/MrWong99/voxcal/pkg/provider/mailer/smtp"
	oaitranscriber "github.com/MrWong99/voxcal/pkg/provider/transcriber/openai"
	"github.com/MrWong99/voxcal/pkg/provider/transcriber/whisper"

	"github.com/MrWong99/voxcal/pkg/provider/calendar"
	"github.com/MrWong99/voxcal/pkg/provider/filestore"
	"github.com/MrWong99/voxcal/pkg/provider/llm"
	"github.com/MrWong99/voxcal/pkg/provider/mailer"
	"github.com/MrWong99/voxcal/pkg/provider/transcriber"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	once := flag.Bool("once", false, "execute a single pipeline run and exit")
	flag.Parse()

	// A .env file is optional; environment overrides still apply without one.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxcal: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxcal: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxcal starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxcal"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *once {
		summary, err := application.RunOnce(ctx)
		if err != nil {
			slog.Error("pipeline run failed", "err", err)
			return 1
		}
		slog.Info("pipeline run finished",
			"discovered", summary.Discovered, "done", summary.Done, "failed", summary.Failed)
		return shutdown(application)
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		_ = shutdown(application)
		return 1
	}

	slog.Info("shutdown signal received, stopping…")
	return shutdown(application)
}

func shutdown(application *app.App) int {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	return 0
}

// ── Providers ─────────────────────────────────────────────────────────────────

// buildProviders instantiates one provider per configured slot. Optional
// slots (transcriber fallback, mailer) stay nil when unconfigured.
func buildProviders(ctx context.Context, cfg *config.Config) (*app.Providers, error) {
	providers := &app.Providers{}
	var err error

	if providers.LLM, err = buildLLM(cfg.Providers.LLM); err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	if providers.Transcriber, err = buildTranscriber(cfg.Providers.Transcriber); err != nil {
		return nil, fmt.Errorf("transcriber: %w", err)
	}
	if cfg.Providers.TranscriberFallback.Name != "" {
		if providers.TranscriberFallback, err = buildTranscriber(cfg.Providers.TranscriberFallback); err != nil {
			return nil, fmt.Errorf("transcriber fallback: %w", err)
		}
	}
	if providers.Filestore, err = buildFilestore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	if providers.Calendar, err = buildCalendar(ctx, cfg.Providers.Calendar); err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	if cfg.Providers.Mailer.Name != "" {
		if providers.Mailer, err = buildMailer(cfg); err != nil {
			return nil, fmt.Errorf("mailer: %w", err)
		}
	}
	return providers, nil
}

func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	case "":
		return nil, errors.New("no provider configured")
	default:
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	}
}

func buildTranscriber(entry config.ProviderEntry) (transcriber.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []oaitranscriber.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitranscriber.WithBaseURL(entry.BaseURL))
		}
		return oaitranscriber.New(entry.APIKey, entry.Model, opts...)
	case "whisper":
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", entry.Name)
	}
}

func buildFilestore(ctx context.Context, cfg *config.Config) (filestore.Source, error) {
	entry := cfg.Providers.Filestore
	switch entry.Name {
	case "gdrive":
		var opts []gdrive.Option
		if tokenFile := entry.StringOption("token_file", ""); tokenFile != "" {
			opts = append(opts, gdrive.WithTokenFile(tokenFile))
		}
		return gdrive.New(ctx,
			entry.StringOption("client_id", ""),
			entry.StringOption("client_secret", ""),
			entry.StringOption("folder_id", ""),
			opts...)
	case "local":
		exts := []string{"." + cfg.Pipeline.AudioFormat}
		if extra := entry.StringOption("extensions", ""); extra != "" {
			exts = strings.Split(extra, ",")
		}
		return fslocal.New(entry.StringOption("dir", ""), exts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", entry.Name)
	}
}

func buildCalendar(ctx context.Context, entry config.ProviderEntry) (calendar.Provider, error) {
	switch entry.Name {
	case "google":
		var opts []calgoogle.Option
		if id := entry.StringOption("calendar_id", ""); id != "" {
			opts = append(opts, calgoogle.WithCalendarID(id))
		}
		if tokenFile := entry.StringOption("token_file", ""); tokenFile != "" {
			opts = append(opts, calgoogle.WithTokenFile(tokenFile))
		}
		return calgoogle.New(ctx,
			entry.StringOption("client_id", ""),
			entry.StringOption("client_secret", ""),
			opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", entry.Name)
	}
}

func buildMailer(cfg *config.Config) (mailer.Provider, error) {
	entry := cfg.Providers.Mailer
	switch entry.Name {
	case "smtp":
		var opts []smtpmailer.Option
		if user := entry.StringOption("username", ""); user != "" {
			host, _, _ := strings.Cut(entry.BaseURL, ":")
			opts = append(opts, smtpmailer.WithAuth(user, entry.APIKey, host))
		}
		return smtpmailer.New(entry.BaseURL, cfg.Notify.From, opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", entry.Name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Voxcal — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Transcriber", cfg.Providers.Transcriber.Name, cfg.Providers.Transcriber.Model)
	printProvider("Fallback", cfg.Providers.TranscriberFallback.Name, cfg.Providers.TranscriberFallback.Model)
	printProvider("Filestore", cfg.Providers.Filestore.Name, "")
	printProvider("Calendar", cfg.Providers.Calendar.Name, "")
	printProvider("Mailer", cfg.Providers.Mailer.Name, "")
	fmt.Printf("║  Schedule        : every %-13s ║\n", cfg.Pipeline.ScheduleInterval())
	fmt.Printf("║  Workers         : %-19d ║\n", cfg.Pipeline.Workers)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
