// Command echocrafter listens for a wake word, captures the command that
// follows it and dispatches the recognised intent or transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/echocrafter/internal/app"
	"github.com/MrWong99/echocrafter/internal/config"
	"github.com/MrWong99/echocrafter/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	input := flag.String("input", "", "read frames from this WAV file instead of the configured source")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, *input)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "echocrafter: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "echocrafter: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	logger := newLogger(os.Stderr, cfg.Server.LogFormat, level)
	slog.SetDefault(logger)

	slog.Info("echocrafter starting",
		"config", *configPath,
		"source", cfg.Audio.Source,
		"format", cfg.Format().String(),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.TraceSampleRatio,
		Attributes: map[string]string{
			"audio.source": string(cfg.Audio.Source),
			"audio.format": cfg.Format().String(),
		},
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	opts := []app.Option{app.WithLogger(logger), app.WithLevelVar(level)}
	if *input == "" {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(ctx, cfg, reg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("listening; press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	st := application.Orchestrator().Stats()
	slog.Info("goodbye", "sessions", st.Sessions, "intents", st.Intents)
	return code
}

// loadConfig reads path and points the audio source at input when it is set.
// Hot reload is disabled for file input because the file replaces part of
// the config.
func loadConfig(path, input string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if input == "" {
		return cfg, nil
	}
	cfg.Audio.Source = config.SourceWAV
	cfg.Audio.WAVPath = input
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. level stays live so config reloads
// can change it.
func newLogger(w io.Writer, format config.LogFormat, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
