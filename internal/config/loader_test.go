package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/echocrafter/internal/config"
)

// validConfig returns a config that passes Validate after defaults.
func validConfig() *config.Config {
	cfg := &config.Config{
		Engines: config.EnginesConfig{
			WakeWord:    config.ProviderEntry{Name: "phrase"},
			VAD:         config.ProviderEntry{Name: "energy"},
			Intent:      config.ProviderEntry{Name: "speech"},
			Transcriber: config.ProviderEntry{Name: "whisper"},
			Resolver:    config.ProviderEntry{Name: "rules"},
			Grammar:     "grammar.yaml",
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"invalid log level", func(c *config.Config) { c.Server.LogLevel = "loud" }, "server.log_level"},
		{"invalid log format", func(c *config.Config) { c.Server.LogFormat = "xml" }, "server.log_format"},
		{"invalid source", func(c *config.Config) { c.Audio.Source = "alsa" }, "audio.source"},
		{"wav without path", func(c *config.Config) { c.Audio.Source = config.SourceWAV }, "audio.wav_path"},
		{"bad sample rate", func(c *config.Config) { c.Audio.SampleRate = -1 }, "audio:"},
		{"vad thresholds inverted", func(c *config.Config) {
			c.Orchestrator.VADLow, c.Orchestrator.VADHigh = 0.5, 0.2
		}, "vad thresholds"},
		{"vad above one", func(c *config.Config) { c.Orchestrator.VADHigh = 1.5 }, "vad thresholds"},
		{"negative endpoint", func(c *config.Config) { c.Orchestrator.EndpointSeconds = -1 }, "endpoint_seconds"},
		{"negative limit", func(c *config.Config) { c.Orchestrator.LimitSeconds = -1 }, "limit_seconds"},
		{"missing vad", func(c *config.Config) { c.Engines.VAD.Name = "" }, "engines.vad.name is required"},
		{"speech without resolver", func(c *config.Config) { c.Engines.Resolver.Name = "" }, "engines.resolver is required"},
		{"resolver without grammar", func(c *config.Config) { c.Engines.Grammar = "" }, "engines.grammar is required"},
		{"llm resolver without llm", func(c *config.Config) { c.Engines.Resolver.Name = "llm" }, "engines.llm is required"},
		{"llm fallbacks without llm", func(c *config.Config) {
			c.Engines.LLMFallbacks = []config.ProviderEntry{{Name: "ollama"}}
		}, "engines.llm_fallbacks"},
		{"nameless transcriber fallback", func(c *config.Config) {
			c.Engines.TranscriberFallbacks = []config.ProviderEntry{{}}
		}, "transcriber_fallbacks[0].name"},
		{"cue without player", func(c *config.Config) { c.Dispatch.Cues.Wake = "wake.wav" }, "dispatch.cues.player"},
		{"negative record keep", func(c *config.Config) { c.Dispatch.RecordKeep = -1 }, "dispatch.record_keep"},
		{"invalid journal driver", func(c *config.Config) {
			c.Journal = config.JournalConfig{Driver: "mysql", DSN: "x"}
		}, "journal.driver"},
		{"journal without dsn", func(c *config.Config) { c.Journal.Driver = config.JournalPostgres }, "journal.dsn"},
		{"sample ratio above one", func(c *config.Config) { c.Telemetry.TraceSampleRatio = 1.5 }, "telemetry.trace_sample_ratio"},
		{"unknown provider only warns", func(c *config.Config) { c.Engines.VAD.Name = "silero" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := config.Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Server.LogLevel = "loud"
	cfg.Engines.WakeWord.Name = ""
	cfg.Journal.Driver = "mysql"

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"server.log_level", "engines.wakeword.name", "journal.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q is missing %q", err, want)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{"wakeword", "vad", "intent", "transcriber", "resolver", "llm"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}
