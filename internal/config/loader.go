package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/echocrafter/pkg/audio"
)

// ValidProviderNames lists known provider names per engine slot.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"wakeword":    {"phrase"},
	"vad":         {"energy"},
	"intent":      {"speech"},
	"transcriber": {"whisper", "whisper-native", "deepgram"},
	"resolver":    {"rules", "llm"},
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Environment variables applied by [ApplyEnv].
const (
	EnvLogLevel       = "ECHOCRAFTER_LOG_LEVEL"
	EnvDeepgramAPIKey = "ECHOCRAFTER_DEEPGRAM_API_KEY"
	EnvOpenAIAPIKey   = "ECHOCRAFTER_OPENAI_API_KEY"
)

// apiKeyEnv maps provider names to the variable that supplies their API key
// when the config leaves it empty.
var apiKeyEnv = map[string]string{
	"deepgram": EnvDeepgramAPIKey,
	"openai":   EnvOpenAIAPIKey,
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with environment overrides and defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies the process
// environment and defaults, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides selected scalars from the environment. lookup is
// usually os.LookupEnv. API keys only fill entries that leave them empty.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	for _, p := range cfg.Engines.entries() {
		if p.APIKey != "" {
			continue
		}
		if key, ok := apiKeyEnv[p.Name]; ok {
			if v, ok := lookup(key); ok {
				p.APIKey = v
			}
		}
	}
}

// entries returns pointers to every provider entry, fallbacks included.
func (e *EnginesConfig) entries() []*ProviderEntry {
	out := []*ProviderEntry{&e.WakeWord, &e.VAD, &e.Intent, &e.Transcriber, &e.Resolver, &e.LLM}
	for i := range e.TranscriberFallbacks {
		out = append(out, &e.TranscriberFallbacks[i])
	}
	for i := range e.LLMFallbacks {
		out = append(out, &e.LLMFallbacks[i])
	}
	return out
}

// ApplyDefaults fills zero values with their defaults. It is idempotent.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}

	if cfg.Audio.Source == "" {
		cfg.Audio.Source = SourcePortAudio
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Audio.FrameLength == 0 {
		cfg.Audio.FrameLength = audio.DefaultFrameLength
	}

	o := &cfg.Orchestrator
	if o.RingSeconds == 0 {
		o.RingSeconds = 30
	}
	if o.PreRollFrames == 0 {
		o.PreRollFrames = 8
	}
	if o.IntentTimeoutSeconds == 0 {
		o.IntentTimeoutSeconds = 10
	}
	if o.EndpointSeconds == 0 {
		o.EndpointSeconds = 1.5
	}
	if o.MaxUtteranceSeconds == 0 {
		o.MaxUtteranceSeconds = 5
	}
	if o.VADLow == 0 && o.VADHigh == 0 {
		o.VADLow, o.VADHigh = 0.1, 0.12
	}

	d := &cfg.Dispatch
	if d.SocketTimeoutSeconds == 0 {
		d.SocketTimeoutSeconds = 2
	}
	if d.QueueSize == 0 {
		d.QueueSize = 64
	}
	if d.RecordDir != "" && d.RecordKeep == 0 {
		d.RecordKeep = 20
	}
	if d.NATS.URL != "" && d.NATS.Prefix == "" {
		d.NATS.Prefix = "echocrafter"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "echocrafter"
	}
	if cfg.Telemetry.TraceSampleRatio == 0 {
		cfg.Telemetry.TraceSampleRatio = 1
	}
}

// Format returns the audio format described by the audio section.
func (c *Config) Format() audio.Format {
	return audio.Format{SampleRate: c.Audio.SampleRate, FrameLength: c.Audio.FrameLength}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Audio
	if cfg.Audio.Source != "" && !cfg.Audio.Source.IsValid() {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: portaudio, wav", cfg.Audio.Source))
	}
	if cfg.Audio.Source == SourceWAV && cfg.Audio.WAVPath == "" {
		errs = append(errs, errors.New("audio.wav_path is required when audio.source is wav"))
	}
	if err := cfg.Format().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}

	// Orchestrator
	o := cfg.Orchestrator
	if o.VADLow < 0 || o.VADHigh > 1 || o.VADLow > o.VADHigh {
		errs = append(errs, fmt.Errorf("orchestrator: vad thresholds must satisfy 0 <= vad_low (%.2f) <= vad_high (%.2f) <= 1", o.VADLow, o.VADHigh))
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"ring_seconds", o.RingSeconds},
		{"intent_timeout_seconds", o.IntentTimeoutSeconds},
		{"endpoint_seconds", o.EndpointSeconds},
		{"max_utterance_seconds", o.MaxUtteranceSeconds},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("orchestrator.%s must not be negative", f.name))
		}
	}
	if o.LimitSeconds < 0 {
		errs = append(errs, errors.New("orchestrator.limit_seconds must not be negative"))
	}

	// Engines
	e := cfg.Engines
	for _, req := range []struct {
		kind string
		name string
	}{
		{"wakeword", e.WakeWord.Name},
		{"vad", e.VAD.Name},
		{"intent", e.Intent.Name},
		{"transcriber", e.Transcriber.Name},
	} {
		if req.name == "" {
			errs = append(errs, fmt.Errorf("engines.%s.name is required", req.kind))
		}
	}
	validateProviderName("wakeword", e.WakeWord.Name)
	validateProviderName("vad", e.VAD.Name)
	validateProviderName("intent", e.Intent.Name)
	validateProviderName("transcriber", e.Transcriber.Name)
	validateProviderName("resolver", e.Resolver.Name)
	validateProviderName("llm", e.LLM.Name)

	if e.Intent.Name == "speech" && e.Resolver.Name == "" {
		errs = append(errs, errors.New(`engines.resolver is required when engines.intent is "speech"`))
	}
	if e.Resolver.Name != "" && e.Grammar == "" {
		errs = append(errs, errors.New("engines.grammar is required when engines.resolver is set"))
	}
	if e.Resolver.Name == "llm" && e.LLM.Name == "" {
		errs = append(errs, errors.New(`engines.llm is required when engines.resolver is "llm"`))
	}
	if e.LLM.Name == "" && len(e.LLMFallbacks) > 0 {
		errs = append(errs, errors.New("engines.llm_fallbacks require engines.llm"))
	}
	for i, fb := range e.TranscriberFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("engines.transcriber_fallbacks[%d].name is required", i))
		}
		validateProviderName("transcriber", fb.Name)
	}
	for i, fb := range e.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("engines.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}

	// Dispatch
	if cfg.Dispatch.RecordKeep < 0 {
		errs = append(errs, errors.New("dispatch.record_keep must not be negative"))
	}
	if cfg.Dispatch.QueueSize < 0 {
		errs = append(errs, errors.New("dispatch.queue_size must not be negative"))
	}
	if cfg.Dispatch.Cues.Enabled() && cfg.Dispatch.Cues.Player == "" {
		errs = append(errs, errors.New("dispatch.cues.player is required when a cue file is set"))
	}

	// Journal
	if cfg.Journal.Driver != "" {
		if !cfg.Journal.Driver.IsValid() {
			errs = append(errs, fmt.Errorf("journal.driver %q is invalid; valid values: sqlite, postgres", cfg.Journal.Driver))
		}
		if cfg.Journal.DSN == "" {
			errs = append(errs, errors.New("journal.dsn is required when journal.driver is set"))
		}
	}

	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %.2f must be within (0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
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
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
